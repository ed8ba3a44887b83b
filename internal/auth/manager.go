// Package auth owns the upstream session: validity, single-flight login and
// the observable progress of the current attempt.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/login"
	"github.com/jmylchreest/motor-proxy/internal/models"
	"github.com/jmylchreest/motor-proxy/internal/store"
)

// DefaultMaxSessionAge is how long a captured session is trusted.
const DefaultMaxSessionAge = 24 * time.Hour

const flightKey = "authenticate"

// ErrNoCookies is returned when a login finished without producing cookies.
var ErrNoCookies = errors.New("login produced no cookies")

// Executor performs one login handshake and returns the vendor cookies.
type Executor interface {
	Login(ctx context.Context, report login.ReportFunc) ([]models.Cookie, error)
}

// HandshakeError wraps any failure of a login attempt. Every caller waiting
// on the attempt receives the same value.
type HandshakeError struct {
	AttemptID string
	Step      string
	Err       error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("login handshake failed at %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Options configures a Manager.
type Options struct {
	SessionID     string
	MaxSessionAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is the single authority on the upstream session. Construct one per
// process and share it.
type Manager struct {
	mu       sync.RWMutex
	session  models.Session
	lastAuth *time.Time

	progress *Progress
	group    singleflight.Group
	inFlight atomic.Int32
	bg       sync.WaitGroup

	executor  Executor
	store     store.Store
	sessionID string
	maxAge    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a Manager. st may be nil for memory-only operation.
func NewManager(executor Executor, st store.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.MaxSessionAge <= 0 {
		opts.MaxSessionAge = DefaultMaxSessionAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionID == "" {
		opts.SessionID = "motor-session"
	}
	return &Manager{
		progress:  NewProgress(opts.Now),
		executor:  executor,
		store:     st,
		sessionID: opts.SessionID,
		maxAge:    opts.MaxSessionAge,
		now:       opts.Now,
		logger:    logger,
	}
}

// IsSessionValid reports whether the cached session is usable right now.
func (m *Manager) IsSessionValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Valid(m.now(), m.maxAge)
}

// LoadSession replaces an invalid in-memory session with the stored record,
// if any, and reports whether the session is now valid. Store failures count
// as a miss.
func (m *Manager) LoadSession(ctx context.Context) bool {
	if m.store == nil {
		return false
	}

	rec, err := m.store.Get(ctx, m.sessionID)
	if err != nil {
		logging.FromContext(ctx, m.logger).Warn("failed to load persisted session", "error", err)
		return false
	}
	if rec == nil {
		return false
	}

	loaded := rec.Session()
	now := m.now()
	valid := loaded.Valid(now, m.maxAge)

	m.mu.Lock()
	// A login may have finished while the store read was in flight.
	if m.session.Valid(now, m.maxAge) {
		m.mu.Unlock()
		return true
	}
	m.session = loaded
	if valid && m.lastAuth == nil {
		ts := loaded.Timestamp
		m.lastAuth = &ts
	}
	m.mu.Unlock()

	m.logger.Info("loaded persisted session",
		"cookies", len(loaded.Cookies),
		"age", now.Sub(loaded.Timestamp).Round(time.Second),
		"valid", valid,
	)
	return valid
}

// SaveSession writes the current session to the store. Failures are logged
// and returned but never affect the in-memory session.
func (m *Manager) SaveSession(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.RLock()
	rec := &models.PersistedSession{
		Cookies:   append([]models.Cookie(nil), m.session.Cookies...),
		Timestamp: m.session.Timestamp,
		UpdatedAt: m.now(),
	}
	m.mu.RUnlock()

	if err := m.store.Set(ctx, m.sessionID, rec); err != nil {
		logging.FromContext(ctx, m.logger).Warn("failed to persist session", "error", err)
		return err
	}
	return nil
}

// Authenticate runs a login handshake, or joins the one already running.
// A caller whose ctx ends stops waiting, but the attempt carries on for the
// others.
func (m *Manager) Authenticate(ctx context.Context) error {
	ch := m.group.DoChan(flightKey, func() (any, error) {
		return nil, m.attempt(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) attempt(ctx context.Context) error {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	attemptID := ulid.Make().String()
	ctx = logging.WithAttemptID(ctx, attemptID)
	logger := logging.FromContext(ctx, m.logger)

	m.progress.Reset()
	m.progress.Begin(attemptID, "start", "starting login")
	logger.Info("authentication started")

	step := "start"
	report := func(s, msg string, pct int) {
		step = s
		m.progress.Update(s, msg, pct)
	}

	started := m.now()
	cookies, err := m.executor.Login(ctx, report)
	if err == nil && len(cookies) == 0 {
		err = ErrNoCookies
	}
	if err != nil {
		herr := &HandshakeError{AttemptID: attemptID, Step: step, Err: err}
		m.progress.Fail(herr.Error())
		logger.Error("authentication failed", "step", step, "error", err)
		return herr
	}

	completed := m.now()
	m.mu.Lock()
	m.session = models.Session{
		Cookies:   append([]models.Cookie(nil), cookies...),
		Timestamp: completed,
	}
	m.lastAuth = &completed
	m.mu.Unlock()

	_ = m.SaveSession(ctx)

	m.progress.Succeed(fmt.Sprintf("session established with %d cookies", len(cookies)))
	logger.Info("authentication succeeded",
		"cookies", len(cookies),
		"duration", completed.Sub(started).Round(time.Millisecond),
	)
	return nil
}

// InvalidateSession drops the session in memory and in the store. Repeated
// calls leave the same state.
func (m *Manager) InvalidateSession(ctx context.Context) {
	m.mu.Lock()
	had := len(m.session.Cookies) > 0
	m.session = models.Session{}
	m.mu.Unlock()

	m.progress.ResetIfSettled()

	if m.store != nil {
		if err := m.store.Delete(ctx, m.sessionID); err != nil {
			logging.FromContext(ctx, m.logger).Warn("failed to delete persisted session", "error", err)
		}
	}
	if had {
		logging.FromContext(ctx, m.logger).Info("session invalidated")
	}
}

// CookieHeader returns the Cookie header for upstream requests,
// authenticating first when the session is not valid.
func (m *Manager) CookieHeader(ctx context.Context) (string, error) {
	if !m.IsSessionValid() {
		if err := m.Authenticate(ctx); err != nil {
			return "", err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.CookieHeader(), nil
}

// EnsureSession makes the session valid: first from memory, then from the
// store, then by logging in.
func (m *Manager) EnsureSession(ctx context.Context) error {
	if m.IsSessionValid() {
		return nil
	}
	if m.LoadSession(ctx) {
		return nil
	}
	return m.Authenticate(ctx)
}

// Reauthenticate starts a login in the background. Errors are only logged;
// overlapping calls share one attempt.
func (m *Manager) Reauthenticate(reason string) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if err := m.Authenticate(context.Background()); err != nil {
			m.logger.Error("background re-authentication failed", "reason", reason, "error", err)
			return
		}
		m.logger.Info("background re-authentication finished", "reason", reason)
	}()
}

// Wait blocks until background attempts started by Reauthenticate return.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Progress returns a copy of the current progress.
func (m *Manager) Progress() models.AuthProgress {
	return m.progress.Snapshot()
}

// LastAuth returns the completion time of the last successful login, or nil.
func (m *Manager) LastAuth() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastAuth == nil {
		return nil
	}
	t := *m.lastAuth
	return &t
}

// Session returns a copy of the cached session.
func (m *Manager) Session() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// InFlight reports whether a login attempt is running.
func (m *Manager) InFlight() bool {
	return m.inFlight.Load() > 0
}
