// Package shutdown signals a graceful exit after a period without proxy
// traffic, for deployments that scale to zero and restore the session from
// a persistent store on the next start.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IdleConfig configures an IdleMonitor.
type IdleConfig struct {
	// Timeout of zero or less disables the monitor.
	Timeout time.Duration
	Logger  *slog.Logger

	// Passive identifies requests that do not count as activity. Nil means
	// DefaultPassive.
	Passive func(*http.Request) bool
	// Busy reports work that must not be cut short, such as a login in
	// flight. Nil means never busy.
	Busy func() bool

	// CheckInterval defaults to 10s.
	CheckInterval time.Duration
	Now           func() time.Time
}

// IdleMonitor closes Done once the server has been idle for Timeout.
type IdleMonitor struct {
	cfg      IdleConfig
	last     atomic.Int64 // unix nanos of the last activity
	active   atomic.Int64
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewIdleMonitor creates a monitor. Call Start to begin checking.
func NewIdleMonitor(cfg IdleConfig) *IdleMonitor {
	if cfg.Passive == nil {
		cfg.Passive = DefaultPassive
	}
	if cfg.Busy == nil {
		cfg.Busy = func() bool { return false }
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &IdleMonitor{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.touch()
	return m
}

// Enabled reports whether a timeout is configured.
func (m *IdleMonitor) Enabled() bool { return m.cfg.Timeout > 0 }

// Start begins periodic idle checks. It is a no-op when disabled.
func (m *IdleMonitor) Start() {
	if !m.Enabled() {
		return
	}
	m.cfg.Logger.Info("idle shutdown enabled", "timeout", m.cfg.Timeout)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if m.idle() {
					m.cfg.Logger.Info("idle timeout reached, shutting down", "idle", m.IdleFor().Round(time.Second))
					close(m.done)
					return
				}
			}
		}
	}()
}

// Stop ends the checks.
func (m *IdleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Done is closed when the idle timeout fires.
func (m *IdleMonitor) Done() <-chan struct{} { return m.done }

// idle reports whether the shutdown condition holds right now.
func (m *IdleMonitor) idle() bool {
	if m.active.Load() > 0 || m.cfg.Busy() {
		return false
	}
	return m.IdleFor() >= m.cfg.Timeout
}

// IdleFor returns the time since the last activity.
func (m *IdleMonitor) IdleFor() time.Duration {
	return m.cfg.Now().Sub(time.Unix(0, m.last.Load()))
}

func (m *IdleMonitor) touch() {
	m.last.Store(m.cfg.Now().UnixNano())
}

// Middleware records request activity.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.Passive(r) {
			next.ServeHTTP(w, r)
			return
		}
		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()
		next.ServeHTTP(w, r)
	})
}

// DefaultPassive treats health probes and status polling as passive.
func DefaultPassive(r *http.Request) bool {
	if strings.Contains(r.Header.Get("User-Agent"), "HealthCheck") {
		return true
	}
	switch r.URL.Path {
	case "/health", "/healthz", "/auth/status":
		return true
	}
	return false
}
