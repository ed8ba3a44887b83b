package shutdown

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/logging"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestIdleMonitor_Enabled(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    bool
	}{
		{time.Minute, true},
		{0, false},
		{-time.Second, false},
	}
	for _, tt := range tests {
		m := NewIdleMonitor(IdleConfig{Timeout: tt.timeout, Logger: logging.Discard()})
		if got := m.Enabled(); got != tt.want {
			t.Errorf("Enabled() with %s = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}

func TestIdleMonitor_Idle(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var busy atomic.Bool
	m := NewIdleMonitor(IdleConfig{
		Timeout: 5 * time.Minute,
		Logger:  logging.Discard(),
		Busy:    busy.Load,
		Now:     c.Now,
	})

	c.Advance(4 * time.Minute)
	if m.idle() {
		t.Error("idle after 4m with a 5m timeout")
	}

	c.Advance(2 * time.Minute)
	if !m.idle() {
		t.Error("not idle after 6m")
	}

	busy.Store(true)
	if m.idle() {
		t.Error("idle while a login is in flight")
	}
	busy.Store(false)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/years", nil))
	if m.idle() {
		t.Error("idle right after proxy traffic")
	}
	if m.IdleFor() != 0 {
		t.Errorf("IdleFor() = %s, want 0", m.IdleFor())
	}
}

func TestIdleMonitor_PassiveRequests(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewIdleMonitor(IdleConfig{Timeout: time.Minute, Logger: logging.Discard(), Now: c.Now})
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	c.Advance(2 * time.Minute)
	for _, path := range []string{"/health", "/auth/status"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	probe := httptest.NewRequest(http.MethodGet, "/api/v1/years", nil)
	probe.Header.Set("User-Agent", "Fly-HealthCheck/1.0")
	h.ServeHTTP(httptest.NewRecorder(), probe)

	if !m.idle() {
		t.Error("passive requests reset the idle timer")
	}
}

func TestIdleMonitor_ActiveRequestBlocksShutdown(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewIdleMonitor(IdleConfig{Timeout: time.Minute, Logger: logging.Discard(), Now: c.Now})

	inside := make(chan struct{})
	release := make(chan struct{})
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inside)
		<-release
	}))

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/years", nil))
	<-inside

	c.Advance(10 * time.Minute)
	if m.idle() {
		t.Error("idle with a request in progress")
	}
	close(release)
}

func TestIdleMonitor_StartFires(t *testing.T) {
	m := NewIdleMonitor(IdleConfig{
		Timeout:       10 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
		Logger:        logging.Discard(),
	})
	m.Start()
	defer m.Stop()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle shutdown did not fire")
	}
}

func TestIdleMonitor_StopWithoutStart(t *testing.T) {
	m := NewIdleMonitor(IdleConfig{Logger: logging.Discard()})
	m.Start()
	m.Stop()
	m.Stop()

	select {
	case <-m.Done():
		t.Error("Done closed for a disabled monitor")
	default:
	}
}
