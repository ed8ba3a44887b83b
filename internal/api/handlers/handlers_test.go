package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/motor-proxy/internal/auth"
	"github.com/jmylchreest/motor-proxy/internal/http/mw"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/login"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

type staticExecutor struct {
	calls int
}

func (e *staticExecutor) Login(context.Context, login.ReportFunc) ([]models.Cookie, error) {
	e.calls++
	return []models.Cookie{{Name: "sid", Value: "abc", Domain: ".motor.com"}}, nil
}

func newManager(now time.Time) (*auth.Manager, *staticExecutor) {
	exec := &staticExecutor{}
	m := auth.NewManager(exec, nil, auth.Options{Now: func() time.Time { return now }}, logging.Discard())
	return m, exec
}

func TestHealth_BeforeAndAfterAuthentication(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, _ := newManager(completed)
	h := NewHealthHandler(manager)

	out, err := h.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if out.Body.Status != "ok" || out.Body.SessionValid || out.Body.LastAuth != nil {
		t.Errorf("before auth = %+v, want ok/false/nil", out.Body)
	}

	raw, _ := json.Marshal(out.Body)
	if string(raw) != `{"status":"ok","sessionValid":false,"lastAuth":null}` {
		t.Errorf("before auth JSON = %s", raw)
	}

	if err := manager.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	out, err = h.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !out.Body.SessionValid {
		t.Error("SessionValid = false after authentication")
	}
	if out.Body.LastAuth == nil || !out.Body.LastAuth.Equal(completed) {
		t.Errorf("LastAuth = %v, want %v", out.Body.LastAuth, completed)
	}
}

func TestAuthStatus(t *testing.T) {
	manager, _ := newManager(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := NewAuthHandler(manager, logging.Discard())

	out, err := h.Status(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Body.Status != models.AuthStatusIdle || out.Body.SessionValid {
		t.Errorf("initial status = %+v", out.Body)
	}

	if err := manager.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, _ = h.Status(context.Background(), nil)
	if out.Body.Status != models.AuthStatusSuccess || out.Body.Percent != 100 {
		t.Errorf("status after login = %q %d%%, want success 100%%", out.Body.Status, out.Body.Percent)
	}
	if !out.Body.SessionValid || out.Body.LastAuth == nil {
		t.Errorf("session fields = %v %v", out.Body.SessionValid, out.Body.LastAuth)
	}
}

func TestAuthStart_ThroughRouter(t *testing.T) {
	manager, exec := newManager(time.Now())
	health := NewHealthHandler(manager)
	authHandler := NewAuthHandler(manager, logging.Discard())

	secret := "s3cret"
	r := chi.NewRouter()
	RegisterPublic(humachi.New(r, NewConfig("test", true)), health, authHandler)
	r.Group(func(cr chi.Router) {
		cr.Use(mw.RequireControlToken(mw.AuthConfig{Secret: secret}))
		RegisterControl(humachi.New(cr, NewConfig("test", false)), authHandler)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/start", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated start status = %d, want 401", rec.Code)
	}

	token, err := mw.IssueControlToken(secret, "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var body models.AuthStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "started" {
		t.Errorf("status = %q, want started", body.Status)
	}

	manager.Wait()
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want 1", exec.calls)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var hb models.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hb); err != nil {
		t.Fatal(err)
	}
	if !hb.SessionValid {
		t.Error("health reports no session after /auth/start")
	}
}

type recordingSessions struct {
	reasons []string
}

func (r *recordingSessions) IsSessionValid() bool          { return false }
func (r *recordingSessions) LastAuth() *time.Time          { return nil }
func (r *recordingSessions) Progress() models.AuthProgress { return models.AuthProgress{} }
func (r *recordingSessions) InFlight() bool                { return false }
func (r *recordingSessions) Reauthenticate(reason string)  { r.reasons = append(r.reasons, reason) }

func TestAuthStart_NamesTokenSubject(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"no token", context.Background(), "control plane: anonymous"},
		{
			name: "verified token",
			ctx: context.WithValue(context.Background(), mw.ControlClaimsKey,
				&mw.ControlClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"}}),
			want: "control plane: ops",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &recordingSessions{}
			h := NewAuthHandler(sessions, logging.Discard())

			if _, err := h.Start(tt.ctx, nil); err != nil {
				t.Fatal(err)
			}
			if len(sessions.reasons) != 1 || sessions.reasons[0] != tt.want {
				t.Errorf("reasons = %q, want [%q]", sessions.reasons, tt.want)
			}
		})
	}
}
