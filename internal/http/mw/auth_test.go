package mw

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "control-secret"

func TestIssueAndValidateControlToken(t *testing.T) {
	token, err := IssueControlToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueControlToken() error = %v", err)
	}

	claims, err := ValidateControlToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateControlToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops")
	}
	if claims.Issuer != "motor-proxy" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "motor-proxy")
	}

	if _, err := IssueControlToken("", "ops", time.Hour); err == nil {
		t.Error("IssueControlToken() with empty secret should fail")
	}
}

func TestValidateControlToken_Rejects(t *testing.T) {
	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Issuer:    "motor-proxy",
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "wrong secret",
			token:   sign(jwt.SigningMethodHS256, []byte("other"), valid),
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer:    "motor-proxy",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			wantErr: ErrTokenExpired,
		},
		{
			name: "no expiry",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer: "motor-proxy",
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "none algorithm",
			token:   sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateControlToken(testSecret, tt.token)
			if err == nil {
				t.Fatal("expected error")
			}
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error %v is not an *AuthError", err)
			}
			if authErr.Message != tt.wantErr.(*AuthError).Message {
				t.Errorf("Message = %q, want %q", authErr.Message, tt.wantErr.(*AuthError).Message)
			}
		})
	}
}

func TestRequireControlToken(t *testing.T) {
	token, err := IssueControlToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var subject string
	handler := RequireControlToken(AuthConfig{Secret: testSecret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetControlClaims(r.Context()); claims != nil {
			subject = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodPost, "/auth/start", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && subject != "ops" {
				t.Errorf("claims subject = %q, want %q", subject, "ops")
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestRequireControlToken_Disabled(t *testing.T) {
	called := false
	handler := RequireControlToken(AuthConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/start", nil))
	if !called {
		t.Error("handler not called when no secret is configured")
	}
}

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/start", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	other := httptest.NewRequest(http.MethodPost, "/auth/start", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	codes = append(codes, rec.Code)

	want := []int{200, 200, 429, 200}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
}
