// Package mw contains HTTP middleware for the motor-proxy control plane.
package mw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/motor-proxy/internal/models"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ControlClaimsKey is the context key for verified control-token claims.
	ControlClaimsKey ContextKey = "control_claims"
)

// controlIssuer is stamped into and required of control tokens.
const controlIssuer = "motor-proxy"

// ControlClaims are the claims of an operator control token.
type ControlClaims struct {
	jwt.RegisteredClaims
}

// GetControlClaims retrieves control claims from context.
func GetControlClaims(ctx context.Context) *ControlClaims {
	claims, ok := ctx.Value(ControlClaimsKey).(*ControlClaims)
	if !ok {
		return nil
	}
	return claims
}

// AuthConfig holds configuration for the control-token middleware.
type AuthConfig struct {
	// Secret is the HS256 signing key. Empty disables the check.
	Secret string
	Logger *slog.Logger
}

// RequireControlToken returns middleware that requires a bearer token
// signed with cfg.Secret.
func RequireControlToken(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.Secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			claims, err := ValidateControlToken(cfg.Secret, token)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Debug("control token rejected", "error", err)
				}
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ControlClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// ValidateControlToken verifies an HS256 control token.
func ValidateControlToken(secret, tokenString string) (*ControlClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ControlClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(controlIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, &AuthError{Message: "invalid token", Err: err}
	}

	claims, ok := token.Claims.(*ControlClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueControlToken signs a control token for subject valid for ttl.
func IssueControlToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("control token secret is empty")
	}
	now := time.Now()
	claims := ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    controlIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeAuthError(w http.ResponseWriter, err error) {
	msg := "unauthorized"
	var authErr *AuthError
	if errors.As(err, &authErr) {
		msg = authErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="motor-proxy"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.NewProblem(http.StatusUnauthorized, "unauthorized", msg))
}

// Errors
var (
	ErrMissingToken = &AuthError{Message: "missing bearer token"}
	ErrInvalidToken = &AuthError{Message: "invalid token"}
	ErrTokenExpired = &AuthError{Message: "token expired"}
)

// AuthError represents an authentication error.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }
