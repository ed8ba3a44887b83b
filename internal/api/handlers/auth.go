package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/motor-proxy/internal/http/mw"
	"github.com/jmylchreest/motor-proxy/internal/logging"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

// Reauthenticator starts a detached login.
type Reauthenticator interface {
	SessionState
	Reauthenticate(reason string)
	InFlight() bool
}

// AuthHandler serves the authentication status and trigger operations.
type AuthHandler struct {
	sessions Reauthenticator
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(sessions Reauthenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

// AuthStatusOutput is the output wrapper for Huma.
type AuthStatusOutput struct {
	Body models.AuthStatusResponse
}

// Status returns the current or last login attempt's progress.
func (h *AuthHandler) Status(ctx context.Context, _ *struct{}) (*AuthStatusOutput, error) {
	return &AuthStatusOutput{Body: models.AuthStatusResponse{
		AuthProgress: h.sessions.Progress(),
		SessionValid: h.sessions.IsSessionValid(),
		LastAuth:     h.sessions.LastAuth(),
	}}, nil
}

// AuthStartOutput is the output wrapper for Huma.
type AuthStartOutput struct {
	Body models.AuthStartResponse
}

// Start kicks off a login and returns without waiting. A call made while an
// attempt is running joins it.
func (h *AuthHandler) Start(ctx context.Context, _ *struct{}) (*AuthStartOutput, error) {
	subject := requestedBy(ctx)
	logging.FromContext(ctx, h.logger).Info("login requested via control plane",
		"subject", subject,
		"in_flight", h.sessions.InFlight(),
	)
	h.sessions.Reauthenticate("control plane: " + subject)
	return &AuthStartOutput{Body: models.AuthStartResponse{Status: "started"}}, nil
}

// requestedBy names the operator from the verified control token. Without
// one (no secret configured) the caller is anonymous.
func requestedBy(ctx context.Context) string {
	if claims := mw.GetControlClaims(ctx); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}
