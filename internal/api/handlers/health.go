// Package handlers implements the control-plane HTTP operations.
package handlers

import (
	"context"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/models"
)

// SessionState is the read side of the auth manager.
type SessionState interface {
	IsSessionValid() bool
	LastAuth() *time.Time
	Progress() models.AuthProgress
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	sessions SessionState
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions SessionState) *HealthHandler {
	return &HealthHandler{sessions: sessions}
}

// HealthOutput is the output wrapper for Huma.
type HealthOutput struct {
	Body models.HealthResponse
}

// Health reports process liveness and whether a session is cached. It never
// triggers a login.
func (h *HealthHandler) Health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: models.HealthResponse{
		Status:       "ok",
		SessionValid: h.sessions.IsSessionValid(),
		LastAuth:     h.sessions.LastAuth(),
	}}, nil
}
