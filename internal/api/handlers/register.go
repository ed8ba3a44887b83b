package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// NewConfig returns the huma configuration for the control plane. The
// $schema link is disabled so bodies match the documented shapes exactly.
// withDocs=false is for a second API sharing the router.
func NewConfig(version string, withDocs bool) huma.Config {
	config := huma.DefaultConfig("motor-proxy", version)
	config.Info.Description = "Session-keeping reverse proxy for the MOTOR vendor API"
	config.CreateHooks = nil
	if !withDocs {
		config.OpenAPIPath = ""
		config.DocsPath = ""
		config.SchemasPath = ""
	}
	return config
}

// RegisterPublic registers the unauthenticated read-only operations.
func RegisterPublic(api huma.API, health *HealthHandler, auth *AuthHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns liveness and whether an upstream session is cached",
		Tags:        []string{"Health"},
	}, health.Health)

	huma.Register(api, huma.Operation{
		OperationID: "authStatus",
		Method:      http.MethodGet,
		Path:        "/auth/status",
		Summary:     "Authentication progress",
		Description: "Returns the progress of the current or last login attempt",
		Tags:        []string{"Auth"},
	}, auth.Status)
}

// RegisterControl registers operations that change session state. The
// caller applies authentication and rate limiting to api's router.
func RegisterControl(api huma.API, auth *AuthHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "authStart",
		Method:      http.MethodPost,
		Path:        "/auth/start",
		Summary:     "Start a login",
		Description: "Starts an upstream login in the background and returns immediately",
		Tags:        []string{"Auth"},
	}, auth.Start)
}
