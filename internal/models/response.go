package models

import (
	"net/http"
	"time"
)

// Problem is the error body written by the proxy gateway.
type Problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Status  int    `json:"status"`
}

// NewProblem builds a problem body for status with a short error code.
func NewProblem(status int, code, message string) Problem {
	return Problem{
		Error:   code,
		Message: message,
		Type:    "about:blank",
		Title:   http.StatusText(status),
		Status:  status,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string     `json:"status"`
	SessionValid bool       `json:"sessionValid"`
	LastAuth     *time.Time `json:"lastAuth"`
}

// AuthStatusResponse is returned by GET /auth/status.
type AuthStatusResponse struct {
	AuthProgress
	SessionValid bool       `json:"sessionValid"`
	LastAuth     *time.Time `json:"lastAuth"`
}

// AuthStartResponse is returned by POST /auth/start.
type AuthStartResponse struct {
	Status string `json:"status"`
}

// AuthPendingResponse replaces an upstream 401/403 body when the gateway
// runs in substitute mode.
type AuthPendingResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	StatusURL  string `json:"statusUrl"`
	RetryAfter int    `json:"retryAfter"`
}

// DTCHeader and DTCListResponse mirror the vendor envelope for the
// diagnostic trouble code listing answered locally.
type DTCHeader struct {
	Status     string   `json:"status"`
	StatusCode int      `json:"statusCode"`
	Date       string   `json:"date"`
	Messages   []string `json:"messages"`
}

type DTCListBody struct {
	Total int   `json:"total"`
	DTCs  []any `json:"dtcs"`
}

type DTCListResponse struct {
	Header DTCHeader   `json:"header"`
	Body   DTCListBody `json:"body"`
}

// EmptyDTCList returns the canned empty listing stamped with now.
func EmptyDTCList(now time.Time) DTCListResponse {
	return DTCListResponse{
		Header: DTCHeader{
			Status:     "OK",
			StatusCode: http.StatusOK,
			Date:       now.UTC().Format(http.TimeFormat),
			Messages:   []string{},
		},
		Body: DTCListBody{Total: 0, DTCs: []any{}},
	}
}
