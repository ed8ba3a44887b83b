package models

import "time"

// AuthStatus is the phase of the authentication state machine.
type AuthStatus string

const (
	AuthStatusIdle           AuthStatus = "idle"
	AuthStatusAuthenticating AuthStatus = "authenticating"
	AuthStatusSuccess        AuthStatus = "success"
	AuthStatusError          AuthStatus = "error"
)

// AuthProgress is the observable state of the current or last login attempt.
type AuthProgress struct {
	Status      AuthStatus `json:"status" enum:"idle,authenticating,success,error"`
	Step        string     `json:"step"`
	Message     string     `json:"message"`
	Percent     int        `json:"percent" minimum:"0" maximum:"100"`
	Error       *string    `json:"error"`
	AttemptID   string     `json:"attemptId,omitempty"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}
