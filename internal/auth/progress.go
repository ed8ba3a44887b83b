package auth

import (
	"sync"
	"time"

	"github.com/jmylchreest/motor-proxy/internal/models"
)

// Progress is the idle -> authenticating -> success|error state machine
// observed by /auth/status. Terminal states are only left through Reset.
type Progress struct {
	mu    sync.Mutex
	state models.AuthProgress
	now   func() time.Time
}

// NewProgress returns a Progress in the idle state.
func NewProgress(now func() time.Time) *Progress {
	if now == nil {
		now = time.Now
	}
	return &Progress{
		state: models.AuthProgress{Status: models.AuthStatusIdle},
		now:   now,
	}
}

// Reset returns to a fresh idle state.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = models.AuthProgress{Status: models.AuthStatusIdle}
}

// ResetIfSettled resets unless an attempt is currently authenticating.
func (p *Progress) ResetIfSettled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Status == models.AuthStatusAuthenticating {
		return false
	}
	p.state = models.AuthProgress{Status: models.AuthStatusIdle}
	return true
}

// Begin moves to authenticating.
func (p *Progress) Begin(attemptID, step, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	started := p.now()
	p.state = models.AuthProgress{
		Status:    models.AuthStatusAuthenticating,
		Step:      step,
		Message:   message,
		AttemptID: attemptID,
		StartedAt: &started,
	}
}

// Update records an intermediate step. Percent is clamped to 0..100 and
// never moves backwards. Ignored outside authenticating.
func (p *Progress) Update(step, message string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Status != models.AuthStatusAuthenticating {
		return
	}
	percent = max(0, min(percent, 100))
	if percent < p.state.Percent {
		percent = p.state.Percent
	}
	p.state.Step = step
	p.state.Message = message
	p.state.Percent = percent
}

// Succeed sets the terminal success state. It reports false when no attempt
// was authenticating.
func (p *Progress) Succeed(message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Status != models.AuthStatusAuthenticating {
		return false
	}
	done := p.now()
	p.state.Status = models.AuthStatusSuccess
	p.state.Step = "complete"
	p.state.Message = message
	p.state.Percent = 100
	p.state.CompletedAt = &done
	return true
}

// Fail sets the terminal error state.
func (p *Progress) Fail(errMsg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Status != models.AuthStatusAuthenticating {
		return false
	}
	done := p.now()
	p.state.Status = models.AuthStatusError
	p.state.Message = "authentication failed"
	p.state.Error = &errMsg
	p.state.CompletedAt = &done
	return true
}

// Snapshot returns a copy that shares no pointers with the live state.
func (p *Progress) Snapshot() models.AuthProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
