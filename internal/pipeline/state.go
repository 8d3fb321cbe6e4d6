package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// PhaseState tracks one phase's progress. It is safe for concurrent use;
// the orchestrator writes from the phase goroutine while observers read.
type PhaseState struct {
	mu        sync.RWMutex
	name      string
	status    Status
	attempt   int
	files     []string
	err       error
	startedAt time.Time
	endedAt   time.Time
}

// NewPhaseState creates a pending state for the named phase.
func NewPhaseState(name string) *PhaseState {
	return &PhaseState{name: name, status: StatusPending}
}

// Name returns the phase name.
func (p *PhaseState) Name() string { return p.name }

// Status returns the current status.
func (p *PhaseState) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Attempt returns the current attempt number, starting at 1.
func (p *PhaseState) Attempt() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempt
}

// Files returns the files the phase delivered, set on success.
func (p *PhaseState) Files() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.files...)
}

// Err returns the terminal error, set on failure.
func (p *PhaseState) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Duration returns how long the phase ran, or the elapsed time so far when
// it is still running.
func (p *PhaseState) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.startedAt.IsZero() {
		return 0
	}
	if p.endedAt.IsZero() {
		return time.Since(p.startedAt)
	}
	return p.endedAt.Sub(p.startedAt)
}

// Start moves the phase to Running for its first attempt.
func (p *PhaseState) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(StatusRunning); err != nil {
		return err
	}
	p.attempt = 1
	p.startedAt = time.Now()
	return nil
}

// Retry moves the phase to Retrying and bumps the attempt counter.
func (p *PhaseState) Retry() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(StatusRetrying); err != nil {
		return err
	}
	p.attempt++
	return nil
}

// Resume moves a retrying phase back to Running for its next attempt.
func (p *PhaseState) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(StatusRunning)
}

// Complete marks the phase Succeeded with the files it delivered.
func (p *PhaseState) Complete(files []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(StatusSucceeded); err != nil {
		return err
	}
	p.files = append([]string(nil), files...)
	p.endedAt = time.Now()
	return nil
}

// Fail marks the phase Failed with its terminal error.
func (p *PhaseState) Fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if terr := p.transition(StatusFailed); terr != nil {
		return terr
	}
	p.err = err
	p.endedAt = time.Now()
	return nil
}

// transition enforces forward-only movement. Callers hold the lock.
func (p *PhaseState) transition(to Status) error {
	if p.status.Terminal() {
		return fmt.Errorf("phase %s: invalid transition %s -> %s", p.name, p.status, to)
	}
	if to.rank() < p.status.rank() {
		return fmt.Errorf("phase %s: invalid transition %s -> %s", p.name, p.status, to)
	}
	p.status = to
	return nil
}
