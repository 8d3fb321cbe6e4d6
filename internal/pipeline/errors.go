package pipeline

import (
	"context"
	"errors"
	"fmt"

	"amscli/internal/gateway"
	"amscli/internal/session"
)

// PhaseError wraps a failure with the phase and attempt it happened on.
type PhaseError struct {
	Phase   string
	Attempt int
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s attempt %d: %v", e.Phase, e.Attempt, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// Credential rejections and operator-held locks fail the same way every
// time; cancellation means the run is over. Everything else (timeouts,
// flaky exports, incomplete downloads) is worth retrying.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, session.ErrLoginFailed):
		return false
	case errors.Is(err, gateway.ErrWorkbookLocked):
		return false
	case errors.Is(err, gateway.ErrUnknownTarget):
		return false
	default:
		return true
	}
}
