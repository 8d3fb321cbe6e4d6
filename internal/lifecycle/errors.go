package lifecycle

import "fmt"

// FailureReason classifies why a download set was rejected.
type FailureReason string

const (
	// ReasonTimeout means the files did not all arrive before the deadline.
	ReasonTimeout FailureReason = "timeout"
	// ReasonIncompleteCount means fewer files than expected were present.
	ReasonIncompleteCount FailureReason = "incomplete_count"
	// ReasonZeroLength means a file arrived but is empty.
	ReasonZeroLength FailureReason = "zero_length"
	// ReasonPartial means a browser partial-download artifact is still present.
	ReasonPartial FailureReason = "partial_artifact"
)

// ValidationError reports a failed download validation with enough detail
// for the orchestrator to decide whether a retry is worthwhile.
type ValidationError struct {
	Reason  FailureReason
	Missing []string
	Path    string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTimeout, ReasonIncompleteCount:
		return fmt.Sprintf("download validation failed (%s): missing %v", e.Reason, e.Missing)
	default:
		return fmt.Sprintf("download validation failed (%s): %s", e.Reason, e.Path)
	}
}

// NewValidationError builds a ValidationError for the given reason.
func NewValidationError(reason FailureReason, missing []string, path string) *ValidationError {
	return &ValidationError{Reason: reason, Missing: missing, Path: path}
}
