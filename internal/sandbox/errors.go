package sandbox

import (
	"errors"
	"fmt"
)

// TimeoutExitCode is the conventional sentinel for a timed-out run.
const TimeoutExitCode = 124

// Sentinel errors for typed error checking.
var (
	ErrInvalidRequest     = errors.New("invalid execution request")
	ErrRuntimeUnavailable = errors.New("isolation runtime unavailable")
	ErrUnsupportedBackend = errors.New("unsupported sandbox backend")
)

// ExecutionError wraps setup errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsRuntimeUnavailable reports whether the isolation mechanism could not be
// reached at all, as opposed to a run that started and failed.
func IsRuntimeUnavailable(err error) bool {
	return errors.Is(err, ErrRuntimeUnavailable)
}
