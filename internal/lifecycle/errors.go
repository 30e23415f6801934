package lifecycle

import (
	"errors"
	"fmt"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

// Sentinel errors.
var (
	// ErrInvalidTransition is returned when the target state is not
	// reachable in one step from the current state.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")

	// ErrContention is returned when another transition holds the record.
	ErrContention = errors.New("lifecycle: record is locked by another transition")
)

// TransitionError carries the rejected step.
type TransitionError struct {
	RecordID string
	From     hardware.Status
	To       hardware.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: invalid transition %s -> %s for record %s", e.From, e.To, e.RecordID)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsRetryable reports whether err is worth retrying after a short wait.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
