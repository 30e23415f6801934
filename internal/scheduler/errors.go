package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrInvalidTask is returned for a task without a name or a run function.
	ErrInvalidTask = errors.New("scheduler: invalid task")

	// ErrDuplicateTask is returned when adding a name that is already taken.
	ErrDuplicateTask = errors.New("scheduler: task already registered")

	// ErrUnknownTask is returned for a name that was never added.
	ErrUnknownTask = errors.New("scheduler: unknown task")

	// ErrTaskRunning is returned by RunNow while the task is in flight.
	ErrTaskRunning = errors.New("scheduler: task already running")

	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)
