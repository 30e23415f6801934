package vendorapi

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrAdapter wraps failures talking to a vendor API.
	ErrAdapter = errors.New("vendor: adapter call failed")

	// ErrNotConfigured is returned for a manufacturer without a usable
	// adapter configuration.
	ErrNotConfigured = errors.New("vendor: adapter not configured")

	// ErrUnknownKind is returned for an adapter kind with no constructor.
	ErrUnknownKind = errors.New("vendor: unknown adapter kind")
)

// Error is a failed adapter call.
type Error struct {
	Manufacturer string
	Op           string
	// StatusCode is the HTTP status, when there was one.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor %s: %s: status %d: %v", e.Manufacturer, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vendor %s: %s: %v", e.Manufacturer, e.Op, e.Err)
}

// Unwrap matches both ErrAdapter and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrAdapter, e.Err}
}
