package hardware

import "errors"

// Domain errors for the hardware package.
//
//	if errors.Is(err, hardware.ErrIPInUse) {
//	    // another active record holds the address
//	}
var (
	// ErrRecordNotFound is returned when a record ID does not exist.
	ErrRecordNotFound = errors.New("hardware: record not found")

	// ErrRecordExists is returned when a record with the same ID or the same
	// (manufacturer, vendor_id) already exists.
	ErrRecordExists = errors.New("hardware: record already exists")

	// ErrIPInUse is returned when another active record holds the IP.
	ErrIPInUse = errors.New("hardware: ip in use by another active record")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("hardware: invalid record")

	// ErrCapacityViolation is returned for a channel outside [1, capacity]
	// on a record that is not capacity-exempt.
	ErrCapacityViolation = errors.New("hardware: channel outside capacity")

	// ErrSlotExists is returned when the (record, channel) slot already exists.
	ErrSlotExists = errors.New("hardware: channel slot already exists")

	// ErrSlotNotFound is returned when deleting a slot that does not exist.
	ErrSlotNotFound = errors.New("hardware: channel slot not found")

	// ErrCandidateExists is returned for a duplicate manual candidate.
	ErrCandidateExists = errors.New("hardware: candidate already exists")

	// ErrCandidateNotFound is returned when a candidate ID does not exist.
	ErrCandidateNotFound = errors.New("hardware: candidate not found")

	// ErrConflictNotFound is returned when resolving an unknown or already
	// resolved conflict.
	ErrConflictNotFound = errors.New("hardware: conflict not found")
)
