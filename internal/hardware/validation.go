package hardware

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength = 200
	maxFieldLen   = 128
	maxCapacity   = 4096
)

var (
	validRoles    map[Role]struct{}
	validStatuses map[Status]struct{}
)

func init() {
	validRoles = make(map[Role]struct{}, len(AllRoles))
	for _, r := range AllRoles {
		validRoles[r] = struct{}{}
	}
	validStatuses = make(map[Status]struct{}, len(AllStatuses))
	for _, s := range AllStatuses {
		validStatuses[s] = struct{}{}
	}
}

// ValidateRecord checks a record before it is written.
// Returns an error wrapping ErrInvalidRecord describing the first problem.
func ValidateRecord(r *Record) error {
	if r == nil {
		return ErrInvalidRecord
	}
	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err != nil {
			return fmt.Errorf("%w: id %q is not a uuid", ErrInvalidRecord, r.ID)
		}
	}
	if strings.TrimSpace(r.Manufacturer) == "" {
		return fmt.Errorf("%w: manufacturer is required", ErrInvalidRecord)
	}
	if r.VendorID == "" && r.IP == "" {
		return fmt.Errorf("%w: vendor id or ip is required", ErrInvalidRecord)
	}
	if r.IP != "" {
		if _, err := netip.ParseAddr(r.IP); err != nil {
			return fmt.Errorf("%w: ip %q: %w", ErrInvalidRecord, r.IP, err)
		}
	}
	if _, ok := validRoles[r.Role]; !ok {
		return fmt.Errorf("%w: role %q", ErrInvalidRecord, r.Role)
	}
	if _, ok := validStatuses[r.Status]; !ok {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, r.Status)
	}
	if r.Capacity < 0 || r.Capacity > maxCapacity {
		return fmt.Errorf("%w: capacity %d out of range [0, %d]", ErrInvalidRecord, r.Capacity, maxCapacity)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRecord, maxNameLength)
	}
	for field, v := range map[string]string{
		"vendor_id": r.VendorID,
		"serial":    r.Serial,
		"mac":       r.MAC,
		"model":     r.Model,
		"firmware":  r.FirmwareVersion,
	} {
		if len(v) > maxFieldLen {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidRecord, field, maxFieldLen)
		}
	}
	return nil
}

// ValidateChannel rejects channel numbers outside [1, capacity] unless the
// record is capacity-exempt. Channel numbers below 1 are always rejected.
func ValidateChannel(r *Record, channel int) error {
	if channel < 1 {
		return fmt.Errorf("%w: channel %d below 1", ErrCapacityViolation, channel)
	}
	if r.CapacityExempt {
		return nil
	}
	if channel > r.Capacity {
		return fmt.Errorf("%w: channel %d exceeds capacity %d", ErrCapacityViolation, channel, r.Capacity)
	}
	return nil
}
