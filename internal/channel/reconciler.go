// Package channel keeps a record's RF channel slots aligned with its
// capacity.
//
// The expected slot set for a record is {1..capacity}. Missing slots are
// created free, with a link direction derived from the record's role.
// Slots above capacity are deleted unless the record is capacity-exempt,
// in which case extra slots negotiated at runtime are left alone.
package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

// Result counts the slots changed by one reconcile.
type Result struct {
	Created int
	Deleted int
}

// Changed reports whether anything was created or deleted.
func (r Result) Changed() bool {
	return r.Created > 0 || r.Deleted > 0
}

// Logger is the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Reconciler creates and deletes channel slots.
type Reconciler struct {
	slots  hardware.ChannelRepository
	logger Logger
}

// NewReconciler creates a Reconciler over the given slot repository.
func NewReconciler(slots hardware.ChannelRepository) *Reconciler {
	return &Reconciler{slots: slots, logger: noopLogger{}}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// ValidateSlot rejects channel numbers outside [1, capacity] for
// non-exempt records with hardware.ErrCapacityViolation.
func ValidateSlot(rec *hardware.Record, channel int) error {
	return hardware.ValidateChannel(rec, channel)
}

// Plan computes the channels to create and delete for rec given the
// channel numbers it currently owns. Both slices are ascending.
func Plan(rec *hardware.Record, current []int) (create, remove []int) {
	have := make(map[int]struct{}, len(current))
	for _, ch := range current {
		have[ch] = struct{}{}
	}

	for ch := 1; ch <= rec.Capacity; ch++ {
		if _, ok := have[ch]; !ok {
			create = append(create, ch)
		}
	}

	if !rec.CapacityExempt {
		for ch := range have {
			if ch < 1 || ch > rec.Capacity {
				remove = append(remove, ch)
			}
		}
		slices.Sort(remove)
	}
	return create, remove
}

// Reconcile aligns the slots of rec with its capacity. Individual slot
// failures do not stop the rest; they are joined into the returned error
// alongside the counts of what did succeed.
func (r *Reconciler) Reconcile(ctx context.Context, rec *hardware.Record) (Result, []event.Event, error) {
	var res Result

	existing, err := r.slots.ListByRecord(ctx, rec.ID)
	if err != nil {
		return res, nil, fmt.Errorf("listing slots of %s: %w", rec.ID, err)
	}
	current := make([]int, 0, len(existing))
	for _, s := range existing {
		current = append(current, s.Channel)
	}

	create, remove := Plan(rec, current)
	direction := hardware.DirectionForRole(rec.Role)

	var (
		events []event.Event
		errs   []error
	)

	for _, ch := range create {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := ValidateSlot(rec, ch); err != nil {
			errs = append(errs, err)
			continue
		}
		slot := &hardware.ChannelSlot{
			RecordID:  rec.ID,
			Channel:   ch,
			Direction: direction,
			State:     hardware.SlotFree,
		}
		if err := r.slots.Create(ctx, slot); err != nil {
			errs = append(errs, fmt.Errorf("creating channel %d of %s: %w", ch, rec.ID, err))
			continue
		}
		res.Created++
		events = append(events, event.New(event.EntityChannelSlot, slotID(rec.ID, ch),
			event.TypeChannelCreated, event.OpCreate, nil,
			map[string]any{"record_id": rec.ID, "channel": ch, "direction": string(direction), "state": string(hardware.SlotFree)},
		))
	}

	for _, ch := range remove {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.slots.Delete(ctx, rec.ID, ch); err != nil {
			errs = append(errs, fmt.Errorf("deleting channel %d of %s: %w", ch, rec.ID, err))
			continue
		}
		res.Deleted++
		events = append(events, event.New(event.EntityChannelSlot, slotID(rec.ID, ch),
			event.TypeChannelDeleted, event.OpDelete,
			map[string]any{"record_id": rec.ID, "channel": ch}, nil,
		))
	}

	if res.Changed() {
		r.logger.Debug("channels reconciled",
			"record_id", rec.ID,
			"capacity", rec.Capacity,
			"created", res.Created,
			"deleted", res.Deleted,
		)
	}
	return res, events, errors.Join(errs...)
}

func slotID(recordID string, ch int) string {
	return fmt.Sprintf("%s/%d", recordID, ch)
}
