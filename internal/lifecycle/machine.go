package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

// Store persists lifecycle fields. hardware.Repository satisfies it.
type Store interface {
	UpdateLifecycle(ctx context.Context, rec *hardware.Record) error
}

// Logger is the logging interface used by the Machine.
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

// Machine applies status transitions to hardware records.
//
// Thread Safety:
//   - Transition may be called from many goroutines. Calls on the same
//     record ID are mutually exclusive; the loser gets ErrContention.
type Machine struct {
	store  Store
	logger Logger
	now    func() time.Time

	mu   sync.Mutex
	held map[string]struct{}
}

// New creates a Machine. store may be nil, in which case transitions are
// applied in memory only.
func New(store Store) *Machine {
	return &Machine{
		store:  store,
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
		held:   make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	m.logger = logger
}

// Transition moves rec to state to.
//
// A transition to the current state refreshes LastSeen only and returns a
// nil event. An illegal step returns a *TransitionError and leaves rec
// unchanged. On success LastSeen and StatusChangedAt are set, Stale is
// cleared, time spent in an online-class state is added to UptimeSeconds,
// the record is persisted and a status_changed event is returned. If
// persisting fails rec is restored to its prior value.
func (m *Machine) Transition(ctx context.Context, rec *hardware.Record, to hardware.Status) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.acquire(rec.ID) {
		return nil, fmt.Errorf("transition of %s: %w", rec.ID, ErrContention)
	}
	defer m.release(rec.ID)

	from := rec.Status
	if from != to && !CanTransition(from, to) {
		return nil, &TransitionError{RecordID: rec.ID, From: from, To: to}
	}

	before := *rec
	now := m.now()
	rec.LastSeen = now

	if from == to {
		if err := m.persist(ctx, rec); err != nil {
			*rec = before
			return nil, err
		}
		return nil, nil
	}

	if from.OnlineClass() && !rec.StatusChangedAt.IsZero() {
		if elapsed := now.Sub(rec.StatusChangedAt); elapsed > 0 {
			rec.UptimeSeconds += int64(elapsed / time.Second)
		}
	}
	rec.Status = to
	rec.StatusChangedAt = now
	rec.Stale = false

	if err := m.persist(ctx, rec); err != nil {
		*rec = before
		return nil, err
	}

	m.logger.Debug("status changed", "record_id", rec.ID, "from", from, "to", to)

	ev := event.New(event.EntityHardwareRecord, rec.ID, event.TypeStatusChanged, event.OpUpdate,
		map[string]any{"status": string(from)},
		map[string]any{"status": string(to), "uptime_seconds": rec.UptimeSeconds},
	)
	return &ev, nil
}

// Walk drives rec along Path(rec.Status, to), one Transition per step.
// The returned events cover every step taken, including those before a
// failure.
func (m *Machine) Walk(ctx context.Context, rec *hardware.Record, to hardware.Status) ([]event.Event, error) {
	path, ok := Path(rec.Status, to)
	if !ok {
		return nil, &TransitionError{RecordID: rec.ID, From: rec.Status, To: to}
	}

	var events []event.Event
	for _, step := range path {
		ev, err := m.Transition(ctx, rec, step)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (m *Machine) persist(ctx context.Context, rec *hardware.Record) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.UpdateLifecycle(ctx, rec); err != nil {
		return fmt.Errorf("persisting status of %s: %w", rec.ID, err)
	}
	return nil
}

func (m *Machine) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[id]; busy {
		return false
	}
	m.held[id] = struct{}{}
	return true
}

func (m *Machine) release(id string) {
	m.mu.Lock()
	delete(m.held, id)
	m.mu.Unlock()
}
