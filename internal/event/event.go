// Package event defines the domain events emitted by the reconciliation
// components. Components return events instead of performing side effects;
// a Sink (the audit dispatcher in production) forwards them.
package event

import (
	"sync"
	"time"
)

// Entity names the kind of object an event is about.
type Entity string

// Entities.
const (
	EntityHardwareRecord Entity = "hardware_record"
	EntityChannelSlot    Entity = "channel_slot"
	EntityJob            Entity = "reconciliation_job"
	EntityConflict       Entity = "conflict_report"
)

// Type is the event kind within an entity.
type Type string

// Event types.
const (
	TypeCreated          Type = "created"
	TypeUpdated          Type = "updated"
	TypeStatusChanged    Type = "status_changed"
	TypeMoved            Type = "moved"
	TypeChannelCreated   Type = "channel_created"
	TypeChannelDeleted   Type = "channel_deleted"
	TypeConflictDetected Type = "conflict_detected"
	TypeJobFinished      Type = "job_finished"
)

// Operation mirrors the audit log action column.
type Operation string

// Operations.
const (
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpBroadcast Operation = "broadcast"
)

// Event is one domain fact. Old and New carry only the fields that changed.
type Event struct {
	Entity    Entity         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Type      Type           `json:"type"`
	Operation Operation      `json:"operation"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new,omitempty"`
	At        time.Time      `json:"at"`
}

// New builds an event stamped with the current UTC time.
func New(entity Entity, id string, typ Type, op Operation, oldVals, newVals map[string]any) Event {
	return Event{
		Entity:    entity,
		EntityID:  id,
		Type:      typ,
		Operation: op,
		Old:       oldVals,
		New:       newVals,
		At:        time.Now().UTC(),
	}
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Dispatch(events ...Event)
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Dispatch implements Sink.
func (Discard) Dispatch(...Event) {}

// Recorder is a Sink that keeps events in memory. Useful in tests and
// dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Dispatch implements Sink.
func (r *Recorder) Dispatch(events ...Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(typ Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
