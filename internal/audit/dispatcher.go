package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/mqtt"
)

const (
	// defaultQueueSize is used when NewDispatcher gets a non-positive size.
	defaultQueueSize = 256

	// writeTimeout bounds a single audit insert.
	writeTimeout = 5 * time.Second

	// eventQoS is the MQTT QoS used for event broadcasts.
	eventQoS = 1

	// sourceName is recorded as the audit log source.
	sourceName = "fleetsync"
)

// Logger is the logging interface used by the Dispatcher.
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

// Dispatcher forwards domain events to the audit log and the MQTT bus.
//
// Dispatch never blocks: events go into a bounded queue drained by a single
// worker. When the queue is full the event is dropped and a warning logged.
// Storage and publish failures are logged and swallowed.
type Dispatcher struct {
	repo      Repository
	publisher mqtt.Publisher
	logger    Logger

	queue   chan event.Event
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	started atomic.Bool

	dropped   atomic.Int64
	delivered atomic.Int64
}

// NewDispatcher creates a dispatcher. repo and publisher may each be nil,
// in which case that destination is skipped.
func NewDispatcher(repo Repository, publisher mqtt.Publisher, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    noopLogger{},
		queue:     make(chan event.Event, queueSize),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Start launches the worker. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run()
}

// Dispatch enqueues events. Implements event.Sink.
func (d *Dispatcher) Dispatch(events ...event.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(int64(len(events)))
		return
	}

	for _, e := range events {
		select {
		case d.queue <- e:
		default:
			d.dropped.Add(1)
			d.logger.Warn("audit queue full, dropping event",
				"entity", e.Entity,
				"entity_id", e.EntityID,
				"type", e.Type,
			)
		}
	}
}

// Close stops accepting events, drains what is queued and waits for the
// worker, or until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if !d.started.Load() {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded because the queue was
// full or the dispatcher closed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Delivered returns the number of events processed by the worker.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e event.Event) {
	defer d.delivered.Add(1)

	if d.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := d.repo.Create(ctx, FromEvent(e))
		cancel()
		if err != nil {
			d.logger.Error("writing audit log failed",
				"entity", e.Entity,
				"entity_id", e.EntityID,
				"error", err,
			)
		}
	}

	if d.publisher != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			d.logger.Error("marshalling event failed", "type", e.Type, "error", err)
			return
		}
		topic := mqtt.Topics{}.Event(string(e.Entity), string(e.Type))
		if err := d.publisher.Publish(topic, payload, eventQoS, false); err != nil {
			d.logger.Warn("broadcasting event failed", "topic", topic, "error", err)
		}
	}
}

// FromEvent converts a domain event into an audit log entry.
func FromEvent(e event.Event) *AuditLog {
	details := map[string]any{"type": string(e.Type)}
	if len(e.Old) > 0 {
		details["old"] = e.Old
	}
	if len(e.New) > 0 {
		details["new"] = e.New
	}
	return &AuditLog{
		Action:     string(e.Operation),
		EntityType: string(e.Entity),
		EntityID:   e.EntityID,
		Source:     sourceName,
		Details:    details,
		CreatedAt:  e.At,
	}
}
