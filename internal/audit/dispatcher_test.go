package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/event"
)

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

// blockingRepo holds the worker until released so the queue can fill.
type blockingRepo struct {
	release chan struct{}
}

func (b blockingRepo) Create(context.Context, *AuditLog) error {
	<-b.release
	return nil
}
func (blockingRepo) List(context.Context, Filter) (*ListResult, error) { return &ListResult{}, nil }

func statusEvent(id string) event.Event {
	return event.New(event.EntityHardwareRecord, id, event.TypeStatusChanged, event.OpUpdate,
		map[string]any{"status": "provisioning"}, map[string]any{"status": "online"})
}

func TestDispatcher_WritesAuditAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))
	pub := &fakePublisher{}

	d := NewDispatcher(repo, pub, 8)
	d.Start()
	d.Dispatch(statusEvent("rec-1"), statusEvent("rec-2"))

	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{EntityType: "hardware_record"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("audit rows = %d, want 2", res.Total)
	}
	if res.Logs[0].Action != "update" || res.Logs[0].Details["type"] != "status_changed" {
		t.Errorf("unexpected audit row %+v", res.Logs[0])
	}

	if pub.count() != 2 {
		t.Fatalf("published = %d, want 2", pub.count())
	}
	if pub.topics[0] != "fleetsync/core/event/hardware_record/status_changed" {
		t.Errorf("topic = %q", pub.topics[0])
	}
	var decoded event.Event
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.New["status"] != "online" {
		t.Errorf("payload new = %v", decoded.New)
	}
	if d.Delivered() != 2 {
		t.Errorf("Delivered() = %d, want 2", d.Delivered())
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	d := NewDispatcher(failingRepo{}, pub, 4)
	d.Start()
	d.Dispatch(statusEvent("rec-1"))

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.Delivered() != 1 {
		t.Errorf("Delivered() = %d, want 1", d.Delivered())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(blockingRepo{release: release}, nil, 1)
	d.Start()

	// The worker takes the first event and blocks; the second fills the
	// queue; the rest must be dropped without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(statusEvent("rec"))
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}

	if d.Dropped() < 8 {
		t.Errorf("Dropped() = %d, want at least 8", d.Dropped())
	}

	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	d := NewDispatcher(nil, nil, 2)
	d.Start()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	d.Dispatch(statusEvent("rec-1"))
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	e := event.Event{
		Entity:    event.EntityChannelSlot,
		EntityID:  "rec-1:3",
		Type:      event.TypeChannelDeleted,
		Operation: event.OpDelete,
		Old:       map[string]any{"channel": 3},
		At:        at,
	}

	log := FromEvent(e)
	if log.Action != "delete" || log.EntityType != "channel_slot" || log.EntityID != "rec-1:3" {
		t.Errorf("FromEvent() = %+v", log)
	}
	if _, ok := log.Details["new"]; ok {
		t.Error("empty New should be omitted from details")
	}
	if !log.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", log.CreatedAt, at)
	}
}
