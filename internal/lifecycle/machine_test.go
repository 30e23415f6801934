package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []hardware.Record
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *fakeStore) UpdateLifecycle(_ context.Context, rec *hardware.Record) error {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, *rec)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newRecord(status hardware.Status) *hardware.Record {
	return &hardware.Record{
		ID:           "rec-1",
		Manufacturer: "acme",
		VendorID:     "v-1",
		Role:         hardware.RoleReceiver,
		Status:       status,
	}
}

func TestTransition_AllPairs(t *testing.T) {
	for _, from := range hardware.AllStatuses {
		for _, to := range hardware.AllStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				m := New(&fakeStore{})
				rec := newRecord(from)
				before := *rec

				_, err := m.Transition(context.Background(), rec, to)

				if from == to || CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, rec.Status)
					return
				}
				require.ErrorIs(t, err, ErrInvalidTransition)
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, from, te.From)
				assert.Equal(t, to, te.To)
				assert.Equal(t, before, *rec, "record must be unchanged")
			})
		}
	}
}

func TestTransition_RetiredIsTerminal(t *testing.T) {
	assert.Empty(t, Allowed(hardware.StatusRetired))
	for _, to := range hardware.AllStatuses {
		if to == hardware.StatusRetired {
			continue
		}
		assert.False(t, CanTransition(hardware.StatusRetired, to), "retired -> %s", to)
	}
}

func TestTransition_SameStateRefreshesLastSeenOnly(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(now)

	changed := now.Add(-time.Hour)
	rec := newRecord(hardware.StatusOnline)
	rec.StatusChangedAt = changed
	rec.UptimeSeconds = 10

	ev, err := m.Transition(context.Background(), rec, hardware.StatusOnline)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, now, rec.LastSeen)
	assert.Equal(t, changed, rec.StatusChangedAt)
	assert.Equal(t, int64(10), rec.UptimeSeconds)
	assert.Equal(t, hardware.StatusOnline, rec.Status)
	require.Len(t, store.saved, 1)
}

func TestTransition_AccumulatesUptime(t *testing.T) {
	m := New(nil)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	m.now = fixedClock(now)

	rec := newRecord(hardware.StatusOnline)
	rec.StatusChangedAt = now.Add(-90 * time.Second)
	rec.UptimeSeconds = 100

	ev, err := m.Transition(context.Background(), rec, hardware.StatusOffline)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, int64(190), rec.UptimeSeconds)
	assert.Equal(t, now, rec.StatusChangedAt)
	assert.Equal(t, now, rec.LastSeen)

	assert.Equal(t, event.EntityHardwareRecord, ev.Entity)
	assert.Equal(t, event.TypeStatusChanged, ev.Type)
	assert.Equal(t, "online", ev.Old["status"])
	assert.Equal(t, "offline", ev.New["status"])

	// Leaving offline adds nothing.
	m.now = fixedClock(now.Add(time.Hour))
	_, err = m.Transition(context.Background(), rec, hardware.StatusOnline)
	require.NoError(t, err)
	assert.Equal(t, int64(190), rec.UptimeSeconds)
}

func TestTransition_ClearsStale(t *testing.T) {
	m := New(nil)
	rec := newRecord(hardware.StatusOffline)
	rec.Stale = true

	_, err := m.Transition(context.Background(), rec, hardware.StatusOffline)
	require.NoError(t, err)
	assert.True(t, rec.Stale, "same-state refresh keeps the flag")

	_, err = m.Transition(context.Background(), rec, hardware.StatusMaintenance)
	require.NoError(t, err)
	assert.False(t, rec.Stale)
}

func TestTransition_RestoresOnPersistFailure(t *testing.T) {
	storeErr := errors.New("disk full")
	m := New(&fakeStore{err: storeErr})

	rec := newRecord(hardware.StatusOffline)
	before := *rec

	ev, err := m.Transition(context.Background(), rec, hardware.StatusOnline)
	require.ErrorIs(t, err, storeErr)
	assert.Nil(t, ev)
	assert.Equal(t, before, *rec)

	_, err = m.Transition(context.Background(), rec, hardware.StatusOffline)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, before, *rec)
}

func TestTransition_Contention(t *testing.T) {
	store := &fakeStore{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(store)
	first := newRecord(hardware.StatusOffline)
	second := newRecord(hardware.StatusOffline)

	done := make(chan error, 1)
	go func() {
		_, err := m.Transition(context.Background(), first, hardware.StatusOnline)
		done <- err
	}()
	<-store.entered

	_, err := m.Transition(context.Background(), second, hardware.StatusMaintenance)
	require.ErrorIs(t, err, ErrContention)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, hardware.StatusOffline, second.Status)

	close(store.release)
	require.NoError(t, <-done)
	assert.Equal(t, hardware.StatusOnline, first.Status)

	// Lock is released afterwards.
	store.entered = nil
	_, err = m.Transition(context.Background(), second, hardware.StatusMaintenance)
	require.NoError(t, err)
}

func TestTransition_DifferentRecordsDoNotContend(t *testing.T) {
	m := New(nil)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		rec := newRecord(hardware.StatusOffline)
		rec.ID = string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Transition(context.Background(), rec, hardware.StatusOnline)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestTransition_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := newRecord(hardware.StatusOffline)
	_, err := New(nil).Transition(ctx, rec, hardware.StatusOnline)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, hardware.StatusOffline, rec.Status)
}

func TestPath(t *testing.T) {
	tests := []struct {
		from, to hardware.Status
		want     []hardware.Status
		ok       bool
	}{
		{hardware.StatusDiscovered, hardware.StatusOnline, []hardware.Status{hardware.StatusProvisioning, hardware.StatusOnline}, true},
		{hardware.StatusOffline, hardware.StatusRetired, []hardware.Status{hardware.StatusRetired}, true},
		{hardware.StatusOnline, hardware.StatusRetired, []hardware.Status{hardware.StatusOffline, hardware.StatusRetired}, true},
		{hardware.StatusOnline, hardware.StatusOnline, nil, true},
		{hardware.StatusRetired, hardware.StatusOnline, nil, false},
	}
	for _, tt := range tests {
		got, ok := Path(tt.from, tt.to)
		assert.Equal(t, tt.ok, ok, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestPath_EveryStepIsLegal(t *testing.T) {
	for _, from := range hardware.AllStatuses {
		for _, to := range hardware.AllStatuses {
			path, ok := Path(from, to)
			if !ok {
				continue
			}
			cur := from
			for _, step := range path {
				require.True(t, CanTransition(cur, step), "%s -> %s in path %v", cur, step, path)
				cur = step
			}
			assert.Equal(t, to, cur)
		}
	}
}

func TestWalk(t *testing.T) {
	store := &fakeStore{}
	m := New(store)
	rec := newRecord(hardware.StatusDiscovered)

	events, err := m.Walk(context.Background(), rec, hardware.StatusOnline)
	require.NoError(t, err)
	assert.Equal(t, hardware.StatusOnline, rec.Status)
	require.Len(t, events, 2)
	assert.Equal(t, "provisioning", events[0].New["status"])
	assert.Equal(t, "online", events[1].New["status"])
	assert.Len(t, store.saved, 2)

	_, err = m.Walk(context.Background(), newRecord(hardware.StatusRetired), hardware.StatusOnline)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAllowedReturnsCopy(t *testing.T) {
	allowed := Allowed(hardware.StatusOnline)
	allowed[0] = hardware.StatusRetired
	assert.False(t, CanTransition(hardware.StatusOnline, hardware.StatusRetired))
}
