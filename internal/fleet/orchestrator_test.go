package fleet

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetsync-core/internal/lifecycle"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi/vendortest"
	"github.com/nerrad567/fleetsync-core/migrations"
)

type fixture struct {
	db        *sql.DB
	records   *hardware.SQLiteRepository
	slots     *hardware.SQLiteChannelRepository
	conflicts *hardware.SQLiteConflictRepository
	events    *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.MigrateFrom(ctx, migrations.FS(), "."))

	return &fixture{
		db:        db.DB,
		records:   hardware.NewSQLiteRepository(db.DB),
		slots:     hardware.NewSQLiteChannelRepository(db.DB),
		conflicts: hardware.NewSQLiteConflictRepository(db.DB),
		events:    &event.Recorder{},
	}
}

func (f *fixture) orchestrator(adapters map[string]vendorapi.Adapter, mutate func(*Options)) *Orchestrator {
	opts := Options{
		Records:           f.records,
		Slots:             f.slots,
		Conflicts:         f.conflicts,
		TransitionRetries: DefaultTransitionRetries,
		Events:            f.events,
	}
	for code := range adapters {
		opts.Manufacturers = append(opts.Manufacturers, Manufacturer{Code: code})
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(adapters, opts)
}

func (f *fixture) seed(t *testing.T, rec hardware.Record) hardware.Record {
	t.Helper()
	if rec.Role == "" {
		rec.Role = hardware.RoleReceiver
	}
	require.NoError(t, f.records.Create(context.Background(), &rec))
	return rec
}

func (f *fixture) get(t *testing.T, id string) *hardware.Record {
	t.Helper()
	rec, err := f.records.GetByID(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestSync_CreatesRecordsOnline(t *testing.T) {
	f := newFixture(t)
	acme := vendortest.New()
	acme.SetDevices(
		vendorapi.Payload{"id": "v-1", "serial": "sn1", "ip": "10.0.0.1", "role": "rx", "model": "R4", "capacity": 4},
		vendorapi.Payload{"id": "v-2", "ip": "10.0.0.2", "model": "T2"},
	)

	caps := hardware.NewCapabilityTable()
	caps.Set("acme", "t2", hardware.Capability{Capacity: 2})
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, func(opts *Options) {
		opts.Capabilities = caps
	})

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total.Created)
	assert.Zero(t, summary.Total.Errored)

	records, err := f.records.ListByManufacturer(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, hardware.StatusOnline, rec.Status)
		slots, err := f.slots.ListByRecord(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Len(t, slots, rec.Capacity)
	}

	byVendor := map[string]hardware.Record{}
	for _, rec := range records {
		byVendor[rec.VendorID] = rec
	}
	assert.Equal(t, "SN1", byVendor["v-1"].Serial)
	assert.Equal(t, hardware.RoleReceiver, byVendor["v-1"].Role)
	assert.Equal(t, 4, byVendor["v-1"].Capacity)
	assert.Equal(t, 2, byVendor["v-2"].Capacity)
	assert.Equal(t, fallbackRole, byVendor["v-2"].Role)

	assert.Len(t, f.events.OfType(event.TypeCreated), 2)
	assert.Len(t, f.events.OfType(event.TypeStatusChanged), 4, "discovered -> provisioning -> online, twice")
	assert.Len(t, f.events.OfType(event.TypeChannelCreated), 6)

	again, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Total.Created)
	assert.Equal(t, 2, again.Total.Updated)
}

func TestSync_SerialMoveKeepsStatus(t *testing.T) {
	f := newFixture(t)
	existing := f.seed(t, hardware.Record{
		Manufacturer: "acme",
		VendorID:     "v-abc",
		Serial:       "ABC123",
		IP:           "10.0.0.5",
		Status:       hardware.StatusMaintenance,
	})

	acme := vendortest.New()
	acme.SetDevices(vendorapi.Payload{"id": "v-abc", "serial": "abc123", "ip": "10.0.0.9"})
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, nil)

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total.Updated)
	assert.Zero(t, summary.Total.Created)

	rec := f.get(t, existing.ID)
	assert.Equal(t, "10.0.0.9", rec.IP)
	assert.Equal(t, hardware.StatusMaintenance, rec.Status)
	require.Len(t, f.events.OfType(event.TypeMoved), 1)
	assert.Empty(t, f.events.OfType(event.TypeStatusChanged))
}

func TestSync_SerialMoveOntoHeldIPConflicts(t *testing.T) {
	f := newFixture(t)
	mover := f.seed(t, hardware.Record{Manufacturer: "acme", Serial: "S1", IP: "10.0.0.5", Status: hardware.StatusOnline})
	holder := f.seed(t, hardware.Record{Manufacturer: "acme", Serial: "S2", IP: "10.0.0.9", Status: hardware.StatusOnline})

	acme := vendortest.New()
	acme.SetDevices(vendorapi.Payload{"serial": "S1", "ip": "10.0.0.9"})
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, nil)

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total.Conflicted)
	assert.Zero(t, summary.Total.Updated)

	assert.Equal(t, "10.0.0.5", f.get(t, mover.ID).IP)
	assert.Equal(t, "10.0.0.9", f.get(t, holder.ID).IP)
	assert.Empty(t, f.events.OfType(event.TypeMoved))

	open, err := f.conflicts.ListOpen(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, mover.ID, open[0].MatchedRecordID)
	assert.Equal(t, holder.ID, open[0].IPHolderID)
}

func TestSync_ListFailureIsolated(t *testing.T) {
	for _, parallelism := range []int{1, 2} {
		t.Run("", func(t *testing.T) {
			f := newFixture(t)
			broken := vendortest.New()
			broken.ListErr = errors.New("503 service unavailable")
			healthy := vendortest.New()
			healthy.SetDevices(vendorapi.Payload{"id": "b-1", "ip": "10.1.0.1"})

			o := f.orchestrator(nil, func(opts *Options) {
				opts.Manufacturers = []Manufacturer{{Code: "acme"}, {Code: "bravo"}}
				opts.Parallelism = parallelism
			})
			o.adapters = map[string]vendorapi.Adapter{"acme": broken, "bravo": healthy}

			summary, err := o.Sync(context.Background())
			require.NoError(t, err)

			acme, ok := summary.Result("acme")
			require.True(t, ok)
			assert.Zero(t, acme.Created)
			assert.Zero(t, acme.Updated)
			assert.Equal(t, 1, acme.Errored)
			assert.True(t, acme.Aborted)
			assert.ErrorIs(t, acme.Err(), ErrListDevices)

			bravo, ok := summary.Result("bravo")
			require.True(t, ok)
			assert.Equal(t, 1, bravo.Created)
			assert.Zero(t, bravo.Errored)

			assert.Equal(t, 1, summary.Total.Created)
			assert.Equal(t, 1, summary.Total.Errored)
		})
	}
}

func TestSync_MissingAdapter(t *testing.T) {
	f := newFixture(t)
	buildErr := errors.New("bad base url")
	o := f.orchestrator(nil, func(opts *Options) {
		opts.Manufacturers = []Manufacturer{{Code: "acme"}, {Code: "bravo"}}
		opts.AdapterErrors = map[string]error{"acme": buildErr}
	})

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Manufacturers, 2)

	acme, _ := summary.Result("acme")
	assert.ErrorIs(t, acme.Err(), ErrNoAdapter)
	assert.ErrorIs(t, acme.Err(), buildErr)

	bravo, _ := summary.Result("bravo")
	assert.ErrorIs(t, bravo.Err(), vendorapi.ErrNotConfigured)
}

func TestSync_UnresolvableAndRetired(t *testing.T) {
	f := newFixture(t)
	retired := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-old", Serial: "OLD", IP: "10.0.0.7", Status: hardware.StatusRetired})

	acme := vendortest.New()
	acme.SetDevices(
		vendorapi.Payload{"serial": "NOID", "name": "no address"},
		vendorapi.Payload{"id": "v-old", "serial": "OLD", "ip": "10.0.0.8"},
	)
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, nil)

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total.Unresolvable)
	assert.Equal(t, 1, summary.Total.Skipped)
	assert.Zero(t, summary.Total.Created)
	assert.Zero(t, summary.Total.Errored)

	rec := f.get(t, retired.ID)
	assert.Equal(t, hardware.StatusRetired, rec.Status)
	assert.Equal(t, "10.0.0.7", rec.IP)
}

func TestSync_ConflictQueuedOnce(t *testing.T) {
	f := newFixture(t)
	holder := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-1", IP: "10.0.0.1", Status: hardware.StatusOnline})

	acme := vendortest.New()
	acme.SetDevices(vendorapi.Payload{"id": "v-9", "ip": "10.0.0.1"})
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, nil)

	for range 2 {
		summary, err := o.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total.Conflicted)
		assert.Zero(t, summary.Total.Created)
	}

	open, err := f.conflicts.ListOpen(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, holder.ID, open[0].IPHolderID)
	assert.Equal(t, 2, open[0].Occurrences)
	assert.Len(t, f.events.OfType(event.TypeConflictDetected), 1)

	records, err := f.records.ListByManufacturer(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSync_StaleSweep(t *testing.T) {
	f := newFixture(t)
	old := time.Now().UTC().Add(-2 * time.Hour)
	stale := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-stale", IP: "10.0.0.3", Status: hardware.StatusOnline, LastSeen: old, StatusChangedAt: old})
	fresh := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-fresh", IP: "10.0.0.4", Status: hardware.StatusOnline, LastSeen: time.Now().UTC()})
	maint := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-maint", IP: "10.0.0.5", Status: hardware.StatusMaintenance, LastSeen: old})

	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": vendortest.New()}, func(opts *Options) {
		opts.StaleAfter = time.Hour
	})

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total.Staled)

	rec := f.get(t, stale.ID)
	assert.Equal(t, hardware.StatusOffline, rec.Status)
	assert.WithinDuration(t, old, rec.LastSeen, time.Second)
	assert.Positive(t, rec.UptimeSeconds)

	assert.Equal(t, hardware.StatusOnline, f.get(t, fresh.ID).Status)
	assert.Equal(t, hardware.StatusMaintenance, f.get(t, maint.ID).Status)
}

func TestSync_StaleRecordComesBackOnline(t *testing.T) {
	f := newFixture(t)
	old := time.Now().UTC().Add(-2 * time.Hour)
	stale := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-stale", IP: "10.0.0.3", Status: hardware.StatusOnline, LastSeen: old, StatusChangedAt: old})
	parked := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-parked", IP: "10.0.0.6", Status: hardware.StatusOffline, LastSeen: old})

	acme := vendortest.New()
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, func(opts *Options) {
		opts.StaleAfter = time.Hour
	})

	_, err := o.Sync(context.Background())
	require.NoError(t, err)
	rec := f.get(t, stale.ID)
	require.Equal(t, hardware.StatusOffline, rec.Status)
	assert.True(t, rec.Stale)

	acme.SetDevices(
		vendorapi.Payload{"id": "v-stale", "ip": "10.0.0.3"},
		vendorapi.Payload{"id": "v-parked", "ip": "10.0.0.6"},
	)
	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total.Updated)
	assert.Zero(t, summary.Total.Errored)

	rec = f.get(t, stale.ID)
	assert.Equal(t, hardware.StatusOnline, rec.Status)
	assert.False(t, rec.Stale)
	assert.Equal(t, hardware.StatusOffline, f.get(t, parked.ID).Status, "only sweep-driven offline recovers")

	var recovered int
	for _, ev := range f.events.OfType(event.TypeStatusChanged) {
		if ev.EntityID == stale.ID && ev.New["status"] == string(hardware.StatusOnline) {
			recovered++
		}
	}
	assert.Equal(t, 1, recovered)
}

// snapshotHook runs after the inventory snapshot is taken.
type snapshotHook struct {
	*hardware.SQLiteRepository
	after func(records []hardware.Record)
}

func (h *snapshotHook) ListByManufacturer(ctx context.Context, manufacturer string) ([]hardware.Record, error) {
	records, err := h.SQLiteRepository.ListByManufacturer(ctx, manufacturer)
	if err == nil && h.after != nil {
		h.after(records)
	}
	return records, err
}

func TestSync_UpdateKeepsConcurrentStatusChange(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(t, hardware.Record{Manufacturer: "acme", VendorID: "v-1", IP: "10.0.0.1", Status: hardware.StatusOnline})

	machine := lifecycle.New(f.records)
	var transitionErr error
	records := &snapshotHook{
		SQLiteRepository: f.records,
		after: func([]hardware.Record) {
			current, err := f.records.GetByID(context.Background(), rec.ID)
			if err != nil {
				transitionErr = err
				return
			}
			_, transitionErr = machine.Transition(context.Background(), current, hardware.StatusMaintenance)
		},
	}

	acme := vendortest.New()
	acme.SetDevices(vendorapi.Payload{"id": "v-1", "ip": "10.0.0.1", "firmware": "2.0"})
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": acme}, func(opts *Options) {
		opts.Records = records
		opts.Machine = machine
	})
	assert.Same(t, machine, o.machine)

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, transitionErr)
	assert.Equal(t, 1, summary.Total.Updated)

	got := f.get(t, rec.ID)
	assert.Equal(t, hardware.StatusMaintenance, got.Status)
	assert.Equal(t, "2.0", got.FirmwareVersion)
}

func TestSync_ObserversAndCancelledContext(t *testing.T) {
	f := newFixture(t)
	var (
		mu   sync.Mutex
		seen []string
	)
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": vendortest.New()}, func(opts *Options) {
		opts.Observers = []Observer{ObserverFunc(func(r ManufacturerResult) {
			mu.Lock()
			seen = append(seen, r.Manufacturer)
			mu.Unlock()
		})}
	})

	summary, err := o.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, seen)
	acme, _ := summary.Result("acme")
	require.NotNil(t, acme.Health)
	assert.True(t, acme.Health.OK())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err = o.Sync(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Manufacturers)
}

func TestSync_ParallelCancelledContext(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(map[string]vendorapi.Adapter{"acme": vendortest.New(), "bravo": vendortest.New()}, func(opts *Options) {
		opts.Parallelism = 2
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := o.Sync(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Manufacturers)
	assert.Zero(t, summary.Total.Errored)
}
