package fleet

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fleetsync-core/internal/channel"
	"github.com/nerrad567/fleetsync-core/internal/dedup"
	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/identity"
	"github.com/nerrad567/fleetsync-core/internal/lifecycle"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
)

// Default retry settings for contended transitions.
const (
	DefaultTransitionRetries = 3
	transitionInitialBackoff = 50 * time.Millisecond
	transitionMaxBackoff     = time.Second
)

// Logger is the logging interface used by the Orchestrator.
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

// Observer is told about every finished manufacturer. Implementations must
// be safe for concurrent use when Parallelism > 1.
type Observer interface {
	ManufacturerSynced(result ManufacturerResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(result ManufacturerResult)

// ManufacturerSynced implements Observer.
func (f ObserverFunc) ManufacturerSynced(result ManufacturerResult) {
	f(result)
}

// Options configures an Orchestrator.
type Options struct {
	Manufacturers []Manufacturer

	// AdapterErrors carries construction failures from vendorapi.Factory; a
	// manufacturer listed here is aborted with that error.
	AdapterErrors map[string]error

	Records      hardware.Repository
	Slots        hardware.ChannelRepository
	Conflicts    hardware.ConflictRepository
	Capabilities hardware.CapabilityLookup

	// Parallelism > 1 polls that many manufacturers concurrently.
	Parallelism int

	// StaleAfter > 0 enables the stale sweep.
	StaleAfter time.Duration

	// Machine serializes status changes. Share one with every other writer
	// of record status; nil gives the orchestrator a private machine.
	Machine *lifecycle.Machine

	TransitionRetries int
	Events            event.Sink
	Observers         []Observer
}

// Orchestrator runs fleet syncs.
//
// Thread Safety:
//   - Sync may be called concurrently, though the scheduler never does.
//   - Manufacturers synced in parallel share only the aggregate totals.
type Orchestrator struct {
	adapters map[string]vendorapi.Adapter
	opts     Options
	machine  *lifecycle.Machine
	channels *channel.Reconciler
	now      func() time.Time
	logger   Logger
}

// New creates an Orchestrator over the manufacturer-code to adapter map.
func New(adapters map[string]vendorapi.Adapter, opts Options) *Orchestrator {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.TransitionRetries < 0 {
		opts.TransitionRetries = 0
	}
	if opts.Events == nil {
		opts.Events = event.Discard{}
	}
	if opts.Capabilities == nil {
		opts.Capabilities = hardware.NewCapabilityTable()
	}
	machine := opts.Machine
	if machine == nil {
		machine = lifecycle.New(opts.Records)
	}
	return &Orchestrator{
		adapters: adapters,
		opts:     opts,
		machine:  machine,
		channels: channel.NewReconciler(opts.Slots),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the orchestrator and the components it owns.
// A machine passed in Options keeps its own logger.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
	if o.opts.Machine == nil {
		o.machine.SetLogger(logger)
	}
	o.channels.SetLogger(logger)
}

// Machine returns the lifecycle machine status changes go through.
func (o *Orchestrator) Machine() *lifecycle.Machine {
	return o.machine
}

// Sync runs one pass over every manufacturer. The error is non-nil only
// when ctx ended the pass early; all other failures are in the Summary.
func (o *Orchestrator) Sync(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		StartedAt:     o.now(),
		Manufacturers: make([]ManufacturerResult, len(o.opts.Manufacturers)),
	}
	var total totals

	syncOne := func(i int, m Manufacturer) {
		res := o.syncManufacturer(ctx, m)
		summary.Manufacturers[i] = res
		total.add(res.Counts)
		for _, obs := range o.opts.Observers {
			obs.ManufacturerSynced(res)
		}
	}

	var syncErr error
	if o.opts.Parallelism == 1 {
		for i, m := range o.opts.Manufacturers {
			if syncErr = ctx.Err(); syncErr != nil {
				break
			}
			syncOne(i, m)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.opts.Parallelism)
		for i, m := range o.opts.Manufacturers {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				syncOne(i, m)
				return nil
			})
		}
		syncErr = g.Wait()
	}
	if syncErr == nil {
		syncErr = ctx.Err()
	}

	summary.Manufacturers = slices.DeleteFunc(summary.Manufacturers, func(r ManufacturerResult) bool {
		return r.Manufacturer == ""
	})
	summary.Total = total.counts()
	summary.Duration = time.Since(start)

	o.logger.Info("fleet sync finished",
		"manufacturers", len(summary.Manufacturers),
		"created", summary.Total.Created,
		"updated", summary.Total.Updated,
		"conflicted", summary.Total.Conflicted,
		"errored", summary.Total.Errored,
		"unresolvable", summary.Total.Unresolvable,
		"staled", summary.Total.Staled,
		"duration", summary.Duration,
	)
	return summary, syncErr
}

// run carries the state of one manufacturer pass.
type run struct {
	m      Manufacturer
	res    *ManufacturerResult
	index  *dedup.Index
	seen   map[string]struct{}
	events []event.Event
}

func (o *Orchestrator) syncManufacturer(ctx context.Context, m Manufacturer) ManufacturerResult {
	start := time.Now()
	res := ManufacturerResult{Manufacturer: m.Code}
	defer func() { res.Duration = time.Since(start) }()

	log := o.logger

	adapter, ok := o.adapters[m.Code]
	if !ok {
		err := o.opts.AdapterErrors[m.Code]
		if err == nil {
			err = vendorapi.ErrNotConfigured
		}
		res.abort(fmt.Errorf("%w %s: %w", ErrNoAdapter, m.Code, err))
		log.Error("manufacturer has no adapter", "manufacturer", m.Code, "error", err)
		return res
	}

	health, err := adapter.CheckHealth(ctx)
	if err != nil {
		health.Status = vendorapi.HealthUnhealthy
		if health.Message == "" {
			health.Message = err.Error()
		}
	}
	res.Health = &health
	if !health.OK() {
		log.Warn("vendor api unhealthy", "manufacturer", m.Code, "status", health.Status, "message", health.Message)
	}

	payloads, err := adapter.ListDevices(ctx)
	if err != nil {
		res.abort(fmt.Errorf("%w: %s: %w", ErrListDevices, m.Code, err))
		log.Error("listing devices failed", "manufacturer", m.Code, "error", err)
		return res
	}

	records, err := o.opts.Records.ListByManufacturer(ctx, m.Code)
	if err != nil {
		res.abort(fmt.Errorf("%w: %s: %w", ErrInventory, m.Code, err))
		log.Error("loading inventory failed", "manufacturer", m.Code, "error", err)
		return res
	}

	r := &run{
		m:     m,
		res:   &res,
		index: dedup.NewIndex(records),
		seen:  make(map[string]struct{}, len(payloads)),
	}
	fields := m.Fields.WithDefaults()

	for _, payload := range payloads {
		if ctx.Err() != nil {
			res.fail(ctx.Err())
			break
		}
		id, ok := identity.Resolve(payload, fields)
		if !ok {
			res.Unresolvable++
			log.Debug("payload without vendor id or ip", "manufacturer", m.Code, "error", ErrIdentityUnresolvable)
			continue
		}
		if err := o.apply(ctx, r, id); err != nil {
			res.fail(err)
			log.Warn("applying device report failed",
				"manufacturer", m.Code,
				"identity", id.String(),
				"error", err,
			)
		}
	}

	if ctx.Err() == nil {
		o.sweep(ctx, r)
	}

	o.opts.Events.Dispatch(r.events...)

	log.Info("manufacturer synced",
		"manufacturer", m.Code,
		"devices", len(payloads),
		"created", res.Created,
		"updated", res.Updated,
		"conflicted", res.Conflicted,
		"errored", res.Errored,
		"skipped", res.Skipped,
		"staled", res.Staled,
	)
	return res
}

// apply classifies one resolved report and writes the outcome.
func (o *Orchestrator) apply(ctx context.Context, r *run, id identity.Identity) error {
	cls := r.index.Classify(id)

	switch cls.Outcome {
	case dedup.OutcomeNew:
		rec, err := o.create(ctx, r, id)
		if rec != nil {
			r.index.Put(*rec)
			r.seen[rec.ID] = struct{}{}
		}
		if err != nil {
			return err
		}
		r.res.Created++
		return nil

	case dedup.OutcomeDuplicate, dedup.OutcomeMoved:
		if cls.Match.Status == hardware.StatusRetired {
			r.res.Skipped++
			return nil
		}
		if err := o.update(ctx, r, cls); err != nil {
			return err
		}
		r.res.Updated++
		return nil

	case dedup.OutcomeConflict:
		r.res.Conflicted++
		return o.conflict(ctx, r, cls)

	default:
		return fmt.Errorf("unexpected outcome %q", cls.Outcome)
	}
}

// create inserts a discovered record and drives it online. The record is
// returned whenever it was inserted, even if a later step failed.
func (o *Orchestrator) create(ctx context.Context, r *run, id identity.Identity) (*hardware.Record, error) {
	now := o.now()
	rec := &hardware.Record{
		Manufacturer:    r.m.Code,
		VendorID:        id.VendorID,
		Serial:          id.Serial,
		MAC:             id.MAC,
		IP:              id.IP,
		Name:            id.Name,
		Model:           id.Model,
		FirmwareVersion: id.Firmware,
		Role:            o.role(r.m, id),
		Status:          hardware.StatusDiscovered,
		LastSeen:        now,
	}
	o.capability(rec, id)

	if err := o.opts.Records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record for %s: %w", id, err)
	}
	r.events = append(r.events, event.New(event.EntityHardwareRecord, rec.ID, event.TypeCreated, event.OpCreate, nil, recordValues(rec)))

	evs, err := o.walk(ctx, rec, hardware.StatusOnline)
	r.events = append(r.events, evs...)
	if err != nil {
		return rec, fmt.Errorf("bringing %s online: %w", rec.ID, err)
	}

	if err := o.reconcileChannels(ctx, r, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// update refreshes the matched record from the report. Status is left as
// is, except that a record the stale sweep took offline comes back online.
func (o *Orchestrator) update(ctx context.Context, r *run, cls dedup.Result) error {
	id := cls.Identity
	rec := cls.Match.Clone()
	old := recordValues(rec)

	if id.IP != "" {
		rec.IP = id.IP
	}
	if rec.VendorID == "" {
		rec.VendorID = id.VendorID
	}
	if rec.Serial == "" {
		rec.Serial = id.Serial
	}
	if rec.MAC == "" {
		rec.MAC = id.MAC
	}
	if id.Role != "" {
		rec.Role = id.Role
	}
	if id.Model != "" {
		rec.Model = id.Model
	}
	if id.Name != "" {
		rec.Name = id.Name
	}
	if id.Firmware != "" {
		rec.FirmwareVersion = id.Firmware
	}
	o.capability(rec, id)
	rec.LastSeen = o.now()

	if err := o.opts.Records.Update(ctx, rec); err != nil {
		return fmt.Errorf("updating %s: %w", rec.ID, err)
	}
	r.index.Put(*rec)
	r.seen[rec.ID] = struct{}{}

	typ := event.TypeUpdated
	if cls.Outcome == dedup.OutcomeMoved {
		typ = event.TypeMoved
	}
	r.events = append(r.events, event.New(event.EntityHardwareRecord, rec.ID, typ, event.OpUpdate, old, recordValues(rec)))

	if rec.Stale && rec.Status == hardware.StatusOffline {
		evs, err := o.walk(ctx, rec, hardware.StatusOnline)
		r.events = append(r.events, evs...)
		if err != nil {
			return fmt.Errorf("recovering stale %s: %w", rec.ID, err)
		}
		r.index.Put(*rec)
		o.logger.Info("stale record reported again", "manufacturer", r.m.Code, "record_id", rec.ID)
	}

	return o.reconcileChannels(ctx, r, rec)
}

// conflict queues the conflict for an operator. A repeat of an open
// conflict only bumps its occurrence count and emits no event.
func (o *Orchestrator) conflict(ctx context.Context, r *run, cls dedup.Result) error {
	id := cls.Identity
	c := &hardware.Conflict{
		Manufacturer:     r.m.Code,
		ReportedVendorID: id.VendorID,
		ReportedSerial:   id.Serial,
		ReportedMAC:      id.MAC,
		ReportedIP:       id.IP,
		Reason:           cls.Reason,
	}
	if cls.Match != nil {
		c.MatchedRecordID = cls.Match.ID
		r.seen[cls.Match.ID] = struct{}{}
	}
	if cls.Rival != nil {
		c.IPHolderID = cls.Rival.ID
	}

	o.logger.Warn("identity conflict", "manufacturer", r.m.Code, "error", cls.Err())

	if o.opts.Conflicts == nil {
		return nil
	}
	created, err := o.opts.Conflicts.Record(ctx, c)
	if err != nil {
		return fmt.Errorf("queueing conflict: %w", err)
	}
	if created {
		r.events = append(r.events, event.New(event.EntityConflict, c.ID, event.TypeConflictDetected, event.OpCreate, nil,
			map[string]any{
				"manufacturer":      c.Manufacturer,
				"reason":            c.Reason,
				"reported_ip":       c.ReportedIP,
				"reported_serial":   c.ReportedSerial,
				"matched_record_id": c.MatchedRecordID,
				"ip_holder_id":      c.IPHolderID,
			},
		))
	}
	return nil
}

// sweep takes online and degraded records offline when they were not
// reported this pass and have not been seen within StaleAfter.
func (o *Orchestrator) sweep(ctx context.Context, r *run) {
	if o.opts.StaleAfter <= 0 {
		return
	}
	cutoff := o.now().Add(-o.opts.StaleAfter)

	for _, rec := range r.index.Records() {
		if _, ok := r.seen[rec.ID]; ok {
			continue
		}
		if !rec.Status.OnlineClass() || rec.LastSeen.IsZero() || !rec.LastSeen.Before(cutoff) {
			continue
		}
		lastSeen := rec.LastSeen
		evs, err := o.walk(ctx, &rec, hardware.StatusOffline)
		r.events = append(r.events, evs...)
		if err != nil {
			r.res.fail(fmt.Errorf("marking %s offline: %w", rec.ID, err))
			continue
		}
		// The transition stamped LastSeen; keep the real last sighting.
		rec.LastSeen = lastSeen
		rec.Stale = true
		if err := o.opts.Records.UpdateLifecycle(ctx, &rec); err != nil {
			o.logger.Warn("flagging stale record failed", "record_id", rec.ID, "error", err)
		}
		r.index.Put(rec)
		r.res.Staled++
		o.logger.Info("record went stale", "manufacturer", r.m.Code, "record_id", rec.ID, "last_seen", lastSeen)
	}
}

// walk drives rec to status, retrying contended steps with exponential
// backoff. Events of every completed step are returned.
func (o *Orchestrator) walk(ctx context.Context, rec *hardware.Record, to hardware.Status) ([]event.Event, error) {
	var events []event.Event

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = transitionInitialBackoff
	bo.MaxInterval = transitionMaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		evs, err := o.machine.Walk(ctx, rec, to)
		events = append(events, evs...)
		if err != nil && !lifecycle.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(o.opts.TransitionRetries)+1),
	)
	return events, err
}

func (o *Orchestrator) reconcileChannels(ctx context.Context, r *run, rec *hardware.Record) error {
	if o.opts.Slots == nil {
		return nil
	}
	_, evs, err := o.channels.Reconcile(ctx, rec)
	r.events = append(r.events, evs...)
	if err != nil {
		return fmt.Errorf("reconciling channels of %s: %w", rec.ID, err)
	}
	return nil
}

// capability sets capacity from the report, falling back to the model
// table. The exempt flag always comes from the table.
func (o *Orchestrator) capability(rec *hardware.Record, id identity.Identity) {
	c, known := o.opts.Capabilities.Lookup(rec.Manufacturer, rec.Model)
	switch {
	case id.HasCapacity():
		rec.Capacity = id.Capacity
	case known:
		rec.Capacity = c.Capacity
	}
	if known {
		rec.CapacityExempt = c.Exempt
	}
}

func (o *Orchestrator) role(m Manufacturer, id identity.Identity) hardware.Role {
	switch {
	case id.Role != "":
		return id.Role
	case m.DefaultRole != "":
		return m.DefaultRole
	default:
		return fallbackRole
	}
}

func recordValues(rec *hardware.Record) map[string]any {
	return map[string]any{
		"vendor_id": rec.VendorID,
		"serial":    rec.Serial,
		"mac":       rec.MAC,
		"ip":        rec.IP,
		"model":     rec.Model,
		"role":      string(rec.Role),
		"status":    string(rec.Status),
		"capacity":  rec.Capacity,
	}
}
