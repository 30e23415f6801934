package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/audit"
	"github.com/nerrad567/fleetsync-core/internal/candidate"
	"github.com/nerrad567/fleetsync-core/internal/discovery"
	"github.com/nerrad567/fleetsync-core/internal/fleet"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetsync-core/internal/lifecycle"
	"github.com/nerrad567/fleetsync-core/internal/scheduler"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi/restapi"
)

// Scheduler task names.
const (
	taskFleetSync = "fleet-sync"
	taskDiscovery = "discovery"
)

const dispatcherCloseTimeout = 5 * time.Second

// app holds the wired components.
type app struct {
	manufacturers []fleet.Manufacturer
	dispatcher    *audit.Dispatcher
	machine       *lifecycle.Machine
	orchestrator  *fleet.Orchestrator
	reconciler    *discovery.Reconciler
	tracker       *discovery.Tracker
	scheduler     *scheduler.Scheduler
}

// build wires the domain components. pub, influx and m may be nil when the
// corresponding infrastructure is disabled.
func build(cfg *config.Config, db *sql.DB, pub mqtt.Publisher, influx *influxdb.Client, m *metrics.Metrics, log *logging.Logger) (*app, error) {
	dispatcher := audit.NewDispatcher(audit.NewSQLiteRepository(db), pub, cfg.Audit.QueueSize)
	dispatcher.SetLogger(log.Component("audit"))
	dispatcher.Start()

	factory := vendorapi.NewFactory()
	factory.Register(restapi.Kind, restapi.Constructor)

	active := cfg.ActiveManufacturers()
	adapters, failures := factory.BuildAll(active)
	for code, a := range adapters {
		if c, ok := a.(*restapi.Client); ok {
			c.SetLogger(log.Component("vendor").With("manufacturer", code))
		}
	}
	for code, err := range failures {
		log.Error("vendor adapter not available", "manufacturer", code, "error", err)
	}

	records := hardware.NewSQLiteRepository(db)
	machine := lifecycle.New(records)
	machine.SetLogger(log.Component("lifecycle"))
	manual := hardware.NewSQLiteCandidateRepository(db)
	manufacturers := fleet.ManufacturersFromConfig(cfg)

	var observers []fleet.Observer
	if influx != nil {
		observers = append(observers, fleet.ObserverFunc(func(r fleet.ManufacturerResult) {
			influx.WriteSyncResult(syncPoint(r))
		}))
	}
	if m != nil {
		observers = append(observers, fleet.ObserverFunc(func(r fleet.ManufacturerResult) {
			m.ObserveSync(syncSample(r))
		}))
	}

	orchestrator := fleet.New(adapters, fleet.Options{
		Manufacturers:     manufacturers,
		AdapterErrors:     failures,
		Records:           records,
		Slots:             hardware.NewSQLiteChannelRepository(db),
		Conflicts:         hardware.NewSQLiteConflictRepository(db),
		Capabilities:      fleet.CapabilitiesFromConfig(cfg),
		Machine:           machine,
		Parallelism:       cfg.Sync.Parallelism,
		StaleAfter:        cfg.GetStaleAfter(),
		TransitionRetries: cfg.Sync.TransitionRetries,
		Events:            dispatcher,
		Observers:         observers,
	})
	orchestrator.SetLogger(log.Component("fleet"))

	tracker := discovery.NewTracker(discovery.NewSQLiteJobRepository(db))
	reconciler := discovery.NewReconciler(adapters, tracker, discovery.Options{
		Sources:   discoverySources(cfg),
		Records:   records,
		Manual:    manual,
		Resolver:  net.DefaultResolver,
		BatchSize: cfg.Discovery.BatchSize,
		Events:    dispatcher,
	})
	reconciler.SetLogger(log.Component("discovery"))
	if pub != nil {
		progress := discovery.NewMQTTProgress(pub)
		progress.SetLogger(log.Component("discovery"))
		reconciler.AddProgressSink(progress)
	}
	if influx != nil {
		reconciler.AddProgressSink(discovery.ProgressFunc(func(j discovery.Job) {
			influx.WriteJobProgress(jobPoint(j))
		}))
	}
	if m != nil {
		reconciler.AddProgressSink(discovery.ProgressFunc(func(j discovery.Job) {
			m.ObserveJob(jobSample(j))
		}))
	}

	sched := scheduler.New()
	sched.SetLogger(log.Component("scheduler"))
	err := sched.Add(scheduler.Task{
		Name:       taskFleetSync,
		Interval:   cfg.GetSyncInterval(),
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			summary, err := orchestrator.Sync(ctx)
			if summary != nil && pub != nil {
				publishSummary(pub, summary, log)
			}
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registering fleet sync task: %w", err)
	}
	err = sched.Add(scheduler.Task{
		Name:     taskDiscovery,
		Interval: cfg.GetDiscoveryInterval(),
		Run: func(ctx context.Context) error {
			_, err := reconciler.RunAll(ctx)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registering discovery task: %w", err)
	}

	return &app{
		manufacturers: manufacturers,
		dispatcher:    dispatcher,
		machine:       machine,
		orchestrator:  orchestrator,
		reconciler:    reconciler,
		tracker:       tracker,
		scheduler:     sched,
	}, nil
}

// close drains the audit queue.
func (a *app) close(log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatcherCloseTimeout)
	defer cancel()
	if err := a.dispatcher.Close(ctx); err != nil {
		log.Warn("audit queue not drained", "error", err, "dropped", a.dispatcher.Dropped())
	}
}

// discoverySources maps each manufacturer's discovery section onto
// candidate sources, applying the global host bound.
func discoverySources(cfg *config.Config) map[string]candidate.Config {
	out := make(map[string]candidate.Config, len(cfg.Manufacturers))
	for _, m := range cfg.ActiveManufacturers() {
		maxHosts := m.Discovery.MaxHosts
		if maxHosts <= 0 {
			maxHosts = cfg.Discovery.MaxHosts
		}
		out[m.Code] = candidate.Config{
			Manufacturer:     m.Code,
			IncludeInventory: m.Discovery.InventoryEnabled(),
			CIDRs:            m.Discovery.CIDRs,
			FQDNs:            m.Discovery.FQDNs,
			MaxHosts:         maxHosts,
		}
	}
	return out
}

// cancelHandler turns messages on fleetsync/core/job/{id}/cancel into
// tracker cancellations.
func cancelHandler(tracker *discovery.Tracker, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, _ []byte) error {
		id, ok := mqtt.JobIDFromCancelTopic(topic)
		if !ok {
			return nil
		}
		if err := tracker.Cancel(context.Background(), id); err != nil {
			log.Warn("job cancel rejected", "job_id", id, "error", err)
			return err
		}
		log.Info("job cancel requested", "job_id", id)
		return nil
	}
}

func publishSummary(pub mqtt.Publisher, summary *fleet.Summary, log *logging.Logger) {
	payload, err := json.Marshal(summary)
	if err != nil {
		log.Warn("encoding sync summary failed", "error", err)
		return
	}
	if err := pub.Publish(mqtt.Topics{}.SyncSummary(), payload, 1, true); err != nil {
		log.Warn("publishing sync summary failed", "error", err)
	}
}

func syncPoint(r fleet.ManufacturerResult) influxdb.SyncPoint {
	return influxdb.SyncPoint{
		Manufacturer: r.Manufacturer,
		Created:      r.Created,
		Updated:      r.Updated,
		Conflicted:   r.Conflicted,
		Errored:      r.Errored,
		Unresolvable: r.Unresolvable,
		Skipped:      r.Skipped,
		Staled:       r.Staled,
		Healthy:      r.Health != nil && r.Health.OK(),
		Duration:     r.Duration,
	}
}

func syncSample(r fleet.ManufacturerResult) metrics.SyncResult {
	return metrics.SyncResult{
		Manufacturer: r.Manufacturer,
		Created:      r.Created,
		Updated:      r.Updated,
		Conflicted:   r.Conflicted,
		Errored:      r.Errored,
		Unresolvable: r.Unresolvable,
		Skipped:      r.Skipped,
		Staled:       r.Staled,
		Healthy:      r.Health != nil && r.Health.OK(),
		Aborted:      r.Aborted,
		Duration:     r.Duration,
	}
}

func jobPoint(j discovery.Job) influxdb.JobPoint {
	return influxdb.JobPoint{
		JobID:          j.ID,
		Manufacturer:   j.Manufacturer,
		Status:         string(j.Status),
		ItemsTotal:     j.ItemsTotal,
		ItemsProcessed: j.ItemsProcessed,
		ItemsScanned:   j.ItemsScanned,
		ItemsSubmitted: j.ItemsSubmitted,
	}
}

func jobSample(j discovery.Job) metrics.JobSnapshot {
	return metrics.JobSnapshot{
		Manufacturer: j.Manufacturer,
		Status:       string(j.Status),
		Terminal:     j.Status.Terminal(),
		Total:        j.ItemsTotal,
		Processed:    j.ItemsProcessed,
		Scanned:      j.ItemsScanned,
		Submitted:    j.ItemsSubmitted,
	}
}
