package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/candidate"
	"github.com/nerrad567/fleetsync-core/internal/event"
	"github.com/nerrad567/fleetsync-core/internal/identity"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 25

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

// Action is the kind of submission made to the vendor.
type Action string

// Actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Submission is the outcome of one IP submitted to the vendor.
type Submission struct {
	IP     string
	Action Action
	// Applied is false when the vendor reported nothing to do.
	Applied bool
	Err     error
}

// Plan is the computed difference between candidates and the remote list.
type Plan struct {
	Manufacturer string
	Candidates   []candidate.Candidate
	Remote       []string
	ToAdd        []string
	ToRemove     []string
	ScanErrors   []error

	// RemovalsSkipped is set when a candidate source failed; ToRemove is
	// then empty.
	RemovalsSkipped bool
}

// Empty reports whether the vendor list already matches.
func (p *Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Report summarizes one run.
type Report struct {
	JobID        string
	Manufacturer string
	Plan         *Plan
	Submissions  []Submission
	Added        int
	Removed      int
	Failed       int
	Cancelled    bool
	Duration     time.Duration
}

// Failures returns the submissions that returned an error.
func (r *Report) Failures() []Submission {
	var out []Submission
	for _, s := range r.Submissions {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Options configures a Reconciler.
type Options struct {
	// Sources selects candidate sources per manufacturer. Manufacturers
	// without an entry use inventory IPs only.
	Sources map[string]candidate.Config

	Records  candidate.RecordLister
	Manual   candidate.ManualLister
	Resolver candidate.Resolver

	BatchSize int
	Events    event.Sink
}

// Reconciler runs discovery reconciliation for one manufacturer at a time.
type Reconciler struct {
	adapters map[string]vendorapi.Adapter
	tracker  *Tracker
	opts     Options
	sinks    []ProgressSink
	logger   Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(adapters map[string]vendorapi.Adapter, tracker *Tracker, opts Options) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Events == nil {
		opts.Events = event.Discard{}
	}
	return &Reconciler{
		adapters: adapters,
		tracker:  tracker,
		opts:     opts,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// AddProgressSink registers a sink for job snapshots.
func (r *Reconciler) AddProgressSink(s ProgressSink) {
	r.sinks = append(r.sinks, s)
}

// Manufacturers returns the manufacturers with an adapter, sorted.
func (r *Reconciler) Manufacturers() []string {
	out := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

// Plan computes the diff for manufacturer without submitting anything.
func (r *Reconciler) Plan(ctx context.Context, manufacturer string) (*Plan, error) {
	adapter, ok := r.adapters[manufacturer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownManufacturer, manufacturer)
	}
	remote, err := adapter.RemoteDiscoveryIPs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteFetch, manufacturer, err)
	}

	plan := &Plan{Manufacturer: manufacturer, Remote: remote}
	for c, err := range r.builder(manufacturer).Candidates(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			plan.ScanErrors = append(plan.ScanErrors, err)
			continue
		}
		plan.Candidates = append(plan.Candidates, c)
	}
	plan.diff()
	return plan, nil
}

// Run reconciles the vendor discovery list of manufacturer. The returned
// Report is non-nil whenever a job was started, including failed and
// cancelled runs.
func (r *Reconciler) Run(ctx context.Context, manufacturer string) (*Report, error) {
	adapter, ok := r.adapters[manufacturer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownManufacturer, manufacturer)
	}

	job, err := r.tracker.begin(ctx, manufacturer)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	report := &Report{JobID: job.ID, Manufacturer: manufacturer}
	r.publish(job)

	log := r.logger
	log.Info("discovery run started", "manufacturer", manufacturer, "job_id", job.ID)

	remote, err := adapter.RemoteDiscoveryIPs(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRemoteFetch, manufacturer, err)
		r.finish(ctx, job, report, start, err)
		return report, err
	}

	plan := &Plan{Manufacturer: manufacturer, Remote: remote}
	report.Plan = plan
	builder := r.builder(manufacturer)
	job.ItemsTotal = builder.Estimate(ctx)
	batch := r.opts.BatchSize

	for c, err := range builder.Candidates(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("candidate source failed", "manufacturer", manufacturer, "error", err)
			plan.ScanErrors = append(plan.ScanErrors, err)
			continue
		}
		plan.Candidates = append(plan.Candidates, c)
		job.ItemsScanned++
		job.ItemsProcessed = min(job.ItemsScanned, job.ItemsTotal)
		if job.ItemsScanned%batch == 0 {
			job = r.checkpoint(ctx, job)
			if r.cancelled(ctx, job) {
				break
			}
		}
	}
	if r.cancelled(ctx, job) {
		report.Cancelled = true
		r.finish(ctx, job, report, start, ErrCancelled)
		return report, ErrCancelled
	}

	plan.diff()
	job.ItemsTotal = job.ItemsScanned + len(plan.ToAdd) + len(plan.ToRemove)
	job.ItemsProcessed = job.ItemsScanned
	job = r.checkpoint(ctx, job)

	work := make([]Submission, 0, len(plan.ToAdd)+len(plan.ToRemove))
	for _, ip := range plan.ToAdd {
		work = append(work, Submission{IP: ip, Action: ActionAdd})
	}
	for _, ip := range plan.ToRemove {
		work = append(work, Submission{IP: ip, Action: ActionRemove})
	}

	for i := range work {
		if i%batch == 0 && r.cancelled(ctx, job) {
			report.Cancelled = true
			r.finish(ctx, job, report, start, ErrCancelled)
			return report, ErrCancelled
		}

		s := &work[i]
		r.submit(ctx, adapter, s)
		report.Submissions = append(report.Submissions, *s)
		job.ItemsProcessed++

		switch {
		case s.Err != nil:
			report.Failed++
			log.Warn("discovery submission failed",
				"manufacturer", manufacturer,
				"ip", s.IP,
				"action", s.Action,
				"error", s.Err,
			)
		case s.Applied && s.Action == ActionAdd:
			report.Added++
			job.ItemsSubmitted++
		case s.Applied && s.Action == ActionRemove:
			report.Removed++
			job.ItemsSubmitted++
		}

		if (i+1)%batch == 0 {
			job = r.checkpoint(ctx, job)
		}
	}

	r.finish(ctx, job, report, start, nil)
	return report, nil
}

// RunAll runs every manufacturer in turn. A failing manufacturer does not
// stop the others; errors are joined.
func (r *Reconciler) RunAll(ctx context.Context) ([]*Report, error) {
	var (
		reports []*Report
		errs    []error
	)
	for _, code := range r.Manufacturers() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := r.Run(ctx, code)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
		}
	}
	return reports, errors.Join(errs...)
}

func (r *Reconciler) builder(manufacturer string) *candidate.Builder {
	cfg, ok := r.opts.Sources[manufacturer]
	if !ok {
		cfg = candidate.Config{IncludeInventory: true}
	}
	cfg.Manufacturer = manufacturer
	return candidate.NewBuilder(cfg, r.opts.Records, r.opts.Manual, r.opts.Resolver)
}

func (r *Reconciler) submit(ctx context.Context, adapter vendorapi.Adapter, s *Submission) {
	switch s.Action {
	case ActionAdd:
		s.Applied, s.Err = adapter.AddDiscoveryIP(ctx, s.IP)
	case ActionRemove:
		s.Applied, s.Err = adapter.RemoveDiscoveryIP(ctx, s.IP)
	}
}

func (r *Reconciler) cancelled(ctx context.Context, job Job) bool {
	return ctx.Err() != nil || job.CancelRequested || r.tracker.cancelRequested(job.ID)
}

// checkpoint persists and publishes job.
func (r *Reconciler) checkpoint(ctx context.Context, job Job) Job {
	saved, err := r.tracker.save(ctx, job)
	if err != nil {
		r.logger.Warn("persisting job progress failed", "job_id", job.ID, "error", err)
	}
	r.publish(saved)
	return saved
}

func (r *Reconciler) finish(ctx context.Context, job Job, report *Report, start time.Time, runErr error) {
	job.FinishedAt = r.tracker.now()
	job.Status = StatusSuccess
	if runErr != nil {
		job.Status = StatusFailed
	}
	job.ErrorNote = note(report, runErr)
	report.Duration = time.Since(start)

	// The run context may already be cancelled; the final state must land.
	job = r.checkpoint(context.WithoutCancel(ctx), job)

	r.opts.Events.Dispatch(event.New(event.EntityJob, job.ID, event.TypeJobFinished, event.OpBroadcast, nil,
		map[string]any{
			"manufacturer":    job.Manufacturer,
			"status":          string(job.Status),
			"items_total":     job.ItemsTotal,
			"items_processed": job.ItemsProcessed,
			"items_submitted": job.ItemsSubmitted,
			"error_note":      job.ErrorNote,
		},
	))

	r.logger.Info("discovery run finished",
		"manufacturer", job.Manufacturer,
		"job_id", job.ID,
		"status", job.Status,
		"added", report.Added,
		"removed", report.Removed,
		"failed", report.Failed,
		"duration", report.Duration,
	)
}

func (r *Reconciler) publish(job Job) {
	for _, s := range r.sinks {
		s.JobProgress(job)
	}
}

func note(report *Report, runErr error) string {
	var parts []string
	if runErr != nil {
		parts = append(parts, runErr.Error())
	}
	if report.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d of %d submissions failed", report.Failed, len(report.Submissions)))
	}
	if report.Plan != nil && len(report.Plan.ScanErrors) > 0 {
		parts = append(parts, fmt.Sprintf("%d candidate source errors, removals skipped", len(report.Plan.ScanErrors)))
	}
	return strings.Join(parts, "; ")
}

// diff fills ToAdd and ToRemove. Remote entries are compared in normalized
// form but removed using the vendor's own spelling.
func (p *Plan) diff() {
	remote := make(map[string]string, len(p.Remote))
	for _, raw := range p.Remote {
		key := identity.NormalizeIP(raw)
		if key == "" {
			key = strings.TrimSpace(raw)
		}
		if key == "" {
			continue
		}
		if _, dup := remote[key]; !dup {
			remote[key] = raw
		}
	}

	local := make(map[string]struct{}, len(p.Candidates))
	p.ToAdd = nil
	for _, c := range p.Candidates {
		local[c.IP] = struct{}{}
		if _, ok := remote[c.IP]; !ok {
			p.ToAdd = append(p.ToAdd, c.IP)
		}
	}

	p.ToRemove = nil
	p.RemovalsSkipped = len(p.ScanErrors) > 0
	if p.RemovalsSkipped {
		return
	}
	for key, raw := range remote {
		if _, ok := local[key]; !ok {
			p.ToRemove = append(p.ToRemove, raw)
		}
	}
	slices.SortFunc(p.ToRemove, compareIP)
}

func compareIP(a, b string) int {
	aa, errA := netip.ParseAddr(identity.NormalizeIP(a))
	bb, errB := netip.ParseAddr(identity.NormalizeIP(b))
	switch {
	case errA == nil && errB == nil:
		return aa.Compare(bb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
