package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxFinishedInMemory bounds how many terminal jobs the tracker keeps for
// Get without a repository round trip.
const maxFinishedInMemory = 100

// Tracker owns the job status surface: live snapshots of running jobs and
// the persisted history behind them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Tracker struct {
	repo JobRepository
	now  func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*Job
	order  []string
	active map[string]string // manufacturer -> running job id
}

// NewTracker creates a Tracker. repo may be nil for an in-memory tracker.
func NewTracker(repo JobRepository) *Tracker {
	return &Tracker{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
	}
}

// Get returns a snapshot of the job.
func (t *Tracker) Get(ctx context.Context, id string) (Job, error) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	var snap Job
	if ok {
		snap = *job
	}
	t.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if t.repo == nil {
		return Job{}, ErrJobNotFound
	}
	stored, err := t.repo.GetByID(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return *stored, nil
}

// List returns jobs newest first. With a repository the persisted history
// is returned, overlaid with the live state of running jobs.
func (t *Tracker) List(ctx context.Context) ([]Job, error) {
	if t.repo == nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		out := make([]Job, 0, len(t.order))
		for _, id := range slices.Backward(t.order) {
			out = append(out, *t.jobs[id])
		}
		return out, nil
	}

	jobs, err := t.repo.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	for i := range jobs {
		if live, ok := t.jobs[jobs[i].ID]; ok {
			jobs[i] = *live
		}
	}
	t.mu.RUnlock()
	return jobs, nil
}

// Cancel raises the cancel flag of an unfinished job. The run notices at
// its next batch boundary.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if ok {
		if job.Status.Terminal() {
			t.mu.Unlock()
			return ErrJobFinished
		}
		job.CancelRequested = true
	}
	t.mu.Unlock()

	if t.repo == nil {
		if !ok {
			return ErrJobNotFound
		}
		return nil
	}
	return t.repo.RequestCancel(ctx, id)
}

// Active returns the running job id for manufacturer, if any.
func (t *Tracker) Active(manufacturer string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.active[manufacturer]
	return id, ok
}

func (t *Tracker) cancelRequested(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	return ok && job.CancelRequested
}

// begin creates and starts a job. Only one run per manufacturer may be
// in flight.
func (t *Tracker) begin(ctx context.Context, manufacturer string) (Job, error) {
	now := t.now()
	job := Job{
		ID:           uuid.NewString(),
		Manufacturer: manufacturer,
		Status:       StatusPending,
		CreatedAt:    now,
	}

	t.mu.Lock()
	if id, busy := t.active[manufacturer]; busy {
		t.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s (job %s)", ErrManufacturerBusy, manufacturer, id)
	}
	t.active[manufacturer] = job.ID
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.Create(ctx, &job); err != nil {
			t.mu.Lock()
			delete(t.active, manufacturer)
			t.mu.Unlock()
			return Job{}, fmt.Errorf("creating job: %w", err)
		}
	}

	job.Status = StatusRunning
	job.StartedAt = now

	t.mu.Lock()
	stored := job
	t.jobs[job.ID] = &stored
	t.order = append(t.order, job.ID)
	t.mu.Unlock()

	started, err := t.save(ctx, job)
	if err != nil {
		return Job{}, t.abandon(ctx, started, err)
	}
	return started, nil
}

// abandon fails a job that could not be started, releasing its
// manufacturer, and returns cause joined with any error saving the failure.
func (t *Tracker) abandon(ctx context.Context, job Job, cause error) error {
	job.Status = StatusFailed
	job.FinishedAt = t.now()
	job.ErrorNote = cause.Error()
	if _, err := t.save(ctx, job); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// save stores job, merging a cancel request raised since the caller's
// copy was taken, and returns the merged snapshot. Terminal jobs release
// their manufacturer.
func (t *Tracker) save(ctx context.Context, job Job) (Job, error) {
	t.mu.Lock()
	if cur, ok := t.jobs[job.ID]; ok && cur.CancelRequested {
		job.CancelRequested = true
	}
	stored := job
	t.jobs[job.ID] = &stored
	if job.Status.Terminal() {
		if t.active[job.Manufacturer] == job.ID {
			delete(t.active, job.Manufacturer)
		}
		t.trimLocked()
	}
	t.mu.Unlock()

	if t.repo == nil {
		return job, nil
	}
	if err := t.repo.Update(ctx, &job); err != nil {
		return job, fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return job, nil
}

// trimLocked drops the oldest terminal jobs beyond maxFinishedInMemory.
// Without a repository nothing is dropped; memory is the only history.
func (t *Tracker) trimLocked() {
	if t.repo == nil {
		return
	}
	finished := 0
	for _, id := range t.order {
		if t.jobs[id].Status.Terminal() {
			finished++
		}
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if finished > maxFinishedInMemory && t.jobs[id].Status.Terminal() {
			delete(t.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}
