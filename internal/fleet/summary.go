package fleet

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
)

// Counts tallies sync outcomes.
type Counts struct {
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Conflicted   int `json:"conflicted"`
	Errored      int `json:"errored"`
	Unresolvable int `json:"unresolvable"`
	Skipped      int `json:"skipped"`
	Staled       int `json:"staled"`
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Created:      c.Created + o.Created,
		Updated:      c.Updated + o.Updated,
		Conflicted:   c.Conflicted + o.Conflicted,
		Errored:      c.Errored + o.Errored,
		Unresolvable: c.Unresolvable + o.Unresolvable,
		Skipped:      c.Skipped + o.Skipped,
		Staled:       c.Staled + o.Staled,
	}
}

// ManufacturerResult is the outcome of one manufacturer within a sync.
type ManufacturerResult struct {
	Manufacturer string `json:"manufacturer"`
	Counts

	// Aborted is set when a manufacturer-level failure stopped the run.
	Aborted bool `json:"aborted"`

	Health   *vendorapi.Health `json:"health,omitempty"`
	Errors   []error        `json:"-"`
	Duration time.Duration  `json:"duration"`
}

// Err joins the recorded errors, or returns nil.
func (r *ManufacturerResult) Err() error {
	return errors.Join(r.Errors...)
}

func (r *ManufacturerResult) fail(err error) {
	r.Errored++
	r.Errors = append(r.Errors, err)
}

// abort records a failure that stopped the manufacturer before or while
// processing its devices.
func (r *ManufacturerResult) abort(err error) {
	r.Aborted = true
	r.fail(err)
}

// Summary is the outcome of one fleet sync.
type Summary struct {
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
	Manufacturers []ManufacturerResult `json:"manufacturers"`
	Total         Counts               `json:"total"`
}

// Result returns the entry for a manufacturer.
func (s *Summary) Result(code string) (ManufacturerResult, bool) {
	for _, r := range s.Manufacturers {
		if r.Manufacturer == code {
			return r, true
		}
	}
	return ManufacturerResult{}, false
}

// totals accumulates Counts from concurrent manufacturer runs.
type totals struct {
	created, updated, conflicted, errored atomic.Int64
	unresolvable, skipped, staled         atomic.Int64
}

func (t *totals) add(c Counts) {
	t.created.Add(int64(c.Created))
	t.updated.Add(int64(c.Updated))
	t.conflicted.Add(int64(c.Conflicted))
	t.errored.Add(int64(c.Errored))
	t.unresolvable.Add(int64(c.Unresolvable))
	t.skipped.Add(int64(c.Skipped))
	t.staled.Add(int64(c.Staled))
}

func (t *totals) counts() Counts {
	return Counts{
		Created:      int(t.created.Load()),
		Updated:      int(t.updated.Load()),
		Conflicted:   int(t.conflicted.Load()),
		Errored:      int(t.errored.Load()),
		Unresolvable: int(t.unresolvable.Load()),
		Skipped:      int(t.skipped.Load()),
		Staled:       int(t.staled.Load()),
	}
}
