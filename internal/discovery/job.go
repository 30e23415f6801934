package discovery

import "time"

// Status is the state of a reconciliation job.
type Status string

// Job states. Success and Failed are terminal.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job tracks one discovery run.
// This matches reconciliation_jobs in migrations/20261018_120000_fleet_schema.up.sql.
type Job struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`
	Status       Status `json:"status"`

	ItemsTotal     int `json:"items_total"`
	ItemsProcessed int `json:"items_processed"`
	ItemsScanned   int `json:"items_scanned"`
	ItemsSubmitted int `json:"items_submitted"`

	CancelRequested bool   `json:"cancel_requested"`
	ErrorNote       string `json:"error_note,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Progress returns processed/total in [0, 1].
func (j Job) Progress() float64 {
	if j.ItemsTotal <= 0 {
		if j.Status.Terminal() {
			return 1
		}
		return 0
	}
	p := float64(j.ItemsProcessed) / float64(j.ItemsTotal)
	return min(p, 1)
}
