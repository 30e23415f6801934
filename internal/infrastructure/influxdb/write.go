package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementSync = "fleet_sync"
	measurementJob  = "discovery_job"
)

// SyncPoint is the outcome of one manufacturer within a fleet sync run.
type SyncPoint struct {
	Manufacturer string
	Created      int
	Updated      int
	Conflicted   int
	Errored      int
	Unresolvable int
	Skipped      int
	Staled       int
	Healthy      bool
	Duration     time.Duration
	At           time.Time
}

// JobPoint is a progress snapshot of a discovery reconciliation job.
type JobPoint struct {
	JobID          string
	Manufacturer   string
	Status         string
	ItemsTotal     int
	ItemsProcessed int
	ItemsScanned   int
	ItemsSubmitted int
	At             time.Time
}

// WriteSyncResult records one manufacturer's sync outcome.
//
//	client.WriteSyncResult(influxdb.SyncPoint{Manufacturer: "acme", Created: 2})
func (c *Client) WriteSyncResult(p SyncPoint) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementSync,
		map[string]string{
			"manufacturer": p.Manufacturer,
		},
		map[string]interface{}{
			"created":      p.Created,
			"updated":      p.Updated,
			"conflicted":   p.Conflicted,
			"errored":      p.Errored,
			"unresolvable": p.Unresolvable,
			"skipped":      p.Skipped,
			"staled":       p.Staled,
			"healthy":      p.Healthy,
			"duration_ms":  p.Duration.Milliseconds(),
		},
		timestampOrNow(p.At),
	)

	c.writeAPI.WritePoint(point)
}

// WriteJobProgress records a discovery job snapshot. Status is a tag so
// dashboards can filter finished runs.
func (c *Client) WriteJobProgress(p JobPoint) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementJob,
		map[string]string{
			"manufacturer": p.Manufacturer,
			"job_id":       p.JobID,
			"status":       p.Status,
		},
		map[string]interface{}{
			"items_total":     p.ItemsTotal,
			"items_processed": p.ItemsProcessed,
			"items_scanned":   p.ItemsScanned,
			"items_submitted": p.ItemsSubmitted,
		},
		timestampOrNow(p.At),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
