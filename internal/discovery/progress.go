package discovery

import (
	"encoding/json"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/mqtt"
)

// ProgressSink receives job snapshots after every batch and when a job
// finishes. Implementations must not block.
type ProgressSink interface {
	JobProgress(job Job)
}

// MQTTProgress publishes job snapshots retained on
// fleetsync/core/job/{id}/progress.
type MQTTProgress struct {
	pub    mqtt.Publisher
	topics mqtt.Topics
	logger Logger
}

// NewMQTTProgress creates an MQTT progress sink.
func NewMQTTProgress(pub mqtt.Publisher) *MQTTProgress {
	return &MQTTProgress{pub: pub, logger: noopLogger{}}
}

// SetLogger sets the logger for the sink.
func (p *MQTTProgress) SetLogger(logger Logger) {
	p.logger = logger
}

// JobProgress implements ProgressSink.
func (p *MQTTProgress) JobProgress(job Job) {
	payload, err := json.Marshal(job)
	if err != nil {
		p.logger.Warn("encoding job progress failed", "job_id", job.ID, "error", err)
		return
	}
	if err := p.pub.Publish(p.topics.JobProgress(job.ID), payload, 1, true); err != nil {
		p.logger.Warn("publishing job progress failed", "job_id", job.ID, "error", err)
	}
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(job Job)

// JobProgress implements ProgressSink.
func (f ProgressFunc) JobProgress(job Job) {
	f(job)
}
