package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Everything the sync service publishes lives under
// fleetsync/.
const (
	// TopicPrefixCore is the base for reconciliation topics.
	TopicPrefixCore = "fleetsync/core"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "fleetsync/system"
)

// Topics provides builders for fleetsync MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.JobProgress("2f0c...")   // fleetsync/core/job/2f0c.../progress
type Topics struct{}

// Event returns the topic a domain event is broadcast on.
//
// Example: fleetsync/core/event/hardware_record/status_changed
func (Topics) Event(entity, eventType string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixCore, entity, eventType)
}

// JobProgress returns the retained progress topic of a discovery job.
//
// Example: fleetsync/core/job/0b7c.../progress
func (Topics) JobProgress(jobID string) string {
	return fmt.Sprintf("%s/job/%s/progress", TopicPrefixCore, jobID)
}

// JobCancel returns the topic operators publish to request cancellation.
//
// Example: fleetsync/core/job/0b7c.../cancel
func (Topics) JobCancel(jobID string) string {
	return fmt.Sprintf("%s/job/%s/cancel", TopicPrefixCore, jobID)
}

// SyncSummary returns the retained topic for the latest fleet sync summary.
//
// Example: fleetsync/core/sync/summary
func (Topics) SyncSummary() string {
	return fmt.Sprintf("%s/sync/summary", TopicPrefixCore)
}

// Conflict returns the topic a new dedup conflict is announced on.
//
// Example: fleetsync/core/conflict/acme
func (Topics) Conflict(manufacturer string) string {
	return fmt.Sprintf("%s/conflict/%s", TopicPrefixCore, manufacturer)
}

// SystemStatus returns the service status topic, also used for the LWT.
//
// Example: fleetsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents matches every domain event.
//
// Pattern: fleetsync/core/event/#
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/#", TopicPrefixCore)
}

// AllJobCancels matches cancellation requests for any job.
//
// Pattern: fleetsync/core/job/+/cancel
func (Topics) AllJobCancels() string {
	return fmt.Sprintf("%s/job/+/cancel", TopicPrefixCore)
}

// JobIDFromCancelTopic extracts the job id from a JobCancel topic.
func JobIDFromCancelTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixCore+"/job/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/cancel")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// AllTopics matches everything under fleetsync/.
//
// Pattern: fleetsync/#
func (Topics) AllTopics() string {
	return "fleetsync/#"
}
