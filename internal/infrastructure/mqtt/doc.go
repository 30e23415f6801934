// Package mqtt provides the MQTT client used to broadcast fleet events,
// discovery job progress and service status.
//
// The client wraps paho.mqtt.golang with auto-reconnect, a Last Will and
// Testament on fleetsync/system/status, tracked subscriptions that are
// restored after a reconnect, and panic-safe handlers.
//
// # Topics
//
//	fleetsync/core/event/{entity}/{type}    domain events (not retained)
//	fleetsync/core/job/{id}/progress        job snapshots (retained)
//	fleetsync/core/job/{id}/cancel          operator cancel requests
//	fleetsync/core/sync/summary             last sync summary (retained)
//	fleetsync/system/status                 online/offline (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.JobProgress(job.ID), job, true)
package mqtt
