// Package influxdb records sync and discovery history in InfluxDB.
//
// It wraps influxdb-client-go v2 with connection verification, batched
// non-blocking writes and health checks. Two measurements are written:
//
//	fleet_sync     per-manufacturer outcome of each sync run
//	discovery_job  progress snapshots of discovery reconciliation jobs
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSyncResult(influxdb.SyncPoint{Manufacturer: "acme", Updated: 12})
//
// Write failures surface asynchronously through SetOnError; connection and
// health check errors are returned directly.
package influxdb
