package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck once the client is closed
	// or the server stops answering pings.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the initial ping failure in Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
