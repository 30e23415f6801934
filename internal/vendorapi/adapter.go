package vendorapi

import (
	"context"
	"time"
)

// Payload is one device as decoded from a vendor API. Numbers are
// json.Number when the adapter decodes with UseNumber.
type Payload map[string]any

// HealthStatus is the coarse state of a vendor API.
type HealthStatus string

// Health states.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of an adapter health check.
type Health struct {
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// OK reports whether the API is usable.
func (h Health) OK() bool {
	return h.Status == HealthHealthy || h.Status == HealthDegraded
}

// Adapter wraps one manufacturer's API.
type Adapter interface {
	// ListDevices returns every device the vendor currently reports.
	ListDevices(ctx context.Context) ([]Payload, error)

	// RemoteDiscoveryIPs returns the vendor's discovery list.
	RemoteDiscoveryIPs(ctx context.Context) ([]string, error)

	// AddDiscoveryIP registers ip. Returns false when the vendor already
	// had it.
	AddDiscoveryIP(ctx context.Context, ip string) (bool, error)

	// RemoveDiscoveryIP unregisters ip. Returns false when the vendor did
	// not have it.
	RemoveDiscoveryIP(ctx context.Context, ip string) (bool, error)

	// CheckHealth checks that the API is reachable.
	CheckHealth(ctx context.Context) (Health, error)
}
