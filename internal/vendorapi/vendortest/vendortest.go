// Package vendortest provides an in-memory vendorapi.Adapter for tests.
package vendortest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
)

// Adapter is an in-memory vendorapi.Adapter. Set the exported error fields to
// make the corresponding calls fail.
type Adapter struct {
	mu        sync.Mutex
	devices   []vendorapi.Payload
	discovery map[string]struct{}

	ListErr      error
	RemoteErr    error
	HealthErr    error
	Health       vendorapi.Health
	AddErrs      map[string]error
	RemoveErrs   map[string]error
	ListCalls    int
	AddCalls     int
	RemoveCalls  int
	HealthCalled bool
}

// New creates an empty, healthy Adapter.
func New() *Adapter {
	return &Adapter{
		discovery: make(map[string]struct{}),
		Health:    vendorapi.Health{Status: vendorapi.HealthHealthy},
	}
}

// SetDevices replaces the reported device list.
func (a *Adapter) SetDevices(devices ...vendorapi.Payload) {
	a.mu.Lock()
	a.devices = devices
	a.mu.Unlock()
}

// SetDiscovery replaces the remote discovery list.
func (a *Adapter) SetDiscovery(ips ...string) {
	a.mu.Lock()
	a.discovery = make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		a.discovery[ip] = struct{}{}
	}
	a.mu.Unlock()
}

// ListDevices implements vendorapi.Adapter.
func (a *Adapter) ListDevices(context.Context) ([]vendorapi.Payload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ListCalls++
	if a.ListErr != nil {
		return nil, a.ListErr
	}
	return slices.Clone(a.devices), nil
}

// RemoteDiscoveryIPs implements vendorapi.Adapter. The list is sorted.
func (a *Adapter) RemoteDiscoveryIPs(context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return nil, a.RemoteErr
	}
	return slices.Sorted(maps.Keys(a.discovery)), nil
}

// AddDiscoveryIP implements vendorapi.Adapter.
func (a *Adapter) AddDiscoveryIP(_ context.Context, ip string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AddCalls++
	if err := a.AddErrs[ip]; err != nil {
		return false, err
	}
	if _, ok := a.discovery[ip]; ok {
		return false, nil
	}
	a.discovery[ip] = struct{}{}
	return true, nil
}

// RemoveDiscoveryIP implements vendorapi.Adapter.
func (a *Adapter) RemoveDiscoveryIP(_ context.Context, ip string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RemoveCalls++
	if err := a.RemoveErrs[ip]; err != nil {
		return false, err
	}
	if _, ok := a.discovery[ip]; !ok {
		return false, nil
	}
	delete(a.discovery, ip)
	return true, nil
}

// CheckHealth implements vendorapi.Adapter.
func (a *Adapter) CheckHealth(context.Context) (vendorapi.Health, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.HealthCalled = true
	h := a.Health
	h.CheckedAt = time.Now().UTC()
	return h, a.HealthErr
}
