package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/identity"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

func TestManufacturersFromConfig(t *testing.T) {
	cfg := &config.Config{Manufacturers: []config.ManufacturerConfig{
		{Code: "acme", Active: true, DefaultRole: "tx", Fields: config.FieldsConfig{VendorID: "deviceId", IP: "net.ipv4"}},
		{Code: "bravo", Active: false},
		{Code: "charlie", Active: true, DefaultRole: "bogus"},
	}}

	ms := ManufacturersFromConfig(cfg)
	require.Len(t, ms, 2)
	assert.Equal(t, "acme", ms[0].Code)
	assert.Equal(t, hardware.RoleTransmitter, ms[0].DefaultRole)
	assert.Equal(t, "deviceId", ms[0].Fields.VendorID)
	assert.Equal(t, "net.ipv4", ms[0].Fields.IP)
	assert.Equal(t, identity.DefaultFieldMap().Serial, ms[0].Fields.Serial)
	assert.Empty(t, ms[1].DefaultRole)
}

func TestCapabilitiesFromConfig(t *testing.T) {
	cfg := &config.Config{Manufacturers: []config.ManufacturerConfig{{
		Code:            "acme",
		DefaultCapacity: 2,
		Capabilities: map[string]config.CapabilityConfig{
			"ULXD4Q": {Capacity: 4},
			"AD4Q":   {Capacity: 4, Exempt: true},
		},
	}}}

	table := CapabilitiesFromConfig(cfg)

	c, ok := table.Lookup("acme", "ulxd4q")
	require.True(t, ok)
	assert.Equal(t, 4, c.Capacity)
	assert.False(t, c.Exempt)

	c, ok = table.Lookup("acme", "AD4Q")
	require.True(t, ok)
	assert.True(t, c.Exempt)

	c, ok = table.Lookup("acme", "unknown")
	require.True(t, ok)
	assert.Equal(t, 2, c.Capacity)

	_, ok = table.Lookup("bravo", "ULXD4Q")
	assert.False(t, ok)
}

func TestCounts_Add(t *testing.T) {
	a := Counts{Created: 1, Errored: 2, Staled: 1}
	b := Counts{Created: 2, Updated: 3, Skipped: 1}
	assert.Equal(t, Counts{Created: 3, Updated: 3, Errored: 2, Skipped: 1, Staled: 1}, a.Add(b))
}
