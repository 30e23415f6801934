package fleet

import (
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/identity"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

// fallbackRole is assigned when neither the payload nor the manufacturer
// configuration names a role.
const fallbackRole = hardware.RoleTransceiver

// Manufacturer is the per-vendor sync configuration.
type Manufacturer struct {
	Code        string
	Fields      identity.FieldMap
	DefaultRole hardware.Role
}

// ManufacturersFromConfig converts the active manufacturers of cfg.
func ManufacturersFromConfig(cfg *config.Config) []Manufacturer {
	active := cfg.ActiveManufacturers()
	out := make([]Manufacturer, 0, len(active))
	for _, m := range active {
		role, _ := hardware.ParseRole(m.DefaultRole)
		out = append(out, Manufacturer{
			Code:        m.Code,
			Fields:      FieldMapFromConfig(m.Fields),
			DefaultRole: role,
		})
	}
	return out
}

// FieldMapFromConfig maps configured payload keys onto a FieldMap. Empty
// entries take the resolver defaults.
func FieldMapFromConfig(f config.FieldsConfig) identity.FieldMap {
	return identity.FieldMap{
		VendorID: f.VendorID,
		Serial:   f.Serial,
		MAC:      f.MAC,
		IP:       f.IP,
		Role:     f.Role,
		Model:    f.Model,
		Name:     f.Name,
		Firmware: f.Firmware,
		Capacity: f.Capacity,
	}.WithDefaults()
}

// CapabilitiesFromConfig builds the model capability table of every
// configured manufacturer. A positive default_capacity becomes the
// manufacturer fallback.
func CapabilitiesFromConfig(cfg *config.Config) *hardware.CapabilityTable {
	table := hardware.NewCapabilityTable()
	for _, m := range cfg.Manufacturers {
		for model, c := range m.Capabilities {
			table.Set(m.Code, model, hardware.Capability{Capacity: c.Capacity, Exempt: c.Exempt})
		}
		if m.DefaultCapacity > 0 {
			table.SetDefault(m.Code, hardware.Capability{Capacity: m.DefaultCapacity})
		}
	}
	return table
}
