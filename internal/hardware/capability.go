package hardware

import "strings"

// Capability is the static channel capability of a device model.
type Capability struct {
	Capacity int
	Exempt   bool
}

// CapabilityLookup supplies channel capacity for a manufacturer's model.
type CapabilityLookup interface {
	Lookup(manufacturer, model string) (Capability, bool)
}

// CapabilityTable is an in-memory CapabilityLookup keyed by manufacturer
// and case-insensitive model name, with an optional per-manufacturer default.
type CapabilityTable struct {
	models   map[string]map[string]Capability
	defaults map[string]Capability
}

// NewCapabilityTable creates an empty table.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{
		models:   make(map[string]map[string]Capability),
		defaults: make(map[string]Capability),
	}
}

// Set registers the capability of one model.
func (t *CapabilityTable) Set(manufacturer, model string, c Capability) {
	m, ok := t.models[manufacturer]
	if !ok {
		m = make(map[string]Capability)
		t.models[manufacturer] = m
	}
	m[strings.ToLower(strings.TrimSpace(model))] = c
}

// SetDefault registers the fallback for models without an entry.
func (t *CapabilityTable) SetDefault(manufacturer string, c Capability) {
	t.defaults[manufacturer] = c
}

// Lookup returns the model's capability, falling back to the
// manufacturer default. ok is false when neither exists.
func (t *CapabilityTable) Lookup(manufacturer, model string) (Capability, bool) {
	if m, ok := t.models[manufacturer]; ok && model != "" {
		if c, ok := m[strings.ToLower(strings.TrimSpace(model))]; ok {
			return c, true
		}
	}
	c, ok := t.defaults[manufacturer]
	return c, ok
}
