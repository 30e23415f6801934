package vendorapi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

// Constructor builds an adapter for one manufacturer.
type Constructor func(m config.ManufacturerConfig) (Adapter, error)

// Factory maps adapter kinds to constructors.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Factory struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{kinds: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for kind.
func (f *Factory) Register(kind string, c Constructor) {
	f.mu.Lock()
	f.kinds[kind] = c
	f.mu.Unlock()
}

// Kinds returns the registered kinds, sorted.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.kinds))
	for k := range f.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the adapter for m.
func (f *Factory) Build(m config.ManufacturerConfig) (Adapter, error) {
	if m.Adapter.Kind == "" {
		return nil, fmt.Errorf("%w: manufacturer %s has no adapter kind", ErrNotConfigured, m.Code)
	}

	f.mu.RLock()
	c, ok := f.kinds[m.Adapter.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q for manufacturer %s", ErrUnknownKind, m.Adapter.Kind, m.Code)
	}

	a, err := c(m)
	if err != nil {
		return nil, fmt.Errorf("building %s adapter for %s: %w", m.Adapter.Kind, m.Code, err)
	}
	return a, nil
}

// BuildAll constructs adapters for every manufacturer. Failures are
// returned per manufacturer code rather than aborting the rest.
func (f *Factory) BuildAll(ms []config.ManufacturerConfig) (map[string]Adapter, map[string]error) {
	adapters := make(map[string]Adapter, len(ms))
	failures := make(map[string]error)
	for _, m := range ms {
		a, err := f.Build(m)
		if err != nil {
			failures[m.Code] = err
			continue
		}
		adapters[m.Code] = a
	}
	return adapters, failures
}
