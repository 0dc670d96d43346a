package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// OfferingRegistry holds the factories of a service and their last
// advertised capabilities. The lock is only held to read or swap entries;
// capabilities are regenerated outside it.
type OfferingRegistry struct {
	obs ports.Observability

	mu        sync.RWMutex
	factories map[string]ports.ProviderFactory
	caps      map[string]ports.Capabilities
}

func NewOfferingRegistry(obs ports.Observability) *OfferingRegistry {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &OfferingRegistry{
		obs:       obs,
		factories: make(map[string]ports.ProviderFactory),
		caps:      make(map[string]ports.Capabilities),
	}
}

// Register adds a factory and computes its first capabilities.
func (r *OfferingRegistry) Register(f ports.ProviderFactory) error {
	id := f.OfferingID()
	r.mu.Lock()
	if _, ok := r.factories[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("offering %q already registered: %w", id, domain.ErrInvalid)
	}
	r.factories[id] = f
	r.mu.Unlock()

	caps, err := f.GenerateCapabilities()
	if err != nil {
		return domain.Wrap(err, "OfferingRegistry", "Register", "generate capabilities")
	}
	r.mu.Lock()
	r.caps[id] = caps
	r.mu.Unlock()
	return nil
}

// Remove unregisters an offering and releases its providers.
func (r *OfferingRegistry) Remove(id string) error {
	r.mu.Lock()
	f, ok := r.factories[id]
	delete(r.factories, id)
	delete(r.caps, id)
	r.mu.Unlock()
	if !ok {
		return domain.NotFound("offering", id)
	}
	f.Cleanup()
	return nil
}

// Get returns the factory of a usable offering: ErrNotFound when unknown,
// ErrDisabled when known but currently unavailable.
func (r *OfferingRegistry) Get(id string) (ports.ProviderFactory, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("offering", id)
	}
	if !f.IsEnabled() {
		return nil, domain.Disabled("offering", id)
	}
	return f, nil
}

// NewProvider mints a provider on the given offering.
func (r *OfferingRegistry) NewProvider(offeringID string, filter domain.DataFilter) (ports.DataProvider, error) {
	f, err := r.Get(offeringID)
	if err != nil {
		return nil, err
	}
	return f.NewProvider(filter)
}

// OfferingIDs returns the registered ids in order.
func (r *OfferingRegistry) OfferingIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Capabilities returns a snapshot of the advertised capabilities of the
// enabled offerings, sorted by offering id.
func (r *OfferingRegistry) Capabilities() []ports.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.Capabilities, 0, len(r.caps))
	for id, c := range r.caps {
		if f, ok := r.factories[id]; ok && f.IsEnabled() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferingID < out[j].OfferingID })
	return out
}

// Refresh updates the capabilities of every offering and returns the ids
// whose capabilities changed. A failing offering keeps its previous entry.
func (r *OfferingRegistry) Refresh() []string {
	r.mu.RLock()
	factories := make([]ports.ProviderFactory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	r.mu.RUnlock()

	var changed []string
	for _, f := range factories {
		caps, diff, err := f.UpdateCapabilities()
		if err != nil {
			r.obs.LogError("capabilities_update_failed", err, ports.F("offering", f.OfferingID()))
			continue
		}
		r.mu.Lock()
		if _, still := r.factories[f.OfferingID()]; still {
			r.caps[f.OfferingID()] = caps
		}
		r.mu.Unlock()
		if diff {
			changed = append(changed, f.OfferingID())
		}
	}
	sort.Strings(changed)
	return changed
}

// Close releases the providers of every offering.
func (r *OfferingRegistry) Close() {
	r.mu.RLock()
	factories := make([]ports.ProviderFactory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	r.mu.RUnlock()
	for _, f := range factories {
		f.Cleanup()
	}
}
