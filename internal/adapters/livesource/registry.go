package livesource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Registry is the set of running producers, looked up by id.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]ports.Producer
}

func NewRegistry() *Registry {
	return &Registry{producers: make(map[string]ports.Producer)}
}

func (r *Registry) Register(p ports.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.producers[p.ID()]; ok {
		return fmt.Errorf("producer %q already registered: %w", p.ID(), domain.ErrInvalid)
	}
	r.producers[p.ID()] = p
	return nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Registry) Producer(id string) (ports.Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	if !ok {
		return nil, domain.NotFound("producer", id)
	}
	return p, nil
}

// All returns the producers sorted by id.
func (r *Registry) All() []ports.Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

var _ ports.ProducerResolver = (*Registry)(nil)
