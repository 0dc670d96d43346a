package livesource

import (
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Producer is an in-process live producer. Protocol adapters embed it and
// publish decoded records into its outputs.
type Producer struct {
	id   string
	name string

	mu          sync.RWMutex
	enabled     bool
	outputs     []*Output
	description domain.ProcedureDescription
	features    map[string]domain.Feature
}

// NewProducer returns an enabled producer without outputs.
func NewProducer(id, name string) *Producer {
	if name == "" {
		name = id
	}
	return &Producer{
		id:          id,
		name:        name,
		enabled:     true,
		description: domain.ProcedureDescription{UniqueID: id, Name: name},
		features:    make(map[string]domain.Feature),
	}
}

func (p *Producer) ID() string   { return p.id }
func (p *Producer) Name() string { return p.name }

// AddOutput creates an output, or returns the existing one with that name.
func (p *Producer) AddOutput(name string, schema domain.DataComponent, encoding domain.Encoding, opts ...OutputOption) *Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.outputs {
		if o.name == name {
			return o
		}
	}
	o := newOutput(p.id, name, schema, encoding, opts...)
	p.outputs = append(p.outputs, o)
	return o
}

// Output returns a concrete output by name.
func (p *Producer) Output(name string) (*Output, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, o := range p.outputs {
		if o.name == name {
			return o, true
		}
	}
	return nil, false
}

func (p *Producer) Outputs() []ports.ProducerOutput {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ports.ProducerOutput, len(p.outputs))
	for i, o := range p.outputs {
		out[i] = o
	}
	return out
}

func (p *Producer) IsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

func (p *Producer) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

func (p *Producer) CurrentDescription() domain.ProcedureDescription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.description
}

func (p *Producer) SetDescription(d domain.ProcedureDescription) {
	p.mu.Lock()
	p.description = d
	p.mu.Unlock()
}

// SetFeature sets the feature observed by an entity; "" is the producer
// itself.
func (p *Producer) SetFeature(entityID string, f domain.Feature) {
	p.mu.Lock()
	p.features[entityID] = f
	p.mu.Unlock()
}

// FeatureOf resolves the feature of an entity, falling back to the
// producer's own feature for unknown entities.
func (p *Producer) FeatureOf(entityID string) (domain.Feature, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if f, ok := p.features[entityID]; ok {
		return f, true
	}
	f, ok := p.features[""]
	return f, ok
}

// Features returns every known feature keyed by entity id.
func (p *Producer) Features() map[string]domain.Feature {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Feature, len(p.features))
	for k, v := range p.features {
		out[k] = v
	}
	return out
}

var _ ports.Producer = (*Producer)(nil)
