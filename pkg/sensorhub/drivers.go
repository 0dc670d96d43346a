package sensorhub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/mqtt"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/natsproducer"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/opcua"
	"github.com/sensiasoft/sensorhub-sub000/internal/app/config"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// ProducerConstructor builds a driver from its configuration entry.
type ProducerConstructor func(cfg ProducerConfig, obs Observability) (Driver, error)

// DriverRegistry maps producer type tags to constructors.
type DriverRegistry struct {
	mu    sync.RWMutex
	ctors map[string]ProducerConstructor
}

// NewDriverRegistry returns a registry holding the opcua, mqtt and nats
// drivers.
func NewDriverRegistry() *DriverRegistry {
	r := &DriverRegistry{ctors: make(map[string]ProducerConstructor)}
	r.Register(config.ProducerOPCUA, newOPCUADriver)
	r.Register(config.ProducerMQTT, newMQTTDriver)
	r.Register(config.ProducerNATS, newNATSDriver)
	return r
}

// Register adds or replaces the constructor of a type tag.
func (r *DriverRegistry) Register(typ string, ctor ProducerConstructor) {
	r.mu.Lock()
	r.ctors[typ] = ctor
	r.mu.Unlock()
}

// Types returns the registered tags in order.
func (r *DriverRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs the driver of one producer entry.
func (r *DriverRegistry) Build(cfg ProducerConfig, obs Observability) (Driver, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("producer type", cfg.Type)
	}
	d, err := ctor(cfg, obs)
	if err != nil {
		return nil, fmt.Errorf("producer %q: %w", cfg.ID, err)
	}
	if d.ID() != cfg.ID {
		return nil, fmt.Errorf("producer %q: driver reports id %q: %w", cfg.ID, d.ID(), domain.ErrInvalid)
	}
	return d, nil
}

func newOPCUADriver(cfg ProducerConfig, obs Observability) (Driver, error) {
	if cfg.OPCUA == nil {
		return nil, fmt.Errorf("opcua section is required: %w", domain.ErrInvalid)
	}
	return opcua.NewProducer(cfg.ID, cfg.Name, *cfg.OPCUA, obs)
}

func newMQTTDriver(cfg ProducerConfig, obs Observability) (Driver, error) {
	if cfg.MQTT == nil {
		return nil, fmt.Errorf("mqtt section is required: %w", domain.ErrInvalid)
	}
	return mqtt.NewProducer(cfg.ID, cfg.Name, *cfg.MQTT, obs)
}

func newNATSDriver(cfg ProducerConfig, obs Observability) (Driver, error) {
	if cfg.NATS == nil {
		return nil, fmt.Errorf("nats section is required: %w", domain.ErrInvalid)
	}
	return natsproducer.NewProducer(cfg.ID, cfg.Name, *cfg.NATS, obs)
}
