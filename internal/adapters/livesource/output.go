// Package livesource provides in-process producers whose outputs fan
// events out to registered listeners. Protocol adapters (OPC UA, MQTT,
// NATS) publish into these outputs.
package livesource

import (
	"sync"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

type OutputOption func(*Output)

// WithPolling marks the output as not push capable: listeners are never
// called and consumers must poll LatestRecord.
func WithPolling() OutputOption {
	return func(o *Output) { o.push = false }
}

// WithSamplingPeriod sets the advertised average sampling period.
func WithSamplingPeriod(d time.Duration) OutputOption {
	return func(o *Output) { o.period = d }
}

// Output is one typed output of a Producer.
type Output struct {
	name       string
	producerID string
	schema     domain.DataComponent
	encoding   domain.Encoding
	push       bool
	period     time.Duration

	mu        sync.RWMutex
	listeners []ports.DataListener
	latest    domain.DataBlock
	latestTs  float64
	hasLatest bool
}

func newOutput(producerID, name string, schema domain.DataComponent, encoding domain.Encoding, opts ...OutputOption) *Output {
	o := &Output{
		name:       name,
		producerID: producerID,
		schema:     schema,
		encoding:   encoding,
		push:       true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) Name() string                         { return o.name }
func (o *Output) ProducerID() string                   { return o.producerID }
func (o *Output) RecordSchema() domain.DataComponent   { return o.schema }
func (o *Output) RecommendedEncoding() domain.Encoding { return o.encoding }
func (o *Output) IsPushCapable() bool                  { return o.push }
func (o *Output) AverageSamplingPeriod() time.Duration { return o.period }

func (o *Output) LatestRecord() (domain.DataBlock, float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest, o.latestTs, o.hasLatest
}

func (o *Output) RegisterListener(l ports.DataListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.listeners {
		if existing == l {
			return
		}
	}
	o.listeners = append(o.listeners, l)
}

func (o *Output) UnregisterListener(l ports.DataListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.listeners {
		if existing == l {
			o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of registered listeners.
func (o *Output) Listeners() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}

// Publish records new data and, for push outputs, notifies the listeners
// on the caller's goroutine. The last block becomes the latest record.
func (o *Output) Publish(ts float64, entityID, foiID string, blocks ...domain.DataBlock) {
	if len(blocks) == 0 {
		return
	}
	o.mu.Lock()
	o.latest = blocks[len(blocks)-1]
	o.latestTs = ts
	o.hasLatest = true
	listeners := append([]ports.DataListener(nil), o.listeners...)
	o.mu.Unlock()

	if !o.push {
		return
	}
	ev := domain.DataEvent{
		Timestamp:  ts,
		ProducerID: o.producerID,
		EntityID:   entityID,
		OutputName: o.name,
		FoiID:      foiID,
		Records:    blocks,
	}
	for _, l := range listeners {
		l.HandleEvent(ev)
	}
}

var _ ports.ProducerOutput = (*Output)(nil)
