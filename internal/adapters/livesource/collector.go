package livesource

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Driver is a producer backed by an external source (OPC UA server, MQTT
// broker, NATS subject...) that must be started and stopped.
type Driver interface {
	ports.Producer
	Start(ctx context.Context) error
	Stop() error
}

// Collector feeds the ingest pipeline with the records of a set of
// producers: it listens to push outputs and polls the others.
type Collector struct {
	producers []ports.Producer
	obs       ports.Observability

	mu      sync.Mutex
	started bool
	out     chan<- *domain.Record
	taps    []tap
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type tap struct {
	output   ports.ProducerOutput
	listener *collectorListener
}

func NewCollector(obs ports.Observability, producers ...ports.Producer) *Collector {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Collector{producers: producers, obs: obs}
}

func (c *Collector) Start(out chan<- *domain.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("live collector already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.out = out
	c.cancel = cancel
	for _, p := range c.producers {
		for _, o := range p.Outputs() {
			if !o.IsPushCapable() {
				c.wg.Add(1)
				go c.poll(ctx, p, o)
				continue
			}
			l := &collectorListener{c: c, producer: p, output: o, ctx: ctx}
			o.RegisterListener(l)
			c.taps = append(c.taps, tap{output: o, listener: l})
		}
	}
	c.started = true
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	for _, t := range c.taps {
		t.output.UnregisterListener(t.listener)
	}
	c.taps = nil
	c.cancel()
	c.started = false
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *Collector) forward(ctx context.Context, p ports.Producer, o ports.ProducerOutput, ev domain.DataEvent) {
	foi := ev.FoiID
	if foi == "" {
		if f, ok := p.FeatureOf(ev.EntityID); ok {
			foi = f.ID
		}
	}
	ev.ProducerID = p.ID()
	for _, rec := range ev.ToRecords(o.RecordSchema(), foi) {
		rec := rec
		select {
		case <-ctx.Done():
			return
		case c.out <- &rec:
		}
	}
}

func (c *Collector) poll(ctx context.Context, p ports.Producer, o ports.ProducerOutput) {
	defer c.wg.Done()
	period := o.AverageSamplingPeriod() / 2
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := math.Inf(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		block, ts, ok := o.LatestRecord()
		if !ok || ts <= last {
			continue
		}
		last = ts
		c.forward(ctx, p, o, domain.DataEvent{Timestamp: ts, OutputName: o.Name(), Records: []domain.DataBlock{block}})
	}
}

type collectorListener struct {
	c        *Collector
	producer ports.Producer
	output   ports.ProducerOutput
	ctx      context.Context
}

func (l *collectorListener) HandleEvent(ev domain.DataEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.c.obs.LogError("collector_listener_panic", fmt.Errorf("%v", r), ports.F("producer", l.producer.ID()))
		}
	}()
	l.c.forward(l.ctx, l.producer, l.output, ev)
}

var _ ports.Collector = (*Collector)(nil)
