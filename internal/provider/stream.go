package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// DefaultStreamTimeout bounds the wait for the next live event.
const DefaultStreamTimeout = 10 * time.Second

const defaultPollPeriod = time.Second

// enabledCheckPeriod is how often a waiting stream checks that its producer
// is still enabled.
const enabledCheckPeriod = 100 * time.Millisecond

// StreamConfig tunes a StreamProvider.
type StreamConfig struct {
	// Timeout is how long NextResultRecord waits for a new event before
	// ending the stream.
	Timeout time.Duration
	Now     func() time.Time
	Obs     ports.Observability
}

func (c *StreamConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultStreamTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Obs == nil {
		c.Obs = ports.NopObservability{}
	}
}

// StreamProvider turns the push events (or polled latest records) of a live
// producer into a pull sequence of records.
//
// Events go through a queue of capacity one. Listeners never wait on the
// consumer: a new event replaces one that has not been read yet, so a slow
// reader sees the most recent data and the producer keeps publishing at its
// own pace. The stream ends when
// no event arrives within the timeout, an event is past the stop time, the
// producer is disabled, or MaxCount records were returned. Event order is
// the delivery order of the producer, which need not match sampling order.
type StreamProvider struct {
	cfg      StreamConfig
	producer ports.Producer
	filter   domain.DataFilter
	outputs  map[string]ports.ProducerOutput
	order    []string
	stopTime float64

	listener *streamListener
	queue    chan domain.DataEvent
	done     chan struct{}
	pollers  sync.WaitGroup

	closeOnce sync.Once
	nowMode   bool
	finished  bool
	pending   []domain.Record
	served    int
}

// NewStreamProvider selects the outputs of producer that observe at least
// one of the filter observables (all outputs when none is requested) and
// starts listening to them. A filter time of exactly "now" is answered from
// the latest records without listening.
func NewStreamProvider(producer ports.Producer, filter domain.DataFilter, cfg StreamConfig) (*StreamProvider, error) {
	cfg.applyDefaults()
	if !producer.IsEnabled() {
		return nil, domain.Disabled("producer", producer.ID())
	}
	p := &StreamProvider{
		cfg:      cfg,
		producer: producer,
		filter:   filter,
		outputs:  make(map[string]ports.ProducerOutput),
		stopTime: filter.Time.StopTime(domain.Seconds(cfg.Now())),
		queue:    make(chan domain.DataEvent, 1),
		done:     make(chan struct{}),
	}
	for _, out := range producer.Outputs() {
		if !filter.WantsRecordType(out.Name()) || !out.RecordSchema().Observes(filter.Observables) {
			continue
		}
		p.outputs[out.Name()] = out
		p.order = append(p.order, out.Name())
	}
	if len(p.order) == 0 {
		return nil, domain.NotFound("output observing requested properties on producer", producer.ID())
	}

	if filter.Time.IsNow() {
		p.nowMode = true
		p.finished = true
		for _, name := range p.order {
			block, ts, ok := p.outputs[name].LatestRecord()
			if !ok {
				continue
			}
			ev := domain.DataEvent{Timestamp: ts, ProducerID: producer.ID(), OutputName: name, Records: []domain.DataBlock{block}}
			p.pending = append(p.pending, p.toRecords(ev)...)
		}
		p.cfg.Obs.AddGauge(ports.MetricProvidersActive, 1)
		return p, nil
	}

	p.listener = &streamListener{p: p}
	for _, name := range p.order {
		out := p.outputs[name]
		if out.IsPushCapable() {
			out.RegisterListener(p.listener)
			continue
		}
		p.pollers.Add(1)
		go p.poll(out)
	}
	p.cfg.Obs.AddGauge(ports.MetricProvidersActive, 1)
	return p, nil
}

// streamListener is registered on the outputs; a separate pointer keeps
// registration identity independent of the provider.
type streamListener struct {
	p *StreamProvider
}

func (l *streamListener) HandleEvent(ev domain.DataEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.p.cfg.Obs.LogError("stream_listener_panic", fmt.Errorf("%v", r),
				ports.F("producer", ev.ProducerID), ports.F("output", ev.OutputName))
		}
	}()
	l.p.offer(ev)
}

// offer hands ev to the consumer without waiting. When the consumer has
// not picked up the previous event yet, the queued event is replaced by the
// newer one. Events arriving after Close are ignored.
func (p *StreamProvider) offer(ev domain.DataEvent) {
	select {
	case <-p.done:
		return
	default:
	}
	if _, ok := p.outputs[ev.OutputName]; !ok {
		return
	}
	for {
		select {
		case p.queue <- ev:
			return
		default:
		}
		select {
		case <-p.queue:
			p.cfg.Obs.IncCounter(ports.MetricStreamEventsDropped, 1)
		default:
		}
	}
}

// poll fetches the latest record of a non-push output at twice its
// sampling rate and forwards records newer than the last one seen.
func (p *StreamProvider) poll(out ports.ProducerOutput) {
	defer p.pollers.Done()
	period := out.AverageSamplingPeriod() / 2
	if period <= 0 {
		period = defaultPollPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := math.Inf(-1)
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		block, ts, ok := out.LatestRecord()
		if !ok || ts <= last {
			continue
		}
		last = ts
		p.offer(domain.DataEvent{
			Timestamp:  ts,
			ProducerID: out.ProducerID(),
			OutputName: out.Name(),
			Records:    []domain.DataBlock{block},
		})
	}
}

func (p *StreamProvider) resolveFoi(ev domain.DataEvent) string {
	if ev.FoiID != "" {
		return ev.FoiID
	}
	if f, ok := p.producer.FeatureOf(ev.EntityID); ok {
		return f.ID
	}
	return ""
}

func (p *StreamProvider) toRecords(ev domain.DataEvent) []domain.Record {
	foi := p.resolveFoi(ev)
	if !p.filter.WantsFoi(foi) {
		return nil
	}
	ev.ProducerID = p.producer.ID()
	return ev.ToRecords(p.outputs[ev.OutputName].RecordSchema(), foi)
}

func (p *StreamProvider) finish() (*domain.Record, error) {
	p.finished = true
	p.pending = nil
	return nil, domain.ErrEndOfStream
}

// NextResultRecord returns the next live record, blocking up to the
// configured timeout. It returns domain.ErrEndOfStream once the stream is
// over, and keeps doing so on later calls.
func (p *StreamProvider) NextResultRecord(ctx context.Context) (*domain.Record, error) {
	for {
		select {
		case <-p.done:
			return p.finish()
		default:
		}
		if p.filter.MaxCount > 0 && p.served >= p.filter.MaxCount {
			return p.finish()
		}
		if len(p.pending) > 0 {
			rec := p.pending[0]
			p.pending = p.pending[1:]
			p.served++
			p.cfg.Obs.IncCounter(ports.MetricRecordsServed, 1)
			return &rec, nil
		}
		if p.finished {
			return nil, domain.ErrEndOfStream
		}
		if !p.producer.IsEnabled() {
			return p.finish()
		}

		ev, err := p.waitEvent(ctx)
		if IsEndOfStream(err) {
			return p.finish()
		}
		if err != nil {
			return nil, err
		}
		if ev.Timestamp > p.stopTime {
			return p.finish()
		}
		p.pending = p.toRecords(ev)
	}
}

// waitEvent blocks until the next queued event. It returns ErrEndOfStream
// on timeout, on Close, or once the producer is disabled.
func (p *StreamProvider) waitEvent(ctx context.Context) (domain.DataEvent, error) {
	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()
	check := time.NewTicker(enabledCheckPeriod)
	defer check.Stop()
	for {
		select {
		case <-ctx.Done():
			return domain.DataEvent{}, ctx.Err()
		case <-p.done:
			return domain.DataEvent{}, domain.ErrEndOfStream
		case <-timer.C:
			p.cfg.Obs.IncCounter(ports.MetricStreamTimeouts, 1)
			return domain.DataEvent{}, domain.ErrEndOfStream
		case <-check.C:
			if !p.producer.IsEnabled() {
				return domain.DataEvent{}, domain.ErrEndOfStream
			}
		case ev := <-p.queue:
			return ev, nil
		}
	}
}

func (p *StreamProvider) NextObservation(ctx context.Context) (*domain.Observation, error) {
	rec, err := p.NextResultRecord(ctx)
	if err != nil {
		return nil, err
	}
	schema := p.outputs[rec.Key.RecordType].RecordSchema()
	return buildObservation(rec, schema, domain.Seconds(p.cfg.Now())), nil
}

func (p *StreamProvider) ResultStructure() domain.DataComponent {
	schemas := make([]domain.DataComponent, 0, len(p.order))
	for _, name := range p.order {
		schemas = append(schemas, p.outputs[name].RecordSchema())
	}
	return combinedStructure(p.producer.ID(), schemas)
}

func (p *StreamProvider) DefaultResultEncoding() domain.Encoding {
	return p.outputs[p.order[0]].RecommendedEncoding()
}

// Close unregisters the listeners, stops polling and drains the queue. It
// may be called several times.
func (p *StreamProvider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if !p.nowMode {
			for _, name := range p.order {
				if out := p.outputs[name]; out.IsPushCapable() {
					out.UnregisterListener(p.listener)
				}
			}
		}
		p.pollers.Wait()
	drain:
		for {
			select {
			case <-p.queue:
			default:
				break drain
			}
		}
		p.cfg.Obs.AddGauge(ports.MetricProvidersActive, -1)
	})
	return nil
}

// IsEndOfStream reports whether err is a normal stream termination.
func IsEndOfStream(err error) bool {
	return errors.Is(err, domain.ErrEndOfStream)
}

var _ ports.DataProvider = (*StreamProvider)(nil)
