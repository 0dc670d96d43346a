package observability

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

type Option func(*PromObs)

// WithLogger sets the structured logger; the default writes text to stderr.
func WithLogger(l *slog.Logger) Option {
	return func(p *PromObs) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPromObs registers the hub metrics on reg (the default registerer when
// nil) and returns the facade.
func NewPromObs(reg prometheus.Registerer, opts ...Option) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricRecordsIngested,
		Help: "Total records successfully written to every sink.",
	})
	walGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricWALSize,
		Help: "Size of the record journal on disk.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricQueueLength,
		Help: "Current number of records buffered in the in-memory queue.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricSinkLatency,
		Help:    "Latency from dequeued batch to sink commit.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	dlq := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricDLQ,
		Help: "Records dropped due to transform failures.",
	})
	queueDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricQueueDropped,
		Help: "Records lost due to queue backpressure policies.",
	})
	served := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricRecordsServed,
		Help: "Records handed out by data providers.",
	})
	timeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricStreamTimeouts,
		Help: "Live streams ended because no data arrived within the timeout.",
	})
	streamDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ports.MetricStreamEventsDropped,
		Help: "Live events replaced by a newer one before the stream consumer read them.",
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricProvidersActive,
		Help: "Data providers currently open.",
	})

	reg.MustRegister(ingested, walGauge, queueGauge, latency, dlq, queueDrops, served, timeouts, streamDrops, active)

	p := &PromObs{
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
		counters: map[string]prometheus.Counter{
			ports.MetricRecordsIngested:     ingested,
			ports.MetricDLQ:                 dlq,
			ports.MetricQueueDropped:        queueDrops,
			ports.MetricRecordsServed:       served,
			ports.MetricStreamTimeouts:      timeouts,
			ports.MetricStreamEventsDropped: streamDrops,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricWALSize:         walGauge,
			ports.MetricQueueLength:     queueGauge,
			ports.MetricProvidersActive: active,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricSinkLatency: latency,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func attrs(fields []ports.Field, err error) []any {
	out := make([]any, 0, len(fields)+1)
	if err != nil {
		out = append(out, slog.Any("error", err))
	}
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields, nil)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, attrs(fields, err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields, err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) AddGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Add(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, r *domain.Record, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	if err == nil {
		return
	}
	fields := []ports.Field{{Key: "wal_id", Value: uint64(id)}}
	if r != nil {
		fields = append(fields,
			ports.Field{Key: "producer", Value: r.Key.ProducerID},
			ports.Field{Key: "record_type", Value: r.Key.RecordType},
		)
	}
	p.LogError("record_dlq", err, fields...)
}

var _ ports.Observability = (*PromObs)(nil)
