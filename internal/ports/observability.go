package ports

import "github.com/sensiasoft/sensorhub-sub000/internal/domain"

// Metric names understood by Observability implementations.
const (
	MetricRecordsIngested     = "sensorhub_records_ingested_total"
	MetricQueueDropped        = "sensorhub_queue_dropped_total"
	MetricDLQ                 = "sensorhub_dlq_total"
	MetricWALSize             = "sensorhub_wal_size_bytes"
	MetricQueueLength         = "sensorhub_queue_length"
	MetricSinkLatency         = "sensorhub_ingest_sink_latency_seconds"
	MetricRecordsServed       = "sensorhub_records_served_total"
	MetricStreamTimeouts      = "sensorhub_stream_timeouts_total"
	MetricStreamEventsDropped = "sensorhub_stream_events_dropped_total"
	MetricProvidersActive     = "sensorhub_providers_active"
)

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)
	AddGauge(name string, v float64)

	RecordDLQ(id WALEntryID, r *domain.Record, err error)
}

type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// NopObservability discards everything.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)                    {}
func (NopObservability) LogError(string, error, ...Field)            {}
func (NopObservability) LogCritical(string, error, ...Field)         {}
func (NopObservability) IncCounter(string, float64)                  {}
func (NopObservability) ObserveLatency(string, float64)              {}
func (NopObservability) SetGauge(string, float64)                    {}
func (NopObservability) AddGauge(string, float64)                    {}
func (NopObservability) RecordDLQ(WALEntryID, *domain.Record, error) {}
