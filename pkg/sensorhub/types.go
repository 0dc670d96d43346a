package sensorhub

import (
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// PipelineRecord is the record that flows through the WAL→queue→sink pipeline.
type PipelineRecord = domain.Record

// QueuedRecord represents an item buffered inside the bounded queue.
type QueuedRecord = ports.QueuedRecord

// Collector streams records from live producers into the pipeline.
type Collector = ports.Collector

// RecordQueue is the bounded, in-memory queue that decouples the collector and sinks.
type RecordQueue = ports.RecordQueue

// Transformer lets callers mutate records (unit conversion, calibration) before persistence.
type Transformer = ports.Transformer

// Sink consumes batches of records and persists them to any downstream system.
type Sink = ports.Sink

// RejectedError lets a sink refuse single records of a batch for good.
type RejectedError = ports.RejectedError

// Observability emits metrics/logs about throughput, latency, and DLQ conditions.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used for durability and crash recovery.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID

// Engine is the transactional key-value engine under the record store.
type Engine = ports.Engine

// Producer is a live data producer.
type Producer = ports.Producer

// Driver is a producer that connects to an external source when started.
type Driver = livesource.Driver

// LiveProducer is the in-process producer base; applications publish into
// its outputs directly.
type LiveProducer = livesource.Producer

type (
	DataFilter   = domain.DataFilter
	DataProvider = ports.DataProvider
	Capabilities = ports.Capabilities
	Observation  = domain.Observation
	Feature      = domain.Feature
)

// NewLiveProducer returns an enabled in-process producer without outputs.
func NewLiveProducer(id, name string) *LiveProducer {
	return livesource.NewProducer(id, name)
}
