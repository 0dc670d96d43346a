package sensorhub

import (
	"log/slog"

	base "github.com/sensiasoft/sensorhub-sub000/pkg/sensorhub"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/sensiasoft/sensorhub-sub000 directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	ProducerConfig  = base.ProducerConfig
	FeatureBinding  = base.FeatureBinding
	OfferingConfig  = base.OfferingConfig
	StorageConfig   = base.StorageConfig
	ServerConfig    = base.ServerConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	PostgresConfig  = base.PostgresConfig
	KafkaConfig     = base.KafkaConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	MQTTConfig      = base.MQTTConfig
	NATSConfig      = base.NATSConfig
	OutputSpec      = base.OutputSpec

	Flow                = base.Flow
	FlowOption          = base.FlowOption
	StreamInOption      = base.StreamInOption
	StreamOutOption     = base.StreamOutOption
	Hub                 = base.Hub
	HubOption           = base.HubOption
	DriverRegistry      = base.DriverRegistry
	ProducerConstructor = base.ProducerConstructor

	Record          = base.Record
	RecordBatchSink = base.RecordBatchSink
	PipelineRecord  = base.PipelineRecord
	Collector       = base.Collector
	Sink            = base.Sink
	RejectedError   = base.RejectedError
	Transformer     = base.Transformer
	RecordQueue     = base.RecordQueue
	WAL             = base.WAL
	Engine          = base.Engine
	Observability   = base.Observability
	QueuedRecord    = base.QueuedRecord
	WALEntryID      = base.WALEntryID
	WALStats        = base.WALStats
	Producer        = base.Producer
	Driver          = base.Driver
	LiveProducer    = base.LiveProducer
	DataFilter      = base.DataFilter
	DataProvider    = base.DataProvider
	Capabilities    = base.Capabilities
	Observation     = base.Observation
	Feature         = base.Feature
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...HubOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInProducer(p Producer) StreamInOption {
	return base.StreamInProducer(p)
}

func StreamInDrivers(r *DriverRegistry) StreamInOption {
	return base.StreamInDrivers(r)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInQueue(q RecordQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutEngine(e Engine) StreamOutOption {
	return base.StreamOutEngine(e)
}

func StreamOutTransformer(tr Transformer) StreamOutOption {
	return base.StreamOutTransformer(tr)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn RecordBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Hub and options.
func NewHub(cfg *Config, opts ...HubOption) (*Hub, error) {
	return base.NewHub(cfg, opts...)
}

func WithCollector(col Collector) HubOption {
	return base.WithCollector(col)
}

func WithSink(s Sink) HubOption {
	return base.WithSink(s)
}

func WithTransformer(tr Transformer) HubOption {
	return base.WithTransformer(tr)
}

func WithWAL(w WAL) HubOption {
	return base.WithWAL(w)
}

func WithRecordQueue(q RecordQueue) HubOption {
	return base.WithRecordQueue(q)
}

func WithObservability(obs Observability) HubOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) HubOption {
	return base.WithLogger(l)
}

func WithEngine(e Engine) HubOption {
	return base.WithEngine(e)
}

func WithProducer(p Producer) HubOption {
	return base.WithProducer(p)
}

func WithDrivers(r *DriverRegistry) HubOption {
	return base.WithDrivers(r)
}

// Producers and drivers.
func NewLiveProducer(id, name string) *LiveProducer {
	return base.NewLiveProducer(id, name)
}

func NewDriverRegistry() *DriverRegistry {
	return base.NewDriverRegistry()
}

// Sink adapters.
func NewCallbackSink(name string, fn RecordBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Record, func()) {
	return base.NewChannelSink(name, buffer)
}
