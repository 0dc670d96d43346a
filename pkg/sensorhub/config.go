package sensorhub

import (
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/mqtt"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/natsproducer"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/opcua"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/sink"
	"github.com/sensiasoft/sensorhub-sub000/internal/app/config"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// ProducerConfig declares one producer and its driver settings.
	ProducerConfig = config.ProducerConfig
	// FeatureBinding attaches a feature of interest to a producer entity.
	FeatureBinding = config.FeatureBinding
	// OfferingConfig declares one offering served by the hub.
	OfferingConfig = config.OfferingConfig
	// StorageConfig selects the record store engine.
	StorageConfig = config.StorageConfig
	// ServerConfig configures the streaming and capabilities endpoints.
	ServerConfig = config.ServerConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	// PostgresConfig enables the PostGIS mirror sink.
	PostgresConfig = config.PostgresConfig
	// KafkaConfig enables the Kafka mirror sink.
	KafkaConfig = sink.KafkaConfig

	OPCUAConfig     = opcua.Config
	OPCUANodeConfig = opcua.NodeConfig
	MQTTConfig      = mqtt.Config
	NATSConfig      = natsproducer.Config
	// OutputSpec declares a message-fed output of an MQTT or NATS producer.
	OutputSpec = livesource.OutputSpec
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes, defaults and validates an in-memory YAML document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
