package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/mqtt"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/natsproducer"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/opcua"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/sink"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Producer types.
const (
	ProducerOPCUA = "opcua"
	ProducerMQTT  = "mqtt"
	ProducerNATS  = "nats"
)

// Storage engines.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

type Config struct {
	Policy    ports.Policy      `yaml:"policy"`
	WAL       WALConfig         `yaml:"wal"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Storage   StorageConfig     `yaml:"storage"`
	Server    ServerConfig      `yaml:"server"`
	Producers []ProducerConfig  `yaml:"producers"`
	Offerings []OfferingConfig  `yaml:"offerings"`
	Postgres  *PostgresConfig   `yaml:"postgres"`
	Kafka     *sink.KafkaConfig `yaml:"kafka"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

type StorageConfig struct {
	Engine     string        `yaml:"engine"`
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"sync_writes"`
	ClusterGap time.Duration `yaml:"cluster_gap"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WSPath          string        `yaml:"ws_path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// FeatureBinding attaches a feature of interest to the records of one
// entity. An empty entity makes it the producer's default feature.
type FeatureBinding struct {
	Entity  string         `yaml:"entity"`
	Feature domain.Feature `yaml:"feature"`
}

type ProducerConfig struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Type        string           `yaml:"type"`
	Enabled     *bool            `yaml:"enabled"`
	Features    []FeatureBinding `yaml:"features"`

	OPCUA *opcua.Config        `yaml:"opcua"`
	MQTT  *mqtt.Config         `yaml:"mqtt"`
	NATS  *natsproducer.Config `yaml:"nats"`

	// Options carries the settings of producer types registered by
	// embedding applications.
	Options map[string]any `yaml:"options"`
}

// IsEnabled reports whether the producer should be started; producers are
// enabled unless switched off explicitly.
func (p ProducerConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

type OfferingConfig struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	Producer        string        `yaml:"producer"`
	Mode            string        `yaml:"mode"`
	Enabled         *bool         `yaml:"enabled"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
}

func (o OfferingConfig) IsEnabled() bool { return o.Enabled == nil || *o.Enabled }

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Storage.Engine == "" {
		c.Storage.Engine = EngineBadger
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/store"
	}
	if c.Storage.ClusterGap == 0 {
		c.Storage.ClusterGap = time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Server.RefreshInterval == 0 {
		c.Server.RefreshInterval = 5 * time.Second
	}
	if c.Postgres != nil && c.Postgres.Table == "" {
		c.Postgres.Table = "records"
	}

	for i := range c.Producers {
		p := &c.Producers[i]
		if p.Name == "" {
			p.Name = p.ID
		}
		switch {
		case p.OPCUA != nil:
			p.OPCUA.ApplyDefaults()
		case p.MQTT != nil:
			p.MQTT.ApplyDefaults()
		case p.NATS != nil:
			p.NATS.ApplyDefaults()
		}
	}
	for i := range c.Offerings {
		o := &c.Offerings[i]
		if o.Name == "" {
			o.Name = o.ID
		}
		if o.Mode == "" {
			o.Mode = "combined"
		}
		if o.StreamTimeout == 0 {
			o.StreamTimeout = 10 * time.Second
		}
		if o.LivenessTimeout == 0 {
			o.LivenessTimeout = 10 * time.Second
		}
	}
}

func (c *Config) validate() error {
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	switch c.Storage.Engine {
	case EngineBadger, EngineMemory:
	default:
		return fmt.Errorf("storage.engine %q is not one of badger, memory", c.Storage.Engine)
	}
	if c.Postgres != nil && c.Postgres.ConnString == "" {
		return fmt.Errorf("postgres.conn_string is required")
	}
	if c.Kafka != nil && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required")
	}

	producers := make(map[string]bool, len(c.Producers))
	for i, p := range c.Producers {
		if p.ID == "" {
			return fmt.Errorf("producers[%d].id is required", i)
		}
		if producers[p.ID] {
			return fmt.Errorf("producer %q declared twice", p.ID)
		}
		producers[p.ID] = true
		if err := p.validate(); err != nil {
			return fmt.Errorf("producer %q: %w", p.ID, err)
		}
	}

	offerings := make(map[string]bool, len(c.Offerings))
	for i, o := range c.Offerings {
		if o.ID == "" {
			return fmt.Errorf("offerings[%d].id is required", i)
		}
		if offerings[o.ID] {
			return fmt.Errorf("offering %q declared twice", o.ID)
		}
		offerings[o.ID] = true
		switch o.Mode {
		case "live", "combined":
			if !producers[o.Producer] {
				return fmt.Errorf("offering %q: unknown producer %q", o.ID, o.Producer)
			}
		case "archive":
		default:
			return fmt.Errorf("offering %q: mode %q is not one of live, archive, combined", o.ID, o.Mode)
		}
	}
	return nil
}

func (p ProducerConfig) validate() error {
	var err error
	switch p.Type {
	case ProducerOPCUA:
		if p.OPCUA == nil {
			return fmt.Errorf("opcua section is required")
		}
		err = p.OPCUA.Validate()
	case ProducerMQTT:
		if p.MQTT == nil {
			return fmt.Errorf("mqtt section is required")
		}
		err = p.MQTT.Validate()
	case ProducerNATS:
		if p.NATS == nil {
			return fmt.Errorf("nats section is required")
		}
		err = p.NATS.Validate()
	case "":
		return fmt.Errorf("type is required")
	}
	return err
}
