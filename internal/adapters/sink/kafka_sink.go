package sink

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaSink publishes every record as JSON keyed by producer id, so the
// records of one producer stay ordered within a partition.
type KafkaSink struct {
	w       MessageWriter
	timeout time.Duration
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaSinkWithWriter(w, cfg.WriteTimeout)
}

func NewKafkaSinkWithWriter(w MessageWriter, timeout time.Duration) *KafkaSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaSink{w: w, timeout: timeout}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) WriteBatch(records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Key.ProducerID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "record_type", Value: []byte(r.Key.RecordType)},
				{Key: "ts", Value: []byte(strconv.FormatFloat(r.Key.Timestamp, 'f', -1, 64))},
			},
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error { return k.w.Close() }

var _ ports.Sink = (*KafkaSink)(nil)
