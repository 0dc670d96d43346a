package livesource

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// OutputSpec declares a broker-fed output. The record schema is a sampling
// time followed by Fields.
type OutputSpec struct {
	Name           string                 `yaml:"name"`
	Fields         []domain.DataComponent `yaml:"fields"`
	SamplingPeriod time.Duration          `yaml:"sampling_period"`
}

func (s OutputSpec) Schema() domain.DataComponent {
	fields := make([]domain.DataComponent, 0, len(s.Fields)+1)
	fields = append(fields, domain.DataComponent{Name: "time", Type: domain.TypeTime, Definition: domain.DefSamplingTime, UOM: "s"})
	for _, f := range s.Fields {
		if f.Type == "" {
			f.Type = domain.TypeQuantity
		}
		fields = append(fields, f)
	}
	return domain.DataComponent{Name: s.Name, Type: domain.TypeRecord, Fields: fields}
}

func (s OutputSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("output name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("output %q has no fields", s.Name)
	}
	return nil
}

// AddOutputs declares every spec as a push output.
func (p *Producer) AddOutputs(specs []OutputSpec) error {
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		p.AddOutput(s.Name, s.Schema(), domain.DefaultTextEncoding(), WithSamplingPeriod(s.SamplingPeriod))
	}
	return nil
}

// Message is the JSON envelope of one record sent over a broker:
//
//	{"output":"weather","entity":"truck-1","time":"2024-05-01T10:00:00Z","values":{"temp":21.5}}
//
// time is either RFC 3339 or seconds since epoch; it defaults to the
// reception time.
type Message struct {
	Output string             `json:"output"`
	Entity string             `json:"entity,omitempty"`
	Foi    string             `json:"foi,omitempty"`
	Time   json.RawMessage    `json:"time,omitempty"`
	Values map[string]float64 `json:"values"`
}

func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if len(m.Values) == 0 {
		return Message{}, fmt.Errorf("message has no values: %w", domain.ErrInvalid)
	}
	return m, nil
}

// Timestamp resolves the message time, using received when absent.
func (m Message) Timestamp(received time.Time) (float64, error) {
	if len(m.Time) == 0 || string(m.Time) == "null" {
		return domain.Seconds(received), nil
	}
	var s string
	if err := json.Unmarshal(m.Time, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return domain.Seconds(t), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return 0, fmt.Errorf("bad message time %q: %w", s, domain.ErrInvalid)
	}
	var f float64
	if err := json.Unmarshal(m.Time, &f); err != nil {
		return 0, fmt.Errorf("bad message time %s: %w", m.Time, domain.ErrInvalid)
	}
	return f, nil
}

// PublishMessage maps the message values onto the output schema and
// publishes the record. With a single output the output name may be
// omitted.
func (p *Producer) PublishMessage(m Message, received time.Time) error {
	out, err := p.messageOutput(m.Output)
	if err != nil {
		return err
	}
	ts, err := m.Timestamp(received)
	if err != nil {
		return err
	}
	leaves := out.schema.Leaves()
	block := make(domain.DataBlock, len(leaves))
	for i, leaf := range leaves {
		if leaf.Definition == domain.DefSamplingTime {
			block[i] = ts
			continue
		}
		v, ok := m.Values[leaf.Name]
		if !ok {
			return fmt.Errorf("output %q: missing value %q: %w", out.name, leaf.Name, domain.ErrInvalid)
		}
		block[i] = v
	}
	out.Publish(ts, m.Entity, m.Foi, block)
	return nil
}

func (p *Producer) messageOutput(name string) (*Output, error) {
	if name != "" {
		if o, ok := p.Output(name); ok {
			return o, nil
		}
		return nil, domain.NotFound("output", name)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.outputs) != 1 {
		return nil, fmt.Errorf("message without output name on producer %q: %w", p.id, domain.ErrInvalid)
	}
	return p.outputs[0], nil
}
