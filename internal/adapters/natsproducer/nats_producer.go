// Package natsproducer feeds a live producer from JSON records published
// on a NATS subject.
package natsproducer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

type Config struct {
	URL           string                  `yaml:"url"`
	Subject       string                  `yaml:"subject"`
	Queue         string                  `yaml:"queue"`
	ClientName    string                  `yaml:"client_name"`
	Username      string                  `yaml:"username"`
	Password      string                  `yaml:"password"`
	Token         string                  `yaml:"token"`
	MaxReconnects int                     `yaml:"max_reconnects"`
	ReconnectWait time.Duration           `yaml:"reconnect_wait"`
	Timeout       time.Duration           `yaml:"timeout"`
	Outputs       []livesource.OutputSpec `yaml:"outputs"`
}

func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.ClientName == "" {
		c.ClientName = "sensorhub"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.New("subject is required")
	}
	if len(c.Outputs) == 0 {
		return errors.New("at least one output must be configured")
	}
	return nil
}

// Producer is a live producer whose outputs are fed by NATS messages.
type Producer struct {
	*livesource.Producer

	cfg Config
	obs ports.Observability
	now func() time.Time

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

func NewProducer(id, name string, cfg Config, obs ports.Observability) (*Producer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	p := &Producer{
		Producer: livesource.NewProducer(id, name),
		cfg:      cfg,
		obs:      obs,
		now:      time.Now,
	}
	p.SetEnabled(false)
	if err := p.AddOutputs(cfg.Outputs); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Producer) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(p.cfg.ClientName),
		nats.MaxReconnects(p.cfg.MaxReconnects),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.Timeout(p.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.obs.LogError("nats_disconnected", err, ports.F("producer", p.ID()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.obs.LogInfo("nats_reconnected", ports.F("producer", p.ID()))
		}),
	}
	if p.cfg.Username != "" && p.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(p.cfg.Username, p.cfg.Password))
	}
	if p.cfg.Token != "" {
		opts = append(opts, nats.Token(p.cfg.Token))
	}
	return opts
}

func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return fmt.Errorf("nats producer %q already started", p.ID())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := nats.Connect(p.cfg.URL, p.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", p.cfg.URL, err)
	}
	handler := func(msg *nats.Msg) { p.handle(msg.Subject, msg.Data) }
	var sub *nats.Subscription
	if p.cfg.Queue != "" {
		sub, err = conn.QueueSubscribe(p.cfg.Subject, p.cfg.Queue, handler)
	} else {
		sub, err = conn.Subscribe(p.cfg.Subject, handler)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("nats subscribe %s: %w", p.cfg.Subject, err)
	}
	p.conn = conn
	p.sub = sub
	p.SetEnabled(true)
	return nil
}

func (p *Producer) Stop() error {
	p.mu.Lock()
	conn, sub := p.conn, p.sub
	p.conn, p.sub = nil, nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	p.SetEnabled(false)
	var err error
	if e := sub.Unsubscribe(); e != nil && !errors.Is(e, nats.ErrConnectionClosed) {
		err = e
	}
	conn.Close()
	return err
}

func (p *Producer) handle(subject string, data []byte) {
	m, err := livesource.DecodeMessage(data)
	if err == nil {
		err = p.PublishMessage(m, p.now())
	}
	if err != nil {
		p.obs.LogError("nats_message_rejected", err,
			ports.F("producer", p.ID()), ports.F("subject", subject), ports.F("bytes", len(data)))
	}
}

var _ livesource.Driver = (*Producer)(nil)
