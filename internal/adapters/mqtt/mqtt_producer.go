// Package mqtt feeds a live producer from JSON records published on an
// MQTT topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

type Config struct {
	Broker               string                  `yaml:"broker"`
	ClientID             string                  `yaml:"client_id"`
	Username             string                  `yaml:"username"`
	Password             string                  `yaml:"password"`
	Topic                string                  `yaml:"topic"`
	QoS                  byte                    `yaml:"qos"`
	KeepAlive            time.Duration           `yaml:"keep_alive"`
	ConnectTimeout       time.Duration           `yaml:"connect_timeout"`
	ConnectRetryInterval time.Duration           `yaml:"connect_retry_interval"`
	Outputs              []livesource.OutputSpec `yaml:"outputs"`
}

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "sensorhub"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos %d out of range", c.QoS)
	}
	if len(c.Outputs) == 0 {
		return errors.New("at least one output must be configured")
	}
	return nil
}

// Producer is a live producer whose outputs are fed by MQTT messages.
type Producer struct {
	*livesource.Producer

	cfg Config
	obs ports.Observability
	now func() time.Time

	mu     sync.Mutex
	client paho.Client
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

func (p *Producer) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(p.cfg.KeepAlive).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(p.cfg.ConnectRetryInterval)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}

	opts.OnConnect = func(c paho.Client) {
		if token := c.Subscribe(p.cfg.Topic, p.cfg.QoS, p.handleMessage); token.Wait() && token.Error() != nil {
			p.obs.LogError("mqtt_subscribe_failed", token.Error(), ports.F("topic", p.cfg.Topic))
			return
		}
		p.obs.LogInfo("mqtt_subscribed", ports.F("producer", p.ID()), ports.F("topic", p.cfg.Topic))
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.obs.LogError("mqtt_connection_lost", err, ports.F("producer", p.ID()))
	}
	return opts
}

// Start connects to the broker and subscribes on every (re)connection.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return fmt.Errorf("mqtt producer %q already started", p.ID())
	}
	client := paho.NewClient(p.clientOptions())
	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-token.Done():
	case <-time.After(p.cfg.ConnectTimeout):
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: timeout after %s", p.cfg.Broker, p.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", p.cfg.Broker, err)
	}
	p.client = client
	p.SetEnabled(true)
	return nil
}

func (p *Producer) Stop() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	p.SetEnabled(false)
	client.Unsubscribe(p.cfg.Topic).WaitTimeout(time.Second)
	client.Disconnect(250)
	return nil
}

func (p *Producer) handleMessage(_ paho.Client, msg paho.Message) {
	m, err := livesource.DecodeMessage(msg.Payload())
	if err == nil {
		err = p.PublishMessage(m, p.now())
	}
	if err != nil {
		p.obs.LogError("mqtt_message_rejected", err,
			ports.F("producer", p.ID()), ports.F("topic", msg.Topic()), ports.F("bytes", len(msg.Payload())))
	}
}

var _ livesource.Driver = (*Producer)(nil)
