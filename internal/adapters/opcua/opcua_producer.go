package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig defines a monitored node and the output it feeds.
type NodeConfig struct {
	NodeID     string `yaml:"node_id"`
	Output     string `yaml:"output"`
	Definition string `yaml:"definition"`
	UOM        string `yaml:"uom"`
	// Entity is the sub-entity the node belongs to, for multi-source
	// producers; empty for the producer itself.
	Entity string `yaml:"entity"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "SensorHub"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Output == "" {
			c.Nodes[i].Output = c.Nodes[i].NodeID
		}
		if c.Nodes[i].Definition == "" {
			c.Nodes[i].Definition = "urn:opcua:node:" + c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n.Output] {
			return fmt.Errorf("output %q is used by more than one node", n.Output)
		}
		seen[n.Output] = true
	}
	return nil
}

// nodeSchema is the record schema of a node output: sampling time and value.
func nodeSchema(n NodeConfig) domain.DataComponent {
	return domain.DataComponent{
		Name: n.Output,
		Type: domain.TypeRecord,
		Fields: []domain.DataComponent{
			{Name: "time", Type: domain.TypeTime, Definition: domain.DefSamplingTime, UOM: "s"},
			{Name: "value", Type: domain.TypeQuantity, Definition: n.Definition, UOM: n.UOM},
		},
	}
}

type binding struct {
	node NodeConfig
	out  *livesource.Output
}

// Producer is a live producer fed by an OPC UA subscription. Each monitored
// node is a push output whose records are (sampling time, value).
type Producer struct {
	*livesource.Producer

	cfg      Config
	obs      ports.Observability
	bindings map[uint32]binding

	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewProducer declares the node outputs. The producer stays disabled until
// Start succeeds.
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
		bindings: make(map[uint32]binding, len(cfg.Nodes)),
	}
	p.SetEnabled(false)
	for i, node := range cfg.Nodes {
		out := p.AddOutput(node.Output, nodeSchema(node), domain.DefaultTextEncoding(),
			livesource.WithSamplingPeriod(cfg.SamplingInterval))
		p.bindings[uint32(i+1)] = binding{node: node, out: out}
	}
	return p, nil
}

func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("opcua producer %q already started", p.ID())
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(p.cfg.Endpoint, p.buildClientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(p.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: p.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for handle := uint32(1); handle <= uint32(len(p.cfg.Nodes)); handle++ {
		node := p.bindings[handle].node
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if p.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(p.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
		}
	}

	p.mu.Lock()
	p.client = client
	p.sub = sub
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()
	p.SetEnabled(true)

	p.wg.Add(1)
	go p.consume(runCtx, notifyCh)
	return nil
}

// Stop disables the producer, which ends the live streams served from it.
func (p *Producer) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	sub := p.sub
	client := p.client
	p.started = false
	p.cancel = nil
	p.sub = nil
	p.client = nil
	p.mu.Unlock()
	p.SetEnabled(false)

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	p.wg.Wait()
	return err
}

func (p *Producer) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				p.obs.LogError("opcua_notification_error", notif.Error, ports.F("producer", p.ID()))
				continue
			}
			p.processNotification(notif.Value)
		}
	}
}

func (p *Producer) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, item := range data.MonitoredItems {
		b, ok := p.bindings[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			p.obs.LogInfo("opcua_unsupported_value",
				ports.F("node", b.node.NodeID), ports.F("type", fmt.Sprintf("%T", item.Value.Value)))
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}
		secs := domain.Seconds(ts)
		b.out.Publish(secs, b.node.Entity, "", domain.DataBlock{secs, fv})
	}
}

func (p *Producer) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(p.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(p.cfg.SecurityPolicy)),
		opcua.ApplicationName(p.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if p.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(p.cfg.Username, p.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ livesource.Driver = (*Producer)(nil)
