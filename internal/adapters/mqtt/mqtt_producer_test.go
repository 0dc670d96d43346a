package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type listener struct {
	events []domain.DataEvent
}

func (l *listener) HandleEvent(ev domain.DataEvent) { l.events = append(l.events, ev) }

func testConfig() Config {
	return Config{
		Broker: "tcp://localhost:1883",
		Topic:  "sensors/#",
		Outputs: []livesource.OutputSpec{{
			Name:   "air",
			Fields: []domain.DataComponent{{Name: "co2", Definition: "urn:co2", UOM: "ppm"}},
		}},
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sensorhub", cfg.ClientID)
	assert.Equal(t, 30*time.Second, cfg.KeepAlive)

	cfg.QoS = 3
	assert.Error(t, cfg.Validate())
	assert.Error(t, (&Config{Broker: "tcp://x:1883"}).Validate())
}

func TestHandleMessagePublishes(t *testing.T) {
	p, err := NewProducer("room-1", "Room 1", testConfig(), nil)
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	p.now = func() time.Time { return time.Unix(1_000, 0) }

	out, ok := p.Output("air")
	require.True(t, ok)
	l := &listener{}
	out.RegisterListener(l)

	p.handleMessage(nil, fakeMessage{topic: "sensors/room-1", payload: []byte(`{"values":{"co2":415}}`)})
	p.handleMessage(nil, fakeMessage{topic: "sensors/room-1", payload: []byte(`not json`)})

	require.Len(t, l.events, 1)
	assert.Equal(t, domain.DataBlock{1_000, 415}, l.events[0].Records[0])
	assert.Equal(t, "room-1", l.events[0].ProducerID)
}

func TestClientOptions(t *testing.T) {
	p, err := NewProducer("room-1", "", testConfig(), nil)
	require.NoError(t, err)
	opts := p.clientOptions()
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "sensorhub", opts.ClientID)
	assert.True(t, opts.AutoReconnect)
	require.NoError(t, p.Stop())
}
