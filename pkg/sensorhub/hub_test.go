package sensorhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

var tempSchema = domain.DataComponent{
	Name: "temp",
	Type: domain.TypeRecord,
	Fields: []domain.DataComponent{
		{Name: "time", Type: domain.TypeTime, Definition: domain.DefSamplingTime},
		{Name: "value", Type: domain.TypeQuantity, Definition: "urn:temp"},
	},
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Policy: Policy{
			MaxWALSizeBytes: 1 << 20,
			MaxQueueLen:     16,
			MaxBatchSize:    4,
			IdleSleep:       time.Millisecond,
			OnWALFull:       "block",
			OnQueueFull:     "block",
		},
		WAL:     WALConfig{Dir: t.TempDir()},
		Storage: StorageConfig{Engine: "memory", ClusterGap: time.Minute},
		Server:  ServerConfig{WSPath: "/ws", RefreshInterval: 10 * time.Millisecond},
	}
}

func TestNewHubWithCustomAdapters(t *testing.T) {
	queueStub := &stubQueue{}
	collectorStub := &stubCollector{}
	sinkStub := &stubSink{}
	transformerStub := &stubTransformer{}
	walStub := &stubWAL{}
	obsStub := ports.NopObservability{}

	hub, err := NewHub(
		testConfig(t),
		WithCollector(collectorStub),
		WithSink(sinkStub),
		WithTransformer(transformerStub),
		WithWAL(walStub),
		WithRecordQueue(queueStub),
		WithObservability(obsStub),
	)
	if err != nil {
		t.Fatalf("NewHub returned error: %v", err)
	}
	defer hub.Shutdown(context.Background())

	if hub.collector != collectorStub {
		t.Fatalf("expected custom collector to be used")
	}
	if len(hub.sinks) != 2 || hub.sinks[0].Name() != "store" || hub.sinks[1] != sinkStub {
		t.Fatalf("expected the store sink followed by the custom sink, got %d sinks", len(hub.sinks))
	}
	if hub.transformer != transformerStub {
		t.Fatalf("expected custom transformer to be used")
	}
	if hub.wal != walStub {
		t.Fatalf("expected custom WAL to be used")
	}
	if hub.queue != queueStub {
		t.Fatalf("expected custom queue to be used")
	}
	if hub.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
	if hub.metricsReg != nil || hub.db != nil {
		t.Fatalf("expected no metrics registry and no db")
	}
}

func TestHubStoresAndServesLiveRecords(t *testing.T) {
	p := NewLiveProducer("station-1", "Station 1")
	p.SetFeature("", domain.Feature{ID: "site-1", Geometry: domain.NewPoint(4, 5)})
	out := p.AddOutput("temp", tempSchema, domain.DefaultTextEncoding())

	hub, err := NewHub(testConfig(t), WithProducer(p))
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))
	assert.Error(t, hub.Start(context.Background()))

	out.Publish(1001, "", "", domain.DataBlock{1001, 20.5})
	out.Publish(1002, "", "", domain.DataBlock{1002, 21})

	require.Eventually(t, func() bool {
		r, ok, err := hub.Store().RecordsTimeRange("temp")
		return err == nil && ok && r.End == 1002
	}, 3*time.Second, 5*time.Millisecond)

	ids, err := hub.Store().FoiIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"site-1"}, ids)

	prov, err := hub.Offerings().NewProvider("station-1", domain.DataFilter{Time: domain.Period(1000, 1010)})
	require.NoError(t, err)
	defer prov.Close()
	o, err := prov.NextObservation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "site-1", o.FoiID)
	assert.Equal(t, 20.5, o.Result[1])

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/capabilities/station-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var caps Capabilities
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&caps))
	assert.Equal(t, []string{"temp"}, caps.RecordTypes)
	assert.Equal(t, []string{"station-1"}, caps.ProcedureIDs)

	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestHubReplaysJournalOnRestart(t *testing.T) {
	cfg := testConfig(t)
	p := NewLiveProducer("station-1", "")
	out := p.AddOutput("temp", tempSchema, domain.DefaultTextEncoding())

	// the failing sink keeps the batch uncommitted
	failing := &stubSink{err: errors.New("offline")}
	hub, err := NewHub(cfg, WithProducer(p), WithSink(failing))
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))
	out.Publish(5, "", "", domain.DataBlock{5, 1})
	require.Eventually(t, func() bool { return failing.calls() > 0 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Shutdown(context.Background()))

	p2 := NewLiveProducer("station-1", "")
	p2.AddOutput("temp", tempSchema, domain.DefaultTextEncoding())
	ok := &stubSink{}
	hub2, err := NewHub(cfg, WithProducer(p2), WithSink(ok))
	require.NoError(t, err)
	assert.Equal(t, 1, hub2.queue.Len())
	require.NoError(t, hub2.Start(context.Background()))
	require.Eventually(t, func() bool { return ok.records() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, hub2.Shutdown(context.Background()))
}

func TestHubBuildsConfiguredDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Producers = []ProducerConfig{
		{ID: "sim-1", Type: "sim", Features: []FeatureBinding{{Feature: domain.Feature{ID: "tank"}}}},
		{ID: "sim-2", Type: "sim", Enabled: new(bool)},
	}
	cfg.Offerings = []OfferingConfig{
		{ID: "tank-live", Producer: "sim-1", Mode: "live", StreamTimeout: time.Second},
		{ID: "sim-2-live", Producer: "sim-2", Mode: "live", StreamTimeout: time.Second},
	}

	built := map[string]*fakeDriver{}
	drivers := NewDriverRegistry()
	drivers.Register("sim", func(pc ProducerConfig, _ Observability) (Driver, error) {
		d := newFakeDriver(pc.ID)
		built[pc.ID] = d
		return d, nil
	})
	assert.Equal(t, []string{"mqtt", "nats", "opcua", "sim"}, drivers.Types())

	hub, err := NewHub(cfg, WithDrivers(drivers), WithObservability(ports.NopObservability{}))
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))

	assert.Equal(t, 1, built["sim-1"].started)
	assert.Equal(t, 0, built["sim-2"].started)
	f, ok := built["sim-1"].FeatureOf("")
	require.True(t, ok)
	assert.Equal(t, "tank", f.ID)

	_, err = hub.Offerings().Get("tank-live")
	require.NoError(t, err)
	_, err = hub.Offerings().Get("sim-2-live")
	assert.ErrorIs(t, err, domain.ErrDisabled)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 1, built["sim-1"].stopped)
}

func TestDriverRegistryBuild(t *testing.T) {
	r := NewDriverRegistry()
	_, err := r.Build(ProducerConfig{ID: "x", Type: "modbus"}, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Build(ProducerConfig{ID: "x", Type: "mqtt"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	r.Register("sim", func(ProducerConfig, Observability) (Driver, error) { return newFakeDriver("other"), nil })
	_, err = r.Build(ProducerConfig{ID: "x", Type: "sim"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	d, err := r.Build(ProducerConfig{
		ID:   "buoy",
		Type: "nats",
		NATS: &NATSConfig{
			Subject: "buoy.>",
			Outputs: []OutputSpec{{Name: "weather", Fields: []domain.DataComponent{{Name: "temp"}}}},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "buoy", d.ID())
	assert.False(t, d.IsEnabled())
}
