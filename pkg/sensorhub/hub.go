package sensorhub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/kv/badgerkv"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/kv/memkv"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/observability"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/queue"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/sink"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/wal"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/wsstream"
	"github.com/sensiasoft/sensorhub-sub000/internal/app/config"
	"github.com/sensiasoft/sensorhub-sub000/internal/app/pipeline"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
	"github.com/sensiasoft/sensorhub-sub000/internal/provider"
	"github.com/sensiasoft/sensorhub-sub000/internal/storage"
)

// HubOption customizes the dependencies used by Hub.
type HubOption func(*hubOverrides)

type hubOverrides struct {
	collector     Collector
	sinks         []Sink
	transformer   Transformer
	wal           WAL
	queue         RecordQueue
	observability Observability
	engine        Engine
	producers     []Producer
	drivers       *DriverRegistry
	logger        *slog.Logger
}

// WithCollector replaces the collector that listens to the hub's producers.
func WithCollector(col Collector) HubOption {
	return func(o *hubOverrides) {
		o.collector = col
	}
}

// WithSink appends a sink written after the record store and the configured
// mirrors.
func WithSink(s Sink) HubOption {
	return func(o *hubOverrides) {
		o.sinks = append(o.sinks, s)
	}
}

// WithTransformer overrides the default no-op transformer.
func WithTransformer(t Transformer) HubOption {
	return func(o *hubOverrides) {
		o.transformer = t
	}
}

// WithWAL lets callers bring their own WAL implementation or reuse an existing instance.
func WithWAL(w WAL) HubOption {
	return func(o *hubOverrides) {
		o.wal = w
	}
}

// WithRecordQueue injects a custom queue implementation.
func WithRecordQueue(q RecordQueue) HubOption {
	return func(o *hubOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) HubOption {
	return func(o *hubOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the logger of the default observability backend. It is
// ignored when WithObservability is used.
func WithLogger(l *slog.Logger) HubOption {
	return func(o *hubOverrides) {
		o.logger = l
	}
}

// WithEngine stores records in the given engine instead of the configured one.
func WithEngine(e Engine) HubOption {
	return func(o *hubOverrides) {
		o.engine = e
	}
}

// WithProducer adds a producer built by the application. Producers that
// implement Driver are started and stopped with the hub.
func WithProducer(p Producer) HubOption {
	return func(o *hubOverrides) {
		o.producers = append(o.producers, p)
	}
}

// WithDrivers replaces the driver registry used to build configured producers.
func WithDrivers(r *DriverRegistry) HubOption {
	return func(o *hubOverrides) {
		o.drivers = r
	}
}

type featureSetter interface {
	SetFeature(entityID string, f domain.Feature)
}

// Hub wires live producers through the collector → WAL → queue → sinks
// pipeline into the record store and serves offerings over that store and
// the live producers.
type Hub struct {
	cfg         *Config
	policy      ports.Policy
	obs         ports.Observability
	metricsReg  *prometheus.Registry
	engine      ports.Engine
	store       *storage.MultiProducerStore
	wal         ports.WAL
	queue       ports.RecordQueue
	producers   *livesource.Registry
	drivers     []Driver
	collector   ports.Collector
	transformer ports.Transformer
	sinks       []ports.Sink
	postgres    *sink.PostgresSink
	db          *sql.DB
	closers     []io.Closer
	offerings   *provider.OfferingRegistry
	api         *http.ServeMux

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metricsSrv *http.Server
	apiSrv     *http.Server
}

// NewHub opens the store and the WAL, replays uncommitted records, builds
// the configured producers, sinks and offerings. Nothing is started.
func NewHub(cfg *Config, opts ...HubOption) (*Hub, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides hubOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	h := &Hub{
		cfg:       cfg,
		policy:    cfg.Policy,
		producers: livesource.NewRegistry(),
		api:       http.NewServeMux(),
	}
	ok := false
	defer func() {
		if !ok {
			h.closeResources()
		}
	}()

	h.obs = overrides.observability
	if h.obs == nil {
		h.metricsReg = prometheus.NewRegistry()
		h.metricsReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		var opts []observability.Option
		if overrides.logger != nil {
			opts = append(opts, observability.WithLogger(overrides.logger))
		}
		h.obs = observability.NewPromObs(h.metricsReg, opts...)
	}

	if err := h.openStore(overrides.engine); err != nil {
		return nil, err
	}

	var err error
	h.wal = overrides.wal
	if h.wal == nil {
		if h.wal, err = wal.NewFileWAL(cfg.WAL.Dir); err != nil {
			return nil, err
		}
	}
	h.queue = overrides.queue
	if h.queue == nil {
		h.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}
	if _, err := pipeline.ReplayWAL(h.wal, h.queue, cfg.Policy, h.obs); err != nil {
		return nil, err
	}

	drivers := overrides.drivers
	if drivers == nil {
		drivers = NewDriverRegistry()
	}
	if err := h.buildProducers(drivers, overrides.producers); err != nil {
		return nil, err
	}

	h.collector = overrides.collector
	if h.collector == nil {
		h.collector = livesource.NewCollector(h.obs, h.producers.All()...)
	}
	h.transformer = overrides.transformer
	if h.transformer == nil {
		h.transformer = noopTransformer{}
	}

	h.sinks = append(h.sinks, sink.NewStoreSink(h.store))
	if err := h.openMirrors(); err != nil {
		return nil, err
	}
	h.sinks = append(h.sinks, overrides.sinks...)

	if err := h.buildOfferings(); err != nil {
		return nil, err
	}
	wsPath := cfg.Server.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	wsstream.NewHandler(h.offerings, h.obs).Register(h.api, wsPath)

	ok = true
	return h, nil
}

func (h *Hub) openStore(eng Engine) error {
	if eng == nil {
		var err error
		switch h.cfg.Storage.Engine {
		case config.EngineMemory:
			eng = memkv.New()
		default:
			eng, err = badgerkv.Open(badgerkv.Config{Path: h.cfg.Storage.Path, SyncWrites: h.cfg.Storage.SyncWrites})
			if err != nil {
				return err
			}
		}
	}
	h.engine = eng

	var opts []storage.Option
	if gap := h.cfg.Storage.ClusterGap; gap > 0 {
		opts = append(opts, storage.WithClusterGap(gap.Seconds()))
	}
	store, err := storage.Open(eng, opts...)
	if err != nil {
		return err
	}
	h.store = store
	return nil
}

func (h *Hub) buildProducers(drivers *DriverRegistry, extra []Producer) error {
	for _, pc := range h.cfg.Producers {
		d, err := drivers.Build(pc, h.obs)
		if err != nil {
			return err
		}
		if fs, ok := d.(featureSetter); ok {
			for _, fb := range pc.Features {
				fs.SetFeature(fb.Entity, fb.Feature)
			}
		}
		if err := h.addProducer(d, pc.Features); err != nil {
			return err
		}
		if pc.IsEnabled() {
			h.drivers = append(h.drivers, d)
		}
	}
	for _, p := range extra {
		if err := h.addProducer(p, nil); err != nil {
			return err
		}
		if d, ok := p.(Driver); ok {
			h.drivers = append(h.drivers, d)
		}
	}
	return nil
}

// addProducer registers a live producer and mirrors its outputs, features
// and description into the store.
func (h *Hub) addProducer(p Producer, features []FeatureBinding) error {
	if err := h.producers.Register(p); err != nil {
		return err
	}
	ps, err := h.store.AddProducer(p.ID())
	if err != nil {
		return err
	}
	for _, out := range p.Outputs() {
		if err := ps.AddRecordType(out.Name(), out.RecordSchema(), out.RecommendedEncoding()); err != nil {
			return err
		}
	}
	for _, fb := range features {
		if err := ps.StoreFoi(fb.Feature); err != nil {
			return err
		}
	}
	if f, ok := p.FeatureOf(""); ok && len(features) == 0 {
		if err := ps.StoreFoi(f); err != nil {
			return err
		}
	}
	return h.storeDescription(ps, p.CurrentDescription())
}

// storeDescription records a new description version when it differs from
// the latest stored one.
func (h *Hub) storeDescription(ps *storage.ProducerStore, d domain.ProcedureDescription) error {
	if latest, err := ps.LatestDescription(); err == nil {
		latest.ValidFrom = d.ValidFrom
		if reflect.DeepEqual(latest, d) {
			return nil
		}
	}
	if d.ValidFrom == 0 {
		d.ValidFrom = domain.Seconds(time.Now())
	}
	return ps.StoreDescription(d)
}

func (h *Hub) openMirrors() error {
	if pg := h.cfg.Postgres; pg != nil {
		db, err := sql.Open("postgres", pg.ConnString)
		if err != nil {
			return err
		}
		h.db = db
		h.postgres = sink.NewPostgresSink(db, pg.Table, h.store)
		h.sinks = append(h.sinks, h.postgres)
	}
	if kc := h.cfg.Kafka; kc != nil {
		k := sink.NewKafkaSink(*kc)
		h.closers = append(h.closers, k)
		h.sinks = append(h.sinks, k)
	}
	return nil
}

func (h *Hub) buildOfferings() error {
	h.offerings = provider.NewOfferingRegistry(h.obs)
	offerings := h.cfg.Offerings
	if len(offerings) == 0 {
		// one combined offering per producer
		for _, p := range h.producers.All() {
			offerings = append(offerings, OfferingConfig{
				ID:              p.ID(),
				Producer:        p.ID(),
				Mode:            string(provider.ModeCombined),
				StreamTimeout:   10 * time.Second,
				LivenessTimeout: provider.DefaultLivenessTimeout,
			})
		}
	}
	for _, oc := range offerings {
		f, err := provider.NewFactory(provider.FactoryConfig{
			OfferingID:      oc.ID,
			Name:            oc.Name,
			ProducerID:      oc.Producer,
			Mode:            provider.Mode(oc.Mode),
			Enabled:         oc.IsEnabled(),
			StreamTimeout:   oc.StreamTimeout,
			LivenessTimeout: oc.LivenessTimeout,
			Obs:             h.obs,
		}, h.producers, h.store)
		if err != nil {
			return err
		}
		if err := h.offerings.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// Start connects the producers, begins the edge + ingest pipelines and
// launches the HTTP endpoints. A producer that fails to connect is logged
// and stays disabled. It returns immediately; call Run to block instead.
func (h *Hub) Start(ctx context.Context) error {
	if h == nil {
		return fmt.Errorf("hub is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("hub already started")
	}

	if h.postgres != nil {
		if err := h.postgres.EnsureTable(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	for _, d := range h.drivers {
		if err := d.Start(ctx); err != nil {
			h.obs.LogError("producer_start_failed", err, ports.F("producer", d.ID()))
		}
	}

	if err := pipeline.RunEdgePipeline(ctx, h.collector, h.wal, h.queue, h.policy, h.obs); err != nil {
		cancel()
		h.stopDrivers()
		return err
	}

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		pipeline.RunIngestPipeline(ctx, h.wal, h.queue, h.transformer, h.sinks, h.policy, h.obs)
	}()
	go func() {
		defer h.wg.Done()
		h.refreshOfferings(ctx, h.cfg.Server.RefreshInterval)
	}()
	go func() {
		defer h.wg.Done()
		h.recordResourceGauges(ctx, time.Second)
	}()

	h.metricsSrv = h.serve(h.cfg.Metrics.Addr, h.metricsHandler(), "metrics")
	h.apiSrv = h.serve(h.cfg.Server.Addr, h.api, "api")

	h.cancel = cancel
	h.started = true
	return nil
}

// Run starts the hub and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// Shutdown stops the servers, the producers and the pipelines, then closes
// the WAL, the store and the mirror connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	var errs []error

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, srv := range []*http.Server{h.apiSrv, h.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	h.apiSrv, h.metricsSrv = nil, nil

	if h.started {
		if err := h.collector.Stop(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, h.stopDrivers()...)
		h.cancel()
		h.wg.Wait()
		h.started = false
	}

	h.offerings.Close()
	errs = append(errs, h.closeResources()...)
	return errors.Join(errs...)
}

func (h *Hub) stopDrivers() []error {
	var errs []error
	for _, d := range h.drivers {
		if err := d.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (h *Hub) closeResources() []error {
	var errs []error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			errs = append(errs, err)
		}
		h.db = nil
	}
	if h.wal != nil {
		if err := h.wal.Close(); err != nil {
			errs = append(errs, err)
		}
		h.wal = nil
	}
	if h.engine != nil {
		if err := h.engine.Close(); err != nil {
			errs = append(errs, err)
		}
		h.engine = nil
	}
	return errs
}

// Store exposes the record store, e.g. for inspection tools.
func (h *Hub) Store() *storage.MultiProducerStore { return h.store }

// Offerings exposes the offering registry.
func (h *Hub) Offerings() *provider.OfferingRegistry { return h.offerings }

// Producer looks up a live producer by id.
func (h *Hub) Producer(id string) (Producer, error) { return h.producers.Producer(id) }

// Handler returns the streaming and capabilities endpoints.
func (h *Hub) Handler() http.Handler { return h.api }

func (h *Hub) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	if h.metricsReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.metricsReg, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (h *Hub) serve(addr string, handler http.Handler, name string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.obs.LogError("http_server_exited", err, ports.F("server", name), ports.F("addr", addr))
		}
	}()
	return srv
}

func (h *Hub) refreshOfferings(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := h.offerings.Refresh(); len(changed) > 0 {
				h.obs.LogInfo("capabilities_changed", ports.F("offerings", changed))
			}
		}
	}
}

func (h *Hub) recordResourceGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.wal.Stats()
			h.obs.SetGauge(ports.MetricWALSize, float64(stats.SizeBytes))
			h.obs.SetGauge(ports.MetricQueueLength, float64(h.queue.Len()))
		}
	}
}

type noopTransformer struct{}

func (noopTransformer) Transform(r *domain.Record) (*domain.Record, error) { return r, nil }
func (noopTransformer) Version() uint16                                    { return 1 }
