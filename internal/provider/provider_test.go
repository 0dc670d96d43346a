package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/kv/memkv"
	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/livesource"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
	"github.com/sensiasoft/sensorhub-sub000/internal/storage"
)

const (
	defTemp = "http://sensorml.com/ont/swe/property/Temperature"
	defHum  = "http://sensorml.com/ont/swe/property/RelativeHumidity"
)

func schema(name, def string) domain.DataComponent {
	return domain.DataComponent{
		Name: name,
		Type: domain.TypeRecord,
		Fields: []domain.DataComponent{
			{Name: "time", Type: domain.TypeTime, Definition: domain.DefSamplingTime},
			{Name: "value", Type: domain.TypeQuantity, Definition: def},
		},
	}
}

// clock is a settable wall clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *clock
	producer *livesource.Producer
	temp     *livesource.Output
	hum      *livesource.Output
	registry *livesource.Registry
	store    *storage.ProducerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := livesource.NewProducer("station-1", "Station 1")
	p.SetFeature("", domain.Feature{ID: "site-1", Geometry: domain.NewPoint(4, 5)})
	f := &fixture{
		clock:    c,
		producer: p,
		temp:     p.AddOutput("temp", schema("temp", defTemp), domain.DefaultTextEncoding()),
		hum:      p.AddOutput("hum", schema("hum", defHum), domain.DefaultTextEncoding()),
		registry: livesource.NewRegistry(),
	}
	require.NoError(t, f.registry.Register(p))
	st, err := storage.OpenProducerStore(memkv.New(), "station-1", storage.WithClock(c.Now))
	require.NoError(t, err)
	require.NoError(t, st.AddRecordType("temp", schema("temp", defTemp), domain.DefaultTextEncoding()))
	f.store = st
	return f
}

func (f *fixture) now() float64 { return domain.Seconds(f.clock.Now()) }

func (f *fixture) factory(t *testing.T, mode Mode) *Factory {
	t.Helper()
	fac, err := NewFactory(FactoryConfig{
		OfferingID:      "station-1-offering",
		ProducerID:      "station-1",
		Mode:            mode,
		Enabled:         true,
		StreamTimeout:   50 * time.Millisecond,
		LivenessTimeout: 10 * time.Second,
		Now:             f.clock.Now,
	}, f.registry, f.store)
	require.NoError(t, err)
	return fac
}

func TestStreamProviderTimesOutIdempotently(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	rec, err := p.NextResultRecord(context.Background())
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	rec, err = p.NextResultRecord(context.Background())
	assert.Nil(t, rec)
	assert.True(t, IsEndOfStream(err))
}

func TestStreamProviderDeliversEventRecords(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{Observables: []string{defTemp}, Time: domain.FromNow()},
		StreamConfig{Timeout: time.Second, Now: f.clock.Now})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 1, f.temp.Listeners())
	assert.Equal(t, 0, f.hum.Listeners())

	f.temp.Publish(f.now(), "", "", domain.DataBlock{f.now() - 1, 20}, domain.DataBlock{f.now(), 21})

	rec, err := p.NextResultRecord(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DataKey{RecordType: "temp", Timestamp: f.now() - 1, ProducerID: "station-1", FoiID: "site-1"}, rec.Key)

	obs, err := p.NextObservation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.now(), obs.PhenomenonTime)
	assert.Equal(t, []string{defTemp}, obs.ObservedProperties)
	assert.Equal(t, "site-1", obs.FoiID)
	assert.NotEmpty(t, obs.ID)
	assert.Equal(t, "temp", p.ResultStructure().Name)
}

func TestStreamProviderNowInstant(t *testing.T) {
	f := newFixture(t)
	f.temp.Publish(f.now(), "", "", domain.DataBlock{f.now(), 19})

	p, err := NewStreamProvider(f.producer, domain.DataFilter{RecordTypes: []string{"temp"}, Time: domain.NowInstant()}, StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 0, f.temp.Listeners())

	rec, err := p.NextResultRecord(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DataBlock{f.now(), 19}, rec.Value)

	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestStreamProviderStopTime(t *testing.T) {
	f := newFixture(t)
	filter := domain.DataFilter{RecordTypes: []string{"temp"}, Time: domain.TimeExtent{BeginNow: true, End: f.now() + 5}}
	p, err := NewStreamProvider(f.producer, filter, StreamConfig{Timeout: time.Second, Now: f.clock.Now})
	require.NoError(t, err)
	defer p.Close()

	f.temp.Publish(f.now()+1, "", "", domain.DataBlock{f.now() + 1, 1})
	_, err = p.NextResultRecord(context.Background())
	require.NoError(t, err)

	f.temp.Publish(f.now()+6, "", "", domain.DataBlock{f.now() + 6, 2})
	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
}

// countingObs records counter increments.
type countingObs struct {
	ports.NopObservability
	mu       sync.Mutex
	counters map[string]float64
}

func (o *countingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counters == nil {
		o.counters = make(map[string]float64)
	}
	o.counters[name] += v
}

func (o *countingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func TestStreamProviderPublishDoesNotWaitForReader(t *testing.T) {
	f := newFixture(t)
	obs := &countingObs{}
	p, err := NewStreamProvider(f.producer, domain.DataFilter{RecordTypes: []string{"temp"}, Time: domain.FromNow()},
		StreamConfig{Timeout: 2 * time.Second, Obs: obs})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		ts := f.now() + float64(i)
		f.temp.Publish(ts, "", "", domain.DataBlock{ts, float64(i)})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 2.0, obs.counter(ports.MetricStreamEventsDropped))

	rec, err := p.NextResultRecord(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.now()+2, rec.Key.Timestamp)
}

func TestStreamProviderEndsWhenProducerDisabled(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	defer p.Close()

	f.producer.SetEnabled(false)
	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)

	_, err = NewStreamProvider(f.producer, domain.DataFilter{}, StreamConfig{})
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestStreamProviderEndsWhenProducerDisabledWhileWaiting(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	defer p.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.producer.SetEnabled(false)
	}()

	start := time.Now()
	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamProviderCloseUnregistersAndIgnoresLateEvents(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, f.temp.Listeners())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 0, f.temp.Listeners())

	p.listener.HandleEvent(domain.DataEvent{OutputName: "temp", Records: []domain.DataBlock{{1, 2}}})
	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
}

func TestStreamProviderMaxCountAndContext(t *testing.T) {
	f := newFixture(t)
	p, err := NewStreamProvider(f.producer, domain.DataFilter{RecordTypes: []string{"temp"}, Time: domain.FromNow(), MaxCount: 1},
		StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	defer p.Close()

	f.temp.Publish(f.now(), "", "", domain.DataBlock{f.now(), 1}, domain.DataBlock{f.now() + 1, 2})
	_, err = p.NextResultRecord(context.Background())
	require.NoError(t, err)
	_, err = p.NextResultRecord(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)

	q, err := NewStreamProvider(f.producer, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: time.Hour})
	require.NoError(t, err)
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.NextResultRecord(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamProviderPollsNonPushOutputs(t *testing.T) {
	p := livesource.NewProducer("poller", "")
	out := p.AddOutput("temp", schema("temp", defTemp), domain.DefaultTextEncoding(),
		livesource.WithPolling(), livesource.WithSamplingPeriod(20*time.Millisecond))
	out.Publish(42, "", "", domain.DataBlock{42, 7})

	sp, err := NewStreamProvider(p, domain.DataFilter{Time: domain.FromNow()}, StreamConfig{Timeout: time.Second})
	require.NoError(t, err)
	defer sp.Close()

	rec, err := sp.NextResultRecord(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, rec.Key.Timestamp)
}

func TestStreamProviderRejectsUnknownObservable(t *testing.T) {
	f := newFixture(t)
	_, err := NewStreamProvider(f.producer, domain.DataFilter{Observables: []string{"urn:nothing"}}, StreamConfig{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStorageProviderReplaysArchive(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []float64{1, 2, 3} {
		require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: ts, FoiID: "site-1"}, domain.DataBlock{ts, ts * 2}))
	}
	p, err := NewStorageProvider(f.store, domain.DataFilter{MaxCount: 2}, StorageConfig{})
	require.NoError(t, err)
	defer p.Close()

	var got []float64
	for {
		rec, err := p.NextResultRecord(context.Background())
		if IsEndOfStream(err) {
			break
		}
		require.NoError(t, err)
		got = append(got, rec.Key.Timestamp)
	}
	assert.Equal(t, []float64{1, 2}, got)
	_, err = p.NextObservation(context.Background())
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
}

func TestStorageProviderReplaySpeed(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []float64{10, 10.1, 10.2} {
		require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: ts}, domain.DataBlock{ts, 0}))
	}
	p, err := NewStorageProvider(f.store, domain.DataFilter{ReplaySpeed: 2}, StorageConfig{})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.NextObservation(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCapabilitiesFollowLiveness(t *testing.T) {
	f := newFixture(t)
	last := f.now() - 5
	require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: f.now() - 100, FoiID: "site-1"}, domain.DataBlock{0, 1}))
	require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: last, FoiID: "site-1"}, domain.DataBlock{0, 2}))
	fac := f.factory(t, ModeCombined)

	caps, err := fac.GenerateCapabilities()
	require.NoError(t, err)
	assert.True(t, caps.Live)
	assert.True(t, caps.PhenomenonTime.EndNow)
	assert.Equal(t, f.now()-100, caps.PhenomenonTime.Begin)
	assert.Equal(t, []string{"hum", "temp"}, caps.RecordTypes)
	assert.Equal(t, []string{defHum, defTemp}, caps.ObservableProperties)
	assert.Equal(t, []string{"site-1"}, caps.FoiIDs)
	assert.Equal(t, domain.BBox{MinX: 4, MinY: 5, MaxX: 4, MaxY: 5}, caps.ObservedArea)

	f.clock.Advance(6 * time.Second)
	caps, changed, err := fac.UpdateCapabilities()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, caps.Live)
	assert.False(t, caps.PhenomenonTime.EndNow)
	assert.Equal(t, last, caps.PhenomenonTime.End)

	_, changed, err = fac.UpdateCapabilities()
	require.NoError(t, err)
	assert.False(t, changed)

	f.clock.Advance(-6 * time.Second)
	f.producer.SetEnabled(false)
	caps, err = fac.GenerateCapabilities()
	require.NoError(t, err)
	assert.False(t, caps.PhenomenonTime.EndNow)
}

func TestFactorySelectsLiveOrArchive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: 1}, domain.DataBlock{1, 1}))
	fac := f.factory(t, ModeCombined)

	live, err := fac.NewProvider(domain.DataFilter{RecordTypes: []string{"temp"}, Time: domain.FromNow()})
	require.NoError(t, err)
	assert.IsType(t, &StreamProvider{}, live.(*trackedProvider).DataProvider)

	archive, err := fac.NewProvider(domain.DataFilter{Time: domain.Period(0, 10)})
	require.NoError(t, err)
	assert.IsType(t, &StorageProvider{}, archive.(*trackedProvider).DataProvider)
	rec, err := archive.NextResultRecord(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Key.Timestamp)

	assert.Equal(t, 2, fac.OpenProviders())
	require.NoError(t, archive.Close())
	assert.Equal(t, 1, fac.OpenProviders())

	fac.Cleanup()
	assert.Equal(t, 0, fac.OpenProviders())
	assert.Equal(t, 0, f.temp.Listeners())
}

func TestFactoryOnSharedStoreSeesOnlyItsProducer(t *testing.T) {
	f := newFixture(t)
	multi, err := storage.Open(memkv.New(), storage.WithClock(f.clock.Now))
	require.NoError(t, err)

	stale, err := multi.AddProducer("station-1")
	require.NoError(t, err)
	require.NoError(t, stale.AddRecordType("temp", schema("temp", defTemp), domain.DefaultTextEncoding()))
	require.NoError(t, multi.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: f.now() - 3600, ProducerID: "station-1", FoiID: "site-1"}, domain.DataBlock{0, 1}))

	fresh, err := multi.AddProducer("station-2")
	require.NoError(t, err)
	require.NoError(t, fresh.AddRecordType("temp", schema("temp", defTemp), domain.DefaultTextEncoding()))
	require.NoError(t, fresh.AddRecordType("rain", schema("rain", "urn:rain"), domain.DefaultTextEncoding()))
	require.NoError(t, multi.StoreFoi("station-2", domain.Feature{ID: "station-2-site", Geometry: domain.NewPoint(40, 50)}))
	require.NoError(t, multi.StoreRecord(domain.DataKey{RecordType: "rain", Timestamp: f.now() - 2, ProducerID: "station-2", FoiID: "station-2-site"}, domain.DataBlock{0, 3}))

	fac, err := NewFactory(FactoryConfig{
		OfferingID: "station-1-offering",
		ProducerID: "station-1",
		Mode:       ModeCombined,
		Enabled:    true,
		Now:        f.clock.Now,
	}, f.registry, multi)
	require.NoError(t, err)

	caps, err := fac.GenerateCapabilities()
	require.NoError(t, err)
	assert.False(t, caps.Live)
	assert.False(t, caps.PhenomenonTime.EndNow)
	assert.Equal(t, f.now()-3600, caps.PhenomenonTime.End)
	assert.Equal(t, []string{"hum", "temp"}, caps.RecordTypes)
	assert.NotContains(t, caps.FoiIDs, "station-2-site")
	assert.NotContains(t, caps.ObservableProperties, "urn:rain")

	_, err = fac.NewProvider(domain.DataFilter{Observables: []string{"urn:rain"}, Time: domain.Period(0, f.now())})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = NewFactory(FactoryConfig{OfferingID: "x", ProducerID: "station-9", Mode: ModeArchive}, nil, multi)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := NewFactory(FactoryConfig{OfferingID: "all", Mode: ModeArchive, Enabled: true, Now: f.clock.Now}, nil, multi)
	require.NoError(t, err)
	caps, err = all.GenerateCapabilities()
	require.NoError(t, err)
	assert.Equal(t, []string{"rain", "temp"}, caps.RecordTypes)
}

func TestFactoryEnabledNeedsBothFlags(t *testing.T) {
	f := newFixture(t)
	fac := f.factory(t, ModeLive)
	assert.True(t, fac.IsEnabled())

	f.producer.SetEnabled(false)
	assert.False(t, fac.IsEnabled())
	_, err := fac.NewProvider(domain.DataFilter{Time: domain.FromNow()})
	assert.ErrorIs(t, err, domain.ErrDisabled)

	f.producer.SetEnabled(true)
	fac.SetEnabled(false)
	assert.False(t, fac.IsEnabled())

	_, err = NewFactory(FactoryConfig{OfferingID: "x", Mode: ModeLive}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)
	_, err = NewFactory(FactoryConfig{OfferingID: "x", Mode: "bogus"}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestArchiveFactoryWithoutProducer(t *testing.T) {
	f := newFixture(t)
	fac, err := NewFactory(FactoryConfig{OfferingID: "old", ProducerID: "gone", Mode: ModeArchive, Enabled: true}, f.registry, f.store)
	require.NoError(t, err)
	assert.True(t, fac.IsEnabled())
	caps, err := fac.GenerateCapabilities()
	require.NoError(t, err)
	assert.False(t, caps.Live)
	assert.Equal(t, domain.TimeExtent{}, caps.PhenomenonTime)
}

func TestOfferingRegistry(t *testing.T) {
	f := newFixture(t)
	reg := NewOfferingRegistry(nil)
	fac := f.factory(t, ModeCombined)
	require.NoError(t, reg.Register(fac))
	assert.ErrorIs(t, reg.Register(fac), domain.ErrInvalid)

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := reg.Get("station-1-offering")
	require.NoError(t, err)
	assert.Same(t, fac, got)
	require.Len(t, reg.Capabilities(), 1)

	fac.SetEnabled(false)
	_, err = reg.Get("station-1-offering")
	assert.ErrorIs(t, err, domain.ErrDisabled)
	assert.Empty(t, reg.Capabilities())
	_, err = reg.NewProvider("station-1-offering", domain.DataFilter{})
	assert.ErrorIs(t, err, domain.ErrDisabled)

	fac.SetEnabled(true)
	require.NoError(t, f.store.StoreRecord(domain.DataKey{RecordType: "temp", Timestamp: f.now()}, domain.DataBlock{0, 0}))
	assert.Equal(t, []string{"station-1-offering"}, reg.Refresh())
	assert.Empty(t, reg.Refresh())
	assert.Equal(t, []string{"station-1-offering"}, reg.OfferingIDs())

	require.NoError(t, reg.Remove("station-1-offering"))
	assert.ErrorIs(t, reg.Remove("station-1-offering"), domain.ErrNotFound)
}
