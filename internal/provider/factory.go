package provider

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Mode selects where a factory's providers take their data from.
type Mode string

const (
	// ModeLive serves only the live producer.
	ModeLive Mode = "live"
	// ModeArchive serves only stored records.
	ModeArchive Mode = "archive"
	// ModeCombined serves live data for "now" and "from now" requests when
	// the producer is enabled, stored records otherwise.
	ModeCombined Mode = "combined"
)

// DefaultLivenessTimeout is how recent the last stored record must be for
// a combined offering to advertise "now" as its end time.
const DefaultLivenessTimeout = 10 * time.Second

var defaultResponseFormats = []string{"application/json", "text/csv"}

// FactoryConfig describes one offering.
type FactoryConfig struct {
	OfferingID      string
	Name            string
	ProducerID      string
	Mode            Mode
	Enabled         bool
	StreamTimeout   time.Duration
	LivenessTimeout time.Duration
	ResponseFormats []string
	Now             func() time.Time
	Obs             ports.Observability
}

// Factory is the long-lived provider factory of one offering. It is safe
// for concurrent use; the providers it mints are not.
type Factory struct {
	cfg      FactoryConfig
	resolver ports.ProducerResolver
	archive  ports.RecordReader

	mu      sync.RWMutex
	enabled bool
	caps    *ports.Capabilities
	open    map[ports.DataProvider]struct{}
}

// NewFactory builds a factory. resolver is required for live and combined
// modes, archive for archive and combined modes. A ProducerArchive is
// narrowed to the offering's producer.
func NewFactory(cfg FactoryConfig, resolver ports.ProducerResolver, archive ports.RecordReader) (*Factory, error) {
	if cfg.OfferingID == "" {
		return nil, fmt.Errorf("offering id is empty: %w", domain.ErrInvalid)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCombined
	}
	switch cfg.Mode {
	case ModeLive:
		if resolver == nil || cfg.ProducerID == "" {
			return nil, fmt.Errorf("offering %q: live mode needs a producer: %w", cfg.OfferingID, domain.ErrInvalid)
		}
	case ModeArchive:
		if archive == nil {
			return nil, fmt.Errorf("offering %q: archive mode needs a store: %w", cfg.OfferingID, domain.ErrInvalid)
		}
	case ModeCombined:
		if resolver == nil || archive == nil || cfg.ProducerID == "" {
			return nil, fmt.Errorf("offering %q: combined mode needs a producer and a store: %w", cfg.OfferingID, domain.ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("offering %q: unknown mode %q: %w", cfg.OfferingID, cfg.Mode, domain.ErrInvalid)
	}
	// an offering bound to a producer only sees that producer's records
	if pa, ok := archive.(ports.ProducerArchive); ok && cfg.ProducerID != "" && cfg.Mode != ModeLive {
		r, err := pa.ProducerReader(cfg.ProducerID)
		if err != nil {
			return nil, fmt.Errorf("offering %q: %w", cfg.OfferingID, err)
		}
		archive = r
	}
	if cfg.Name == "" {
		cfg.Name = cfg.OfferingID
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if len(cfg.ResponseFormats) == 0 {
		cfg.ResponseFormats = defaultResponseFormats
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Obs == nil {
		cfg.Obs = ports.NopObservability{}
	}
	return &Factory{
		cfg:      cfg,
		resolver: resolver,
		archive:  archive,
		enabled:  cfg.Enabled,
		open:     make(map[ports.DataProvider]struct{}),
	}, nil
}

func (f *Factory) OfferingID() string { return f.cfg.OfferingID }

func (f *Factory) Mode() Mode { return f.cfg.Mode }

// SetEnabled toggles the factory's own flag.
func (f *Factory) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

// producer resolves the live producer; nil without error in archive mode
// when none is configured.
func (f *Factory) producer() (ports.Producer, error) {
	if f.resolver == nil || f.cfg.ProducerID == "" {
		return nil, nil
	}
	return f.resolver.Producer(f.cfg.ProducerID)
}

// availability reports why the offering cannot be used, or nil.
func (f *Factory) availability() (ports.Producer, error) {
	f.mu.RLock()
	enabled := f.enabled
	f.mu.RUnlock()
	if !enabled {
		return nil, domain.Disabled("offering", f.cfg.OfferingID)
	}
	prod, err := f.producer()
	if err != nil {
		if f.cfg.Mode == ModeArchive && errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prod != nil && !prod.IsEnabled() {
		return prod, domain.Disabled("producer", prod.ID())
	}
	return prod, nil
}

// IsEnabled is true when both the factory and its producer are enabled.
func (f *Factory) IsEnabled() bool {
	_, err := f.availability()
	return err == nil
}

// NewProvider mints a provider for one request. It fails with ErrDisabled
// or ErrNotFound when the offering cannot serve.
func (f *Factory) NewProvider(filter domain.DataFilter) (ports.DataProvider, error) {
	prod, err := f.availability()
	if err != nil {
		return nil, err
	}
	if f.cfg.ProducerID != "" {
		filter.ProducerIDs = []string{f.cfg.ProducerID}
	}

	var p ports.DataProvider
	switch {
	case f.cfg.Mode == ModeLive,
		f.cfg.Mode == ModeCombined && filter.Time.IsLive() && prod != nil && prod.IsEnabled():
		p, err = NewStreamProvider(prod, filter, StreamConfig{Timeout: f.cfg.StreamTimeout, Now: f.cfg.Now, Obs: f.cfg.Obs})
	default:
		p, err = NewStorageProvider(f.archive, filter, StorageConfig{Now: f.cfg.Now, Obs: f.cfg.Obs})
	}
	if err != nil {
		return nil, err
	}
	tp := &trackedProvider{DataProvider: p, f: f}
	f.mu.Lock()
	f.open[tp] = struct{}{}
	f.mu.Unlock()
	return tp, nil
}

// trackedProvider removes itself from the factory when closed.
type trackedProvider struct {
	ports.DataProvider
	f *Factory
}

func (t *trackedProvider) Close() error {
	t.f.mu.Lock()
	delete(t.f.open, t)
	t.f.mu.Unlock()
	return t.DataProvider.Close()
}

// Cleanup closes every provider still open, which unregisters their
// listeners from the live producer.
func (f *Factory) Cleanup() {
	f.mu.Lock()
	open := make([]ports.DataProvider, 0, len(f.open))
	for p := range f.open {
		open = append(open, p)
	}
	f.mu.Unlock()
	for _, p := range open {
		if err := p.Close(); err != nil {
			f.cfg.Obs.LogError("provider_close_failed", err, ports.F("offering", f.cfg.OfferingID))
		}
	}
}

// OpenProviders returns the number of providers not yet closed.
func (f *Factory) OpenProviders() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.open)
}

// GenerateCapabilities recomputes the advertised metadata from the current
// state of the producer and the store.
func (f *Factory) GenerateCapabilities() (ports.Capabilities, error) {
	caps := ports.Capabilities{
		OfferingID:      f.cfg.OfferingID,
		Name:            f.cfg.Name,
		ResponseFormats: append([]string(nil), f.cfg.ResponseFormats...),
		ObservedArea:    domain.EmptyBBox(),
	}
	if f.cfg.ProducerID != "" {
		caps.ProcedureIDs = []string{f.cfg.ProducerID}
	}

	prod, err := f.producer()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return ports.Capabilities{}, err
	}
	liveOK := prod != nil && prod.IsEnabled() && f.cfg.Mode != ModeArchive

	observables := make(map[string]struct{})
	types := make(map[string]struct{})
	fois := make(map[string]struct{})
	if prod != nil && f.cfg.Mode != ModeArchive {
		for _, out := range prod.Outputs() {
			types[out.Name()] = struct{}{}
			for _, def := range out.RecordSchema().Definitions() {
				observables[def] = struct{}{}
			}
		}
		if foi, ok := prod.FeatureOf(""); ok {
			fois[foi.ID] = struct{}{}
			caps.ObservedArea = caps.ObservedArea.Merge(foi.Geometry.Bounds())
		}
	}

	archived := domain.TimeInterval{Begin: math.Inf(1), End: math.Inf(-1)}
	if f.archive != nil && f.cfg.Mode != ModeLive {
		for _, info := range f.archive.RecordTypes() {
			types[info.Name] = struct{}{}
			for _, def := range info.Schema.Definitions() {
				observables[def] = struct{}{}
			}
			r, ok, err := f.archive.RecordsTimeRange(info.Name)
			if err != nil {
				return ports.Capabilities{}, err
			}
			if ok {
				archived = archived.Union(r)
			}
		}
		ids, err := f.archive.FoiIDs()
		if err != nil {
			return ports.Capabilities{}, err
		}
		for _, id := range ids {
			fois[id] = struct{}{}
		}
		caps.ObservedArea = caps.ObservedArea.Merge(f.archive.SpatialExtent())
	}

	if caps.ObservedArea.IsEmpty() {
		caps.ObservedArea = domain.BBox{}
	}
	caps.ObservableProperties = sortedKeys(observables)
	caps.RecordTypes = sortedKeys(types)
	caps.FoiIDs = sortedKeys(fois)
	caps.PhenomenonTime, caps.Live = f.phenomenonTime(archived, liveOK)

	f.mu.Lock()
	f.caps = &caps
	f.mu.Unlock()
	return caps, nil
}

// phenomenonTime advertises "now" as the end time only while the producer
// is enabled and the last archived record is within the liveness timeout;
// otherwise the end reverts to the last archived timestamp.
func (f *Factory) phenomenonTime(archived domain.TimeInterval, liveOK bool) (domain.TimeExtent, bool) {
	hasArchive := archived.Begin <= archived.End
	switch f.cfg.Mode {
	case ModeLive:
		if liveOK {
			return domain.NowInstant(), true
		}
		return domain.TimeExtent{}, false
	case ModeArchive:
		if !hasArchive {
			return domain.TimeExtent{}, false
		}
		return domain.Period(archived.Begin, archived.End), false
	}
	if !hasArchive {
		if liveOK {
			return domain.NowInstant(), true
		}
		return domain.TimeExtent{}, false
	}
	now := domain.Seconds(f.cfg.Now())
	if liveOK && now-archived.End <= f.cfg.LivenessTimeout.Seconds() {
		return domain.UntilNow(archived.Begin), true
	}
	return domain.Period(archived.Begin, archived.End), false
}

// UpdateCapabilities regenerates the capabilities and reports whether they
// differ from the previous ones.
func (f *Factory) UpdateCapabilities() (ports.Capabilities, bool, error) {
	f.mu.RLock()
	prev := f.caps
	f.mu.RUnlock()
	caps, err := f.GenerateCapabilities()
	if err != nil {
		return ports.Capabilities{}, false, err
	}
	return caps, prev == nil || !reflect.DeepEqual(*prev, caps), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ ports.ProviderFactory = (*Factory)(nil)
