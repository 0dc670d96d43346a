package storage

import (
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// Option configures a ProducerStore or MultiProducerStore.
type Option func(*options)

type options struct {
	clusterGap float64
	now        func() time.Time
}

func defaultOptions() options {
	return options{clusterGap: DefaultClusterGap, now: time.Now}
}

// WithClusterGap sets the gap, in seconds, separating time clusters.
func WithClusterGap(gap float64) Option {
	return func(o *options) {
		if gap > 0 {
			o.clusterGap = gap
		}
	}
}

// WithClock replaces the wall clock used to resolve "now" in filters.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// ProducerStore holds everything stored for one producer: one ObsSeries per
// record type, the features of interest and the description history.
type ProducerStore struct {
	eng  ports.Engine
	id   string
	root []byte
	opts options

	mu     sync.RWMutex
	series map[string]*ObsSeries

	features *FeatureStore
	history  *DescriptionHistory
}

// OpenProducerStore opens (or creates) the store of producer id and loads
// its record types.
func OpenProducerStore(eng ports.Engine, id string, opts ...Option) (*ProducerStore, error) {
	if err := validateName("producer", id); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	root := producerRoot(id)
	p := &ProducerStore{
		eng:     eng,
		id:      id,
		root:    root,
		opts:    o,
		series:  make(map[string]*ObsSeries),
		history: newDescriptionHistory(eng, root),
	}
	var infos []domain.RecordTypeInfo
	err := eng.View(func(tx ports.Tx) error {
		return tx.Scan(section(root, secType), func(_, v []byte) error {
			var info domain.RecordTypeInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, domain.StorageFailure("load record types", err)
	}
	for _, info := range infos {
		s, err := newObsSeries(eng, root, id, info)
		if err != nil {
			return nil, err
		}
		p.series[info.Name] = s
	}
	if p.features, err = newFeatureStore(eng, root); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ProducerStore) ID() string { return p.id }

func (p *ProducerStore) AddRecordType(name string, schema domain.DataComponent, encoding domain.Encoding) error {
	if err := validateName("record type", name); err != nil {
		return err
	}
	info := domain.RecordTypeInfo{Name: name, Schema: schema, Encoding: encoding}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.series[name]; ok && reflect.DeepEqual(s.Info(), info) {
		return nil
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return domain.StorageFailure("add record type", err)
	}
	err = p.eng.Update(func(tx ports.Tx) error {
		return tx.Set(section(p.root, secType, name), raw)
	})
	if err != nil {
		return domain.StorageFailure("add record type", err)
	}
	s, err := newObsSeries(p.eng, p.root, p.id, info)
	if err != nil {
		return err
	}
	p.series[name] = s
	return nil
}

// RecordTypes returns the record types sorted by name.
func (p *ProducerStore) RecordTypes() []domain.RecordTypeInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.RecordTypeInfo, 0, len(p.series))
	for _, s := range p.series {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Series returns the ObsSeries of a record type.
func (p *ProducerStore) Series(recordType string) (*ObsSeries, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.series[recordType]
	if !ok {
		return nil, domain.NotFound("record type", recordType)
	}
	return s, nil
}

func (p *ProducerStore) StoreRecord(key domain.DataKey, data domain.DataBlock) error {
	s, err := p.Series(key.RecordType)
	if err != nil {
		return err
	}
	return s.Insert(key, data)
}

// selectSeries returns the series matching the filter's record types and
// observables, sorted by record type name.
func (p *ProducerStore) selectSeries(filter domain.DataFilter) []*ObsSeries {
	if !filter.WantsProducer(p.id) {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*ObsSeries
	for name, s := range p.series {
		if filter.WantsRecordType(name) && s.Info().Schema.Observes(filter.Observables) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().Name < out[j].Info().Name })
	return out
}

func (p *ProducerStore) interval(filter domain.DataFilter) domain.TimeInterval {
	return filter.Time.Resolve(domain.Seconds(p.opts.now()))
}

// recordIterator merges the selected series without applying MaxCount.
func (p *ProducerStore) recordIterator(filter domain.DataFilter) ports.Iterator[domain.Record] {
	window := p.interval(filter)
	selected := p.selectSeries(filter)
	srcs := make([]ports.Iterator[domain.Record], 0, len(selected))
	for _, s := range selected {
		if len(filter.FoiIDs) > 0 {
			srcs = append(srcs, s.QueryByFoiAndTime(filter.FoiIDs, window.Begin, window.End))
		} else {
			srcs = append(srcs, s.Range(window.Begin, window.End, false))
		}
	}
	return mergeRecords(srcs)
}

// RecordIterator returns the matching records in time order. Records of
// different types with the same timestamp come out by record type name.
func (p *ProducerStore) RecordIterator(filter domain.DataFilter) (ports.Iterator[domain.Record], error) {
	return LimitIterator(p.recordIterator(filter), filter.MaxCount), nil
}

func (p *ProducerStore) DataBlockIterator(filter domain.DataFilter) (ports.Iterator[domain.DataBlock], error) {
	it, err := p.RecordIterator(filter)
	if err != nil {
		return nil, err
	}
	return mapIter(it, func(r domain.Record) domain.DataBlock { return r.Value }), nil
}

// RemoveRecords deletes the matching records and returns how many were
// removed. MaxCount is ignored.
func (p *ProducerStore) RemoveRecords(filter domain.DataFilter) (int, error) {
	window := p.interval(filter)
	var total int
	for _, s := range p.selectSeries(filter) {
		n, err := s.RemoveByFoi(filter.FoiIDs, window.Begin, window.End)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *ProducerStore) RecordsTimeRange(recordType string) (domain.TimeInterval, bool, error) {
	s, err := p.Series(recordType)
	if err != nil {
		return domain.TimeInterval{}, false, err
	}
	return s.TimeRange()
}

func (p *ProducerStore) RecordsTimeClusters(recordType string) (ports.Iterator[domain.TimeInterval], error) {
	s, err := p.Series(recordType)
	if err != nil {
		return nil, err
	}
	return s.Clusters(p.opts.clusterGap), nil
}

// LatestRecord returns the most recent record of a type.
func (p *ProducerStore) LatestRecord(recordType string) (domain.Record, bool, error) {
	s, err := p.Series(recordType)
	if err != nil {
		return domain.Record{}, false, err
	}
	return s.Latest()
}

// FoiPeriods returns the FOI periods of a record type within [t0, t1].
func (p *ProducerStore) FoiPeriods(recordType string, fois []string, t0, t1 float64) ([]domain.FoiTimePeriod, error) {
	s, err := p.Series(recordType)
	if err != nil {
		return nil, err
	}
	return s.Periods(fois, t0, t1)
}

func (p *ProducerStore) StoreFoi(foi domain.Feature) error { return p.features.Store(foi) }

func (p *ProducerStore) Foi(id string) (domain.Feature, error) { return p.features.ByID(id) }

func (p *ProducerStore) Fois(filter domain.FoiFilter) (ports.Iterator[domain.Feature], error) {
	return p.features.Iterate(filter), nil
}

func (p *ProducerStore) FoiIDs() ([]string, error) { return p.features.IDs() }

func (p *ProducerStore) SpatialExtent() domain.BBox { return p.features.Extent() }

func (p *ProducerStore) StoreDescription(d domain.ProcedureDescription) error {
	return p.history.Store(d)
}

// DescriptionAt returns the description version valid at t.
func (p *ProducerStore) DescriptionAt(t float64) (domain.ProcedureDescription, error) {
	return p.history.At(t)
}

func (p *ProducerStore) LatestDescription() (domain.ProcedureDescription, error) {
	return p.history.Latest()
}

func (p *ProducerStore) Descriptions() (ports.Iterator[domain.ProcedureDescription], error) {
	all, err := p.history.All()
	if err != nil {
		return nil, err
	}
	return NewSliceIterator(all), nil
}

func (p *ProducerStore) RemoveDescriptions(t0, t1 float64) (int, error) {
	return p.history.Remove(t0, t1)
}

// dropTx deletes every key of the producer.
func (p *ProducerStore) dropTx(tx ports.Tx) error {
	var keys [][]byte
	err := tx.Scan(p.root, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

var _ ports.RecordStore = (*ProducerStore)(nil)
