package storage

import (
	"sort"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// MultiProducerStore owns one ProducerStore per producer id and answers
// queries spanning several producers by merging their time-ordered
// streams. Producers are visited in id order, which also decides exact
// timestamp ties: the lexically lower producer id comes first.
type MultiProducerStore struct {
	eng  ports.Engine
	opts []Option

	mu        sync.RWMutex
	producers map[string]*ProducerStore
}

// Open loads every producer registered in the engine.
func Open(eng ports.Engine, opts ...Option) (*MultiProducerStore, error) {
	m := &MultiProducerStore{
		eng:       eng,
		opts:      opts,
		producers: make(map[string]*ProducerStore),
	}
	var ids []string
	err := eng.View(func(tx ports.Tx) error {
		prefix := registryPrefix()
		return tx.Scan(prefix, func(k, _ []byte) error {
			ids = append(ids, string(k[len(prefix):]))
			return nil
		})
	})
	if err != nil {
		return nil, domain.StorageFailure("load producers", err)
	}
	for _, id := range ids {
		p, err := OpenProducerStore(eng, id, opts...)
		if err != nil {
			return nil, err
		}
		m.producers[id] = p
	}
	return m, nil
}

// AddProducer registers a producer, or returns the existing store.
func (m *MultiProducerStore) AddProducer(id string) (*ProducerStore, error) {
	if err := validateName("producer", id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.producers[id]; ok {
		return p, nil
	}
	err := m.eng.Update(func(tx ports.Tx) error {
		return tx.Set(registryKey(id), nil)
	})
	if err != nil {
		return nil, domain.StorageFailure("add producer", err)
	}
	p, err := OpenProducerStore(m.eng, id, m.opts...)
	if err != nil {
		return nil, err
	}
	m.producers[id] = p
	return p, nil
}

func (m *MultiProducerStore) Producer(id string) (*ProducerStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.producers[id]
	if !ok {
		return nil, domain.NotFound("producer", id)
	}
	return p, nil
}

// ProducerReader returns the store of one producer as a RecordReader.
func (m *MultiProducerStore) ProducerReader(id string) (ports.RecordReader, error) {
	p, err := m.Producer(id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProducerIDs returns the registered ids in lexical order.
func (m *MultiProducerStore) ProducerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.producers))
	for id := range m.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveProducer deletes a producer and all of its data.
func (m *MultiProducerStore) RemoveProducer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.producers[id]
	if !ok {
		return domain.NotFound("producer", id)
	}
	err := m.eng.Update(func(tx ports.Tx) error {
		if err := p.dropTx(tx); err != nil {
			return err
		}
		return tx.Delete(registryKey(id))
	})
	if err != nil {
		return domain.StorageFailure("remove producer", err)
	}
	delete(m.producers, id)
	return nil
}

// selected returns the producers passing the filter, in id order.
func (m *MultiProducerStore) selected(filter domain.DataFilter) []*ProducerStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProducerStore, 0, len(m.producers))
	for id, p := range m.producers {
		if filter.WantsProducer(id) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *MultiProducerStore) all() []*ProducerStore {
	return m.selected(domain.DataFilter{})
}

// StoreRecord routes the record to the producer named by key.ProducerID.
func (m *MultiProducerStore) StoreRecord(key domain.DataKey, data domain.DataBlock) error {
	p, err := m.Producer(key.ProducerID)
	if err != nil {
		return err
	}
	return p.StoreRecord(key, data)
}

// StoreFoi stores a feature of interest for one producer.
func (m *MultiProducerStore) StoreFoi(producerID string, foi domain.Feature) error {
	p, err := m.Producer(producerID)
	if err != nil {
		return err
	}
	return p.StoreFoi(foi)
}

// Foi looks up a feature of interest of one producer.
func (m *MultiProducerStore) Foi(producerID, foiID string) (domain.Feature, error) {
	p, err := m.Producer(producerID)
	if err != nil {
		return domain.Feature{}, err
	}
	return p.Foi(foiID)
}

// RecordTypes returns the union of record types; when two producers share
// a type name the one from the lower producer id is reported.
func (m *MultiProducerStore) RecordTypes() []domain.RecordTypeInfo {
	seen := make(map[string]struct{})
	var out []domain.RecordTypeInfo
	for _, p := range m.all() {
		for _, info := range p.RecordTypes() {
			if _, ok := seen[info.Name]; ok {
				continue
			}
			seen[info.Name] = struct{}{}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordIterator merges the matching records of every selected producer
// in global time order.
func (m *MultiProducerStore) RecordIterator(filter domain.DataFilter) (ports.Iterator[domain.Record], error) {
	producers := m.selected(filter)
	srcs := make([]ports.Iterator[domain.Record], 0, len(producers))
	for _, p := range producers {
		srcs = append(srcs, p.recordIterator(filter))
	}
	return LimitIterator(mergeRecords(srcs), filter.MaxCount), nil
}

func (m *MultiProducerStore) DataBlockIterator(filter domain.DataFilter) (ports.Iterator[domain.DataBlock], error) {
	it, err := m.RecordIterator(filter)
	if err != nil {
		return nil, err
	}
	return mapIter(it, func(r domain.Record) domain.DataBlock { return r.Value }), nil
}

// RemoveRecords removes the matching records from every selected producer.
func (m *MultiProducerStore) RemoveRecords(filter domain.DataFilter) (int, error) {
	var total int
	for _, p := range m.selected(filter) {
		n, err := p.RemoveRecords(filter)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// seriesOf returns the series of recordType across producers.
func (m *MultiProducerStore) seriesOf(recordType string) ([]*ObsSeries, error) {
	var out []*ObsSeries
	for _, p := range m.all() {
		if s, err := p.Series(recordType); err == nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, domain.NotFound("record type", recordType)
	}
	return out, nil
}

func (m *MultiProducerStore) RecordsTimeRange(recordType string) (domain.TimeInterval, bool, error) {
	series, err := m.seriesOf(recordType)
	if err != nil {
		return domain.TimeInterval{}, false, err
	}
	var (
		out   domain.TimeInterval
		found bool
	)
	for _, s := range series {
		r, ok, err := s.TimeRange()
		if err != nil {
			return domain.TimeInterval{}, false, err
		}
		if !ok {
			continue
		}
		if found {
			out = out.Union(r)
		} else {
			out, found = r, true
		}
	}
	return out, found, nil
}

// RecordsTimeClusters clusters the merged timestamps of every producer
// holding recordType.
func (m *MultiProducerStore) RecordsTimeClusters(recordType string) (ports.Iterator[domain.TimeInterval], error) {
	series, err := m.seriesOf(recordType)
	if err != nil {
		return nil, err
	}
	window := domain.AllTime()
	srcs := make([]ports.Iterator[domain.Record], 0, len(series))
	for _, s := range series {
		srcs = append(srcs, s.Range(window.Begin, window.End, false))
	}
	o := defaultOptions()
	for _, opt := range m.opts {
		opt(&o)
	}
	return newClusterIterator(mergeRecords(srcs), o.clusterGap), nil
}

// Fois returns the matching features of every producer, deduplicated by id
// and sorted by id.
func (m *MultiProducerStore) Fois(filter domain.FoiFilter) (ports.Iterator[domain.Feature], error) {
	byID := make(map[string]domain.Feature)
	for _, p := range m.all() {
		it, err := p.Fois(filter)
		if err != nil {
			return nil, err
		}
		feats, err := Collect(it)
		if err != nil {
			return nil, err
		}
		for _, f := range feats {
			if _, ok := byID[f.ID]; !ok {
				byID[f.ID] = f
			}
		}
	}
	out := make([]domain.Feature, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return NewSliceIterator(out), nil
}

func (m *MultiProducerStore) FoiIDs() ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range m.all() {
		ids, err := p.FoiIDs()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MultiProducerStore) SpatialExtent() domain.BBox {
	box := domain.EmptyBBox()
	for _, p := range m.all() {
		box = box.Merge(p.SpatialExtent())
	}
	return box
}

var _ ports.ProducerArchive = (*MultiProducerStore)(nil)
