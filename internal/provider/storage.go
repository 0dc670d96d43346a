package provider

import (
	"context"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// StorageConfig tunes a StorageProvider.
type StorageConfig struct {
	Now func() time.Time
	Obs ports.Observability
}

func (c *StorageConfig) applyDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Obs == nil {
		c.Obs = ports.NopObservability{}
	}
}

// StorageProvider serves archived records from a record store. With a
// replay speed set, records are released at their original pace divided by
// that factor.
type StorageProvider struct {
	cfg     StorageConfig
	reader  ports.RecordReader
	filter  domain.DataFilter
	schemas map[string]domain.DataComponent
	order   []string

	it     ports.Iterator[domain.Record]
	done   bool
	closed bool

	replayStart time.Time
	firstTs     float64
}

// NewStorageProvider checks that at least one stored record type matches
// the filter. The store is queried lazily on the first call to Next.
func NewStorageProvider(reader ports.RecordReader, filter domain.DataFilter, cfg StorageConfig) (*StorageProvider, error) {
	cfg.applyDefaults()
	p := &StorageProvider{
		cfg:     cfg,
		reader:  reader,
		filter:  filter,
		schemas: make(map[string]domain.DataComponent),
	}
	for _, info := range reader.RecordTypes() {
		if !filter.WantsRecordType(info.Name) || !info.Schema.Observes(filter.Observables) {
			continue
		}
		p.schemas[info.Name] = info.Schema
		p.order = append(p.order, info.Name)
	}
	if len(p.order) == 0 {
		return nil, domain.NotFound("stored record type observing requested properties", "")
	}
	p.filter.RecordTypes = append([]string(nil), p.order...)
	p.cfg.Obs.AddGauge(ports.MetricProvidersActive, 1)
	return p, nil
}

func (p *StorageProvider) NextResultRecord(ctx context.Context) (*domain.Record, error) {
	if p.done || p.closed {
		return nil, domain.ErrEndOfStream
	}
	if p.it == nil {
		it, err := p.reader.RecordIterator(p.filter)
		if err != nil {
			return nil, err
		}
		p.it = it
	}
	if !p.it.Next() {
		p.done = true
		if err := p.it.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrEndOfStream
	}
	rec := p.it.Value()
	if err := p.pace(ctx, rec.Key.Timestamp); err != nil {
		return nil, err
	}
	p.cfg.Obs.IncCounter(ports.MetricRecordsServed, 1)
	return &rec, nil
}

// pace waits until the wall-clock offset since the first record matches
// the record-time offset scaled by the replay speed.
func (p *StorageProvider) pace(ctx context.Context, ts float64) error {
	if p.filter.ReplaySpeed <= 0 {
		return nil
	}
	if p.replayStart.IsZero() {
		p.replayStart = p.cfg.Now()
		p.firstTs = ts
		return nil
	}
	offset := time.Duration((ts - p.firstTs) / p.filter.ReplaySpeed * float64(time.Second))
	wait := p.replayStart.Add(offset).Sub(p.cfg.Now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *StorageProvider) NextObservation(ctx context.Context) (*domain.Observation, error) {
	rec, err := p.NextResultRecord(ctx)
	if err != nil {
		return nil, err
	}
	return buildObservation(rec, p.schemas[rec.Key.RecordType], domain.Seconds(p.cfg.Now())), nil
}

func (p *StorageProvider) ResultStructure() domain.DataComponent {
	schemas := make([]domain.DataComponent, 0, len(p.order))
	for _, name := range p.order {
		schemas = append(schemas, p.schemas[name])
	}
	return combinedStructure("archive", schemas)
}

func (p *StorageProvider) DefaultResultEncoding() domain.Encoding {
	for _, info := range p.reader.RecordTypes() {
		if info.Name == p.order[0] {
			return info.Encoding
		}
	}
	return domain.DefaultTextEncoding()
}

func (p *StorageProvider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cfg.Obs.AddGauge(ports.MetricProvidersActive, -1)
	if p.it != nil {
		return p.it.Close()
	}
	return nil
}

var _ ports.DataProvider = (*StorageProvider)(nil)
