package storage

import (
	"math"
	"sort"
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// ObsSeries is a TimeSeries of observations that also tracks, per feature
// of interest, the contiguous periods during which records were stored.
//
// Periods are extended using the FOI of the last insert (the cursor): a
// record for the current FOI stretches its last period, any other FOI opens
// a new period. Periods are therefore only exact when records arrive in
// time order; out-of-order inserts are stored but may leave inaccurate
// period boundaries. The cursor is rebuilt on open from the period with the
// latest end, which makes the same assumption.
type ObsSeries struct {
	*TimeSeries
	periodPrefix []byte

	mu     sync.Mutex
	cursor *domain.FoiTimePeriod
}

func newObsSeries(eng ports.Engine, root []byte, producerID string, info domain.RecordTypeInfo) (*ObsSeries, error) {
	s := &ObsSeries{
		TimeSeries:   newTimeSeries(eng, root, producerID, info),
		periodPrefix: append(section(root, secPeriod, info.Name), sep),
	}
	if err := s.reloadCursor(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObsSeries) periodKey(foiID string, begin float64) []byte {
	return join(s.periodPrefix, []byte(foiID), []byte{sep}, encodeTime(begin))
}

func (s *ObsSeries) putPeriod(tx ports.Tx, p domain.FoiTimePeriod) error {
	return tx.Set(s.periodKey(p.FoiID, p.Begin), encodeTime(p.End))
}

// periodsTx lists every stored period, optionally limited to some FOIs.
func (s *ObsSeries) periodsTx(tx ports.Tx, fois []string) ([]domain.FoiTimePeriod, error) {
	var out []domain.FoiTimePeriod
	collect := func(k, v []byte) error {
		foi, begin, err := splitPeriodKey(s.periodPrefix, k)
		if err != nil {
			return err
		}
		end, err := decodeTime(v)
		if err != nil {
			return err
		}
		out = append(out, domain.FoiTimePeriod{FoiID: foi, TimeInterval: domain.TimeInterval{Begin: begin, End: end}})
		return nil
	}
	if len(fois) == 0 {
		if err := tx.Scan(s.periodPrefix, collect); err != nil {
			return nil, err
		}
		return out, nil
	}
	for _, foi := range dedupe(fois) {
		if err := tx.Scan(join(s.periodPrefix, []byte(foi), []byte{sep}), collect); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *ObsSeries) reloadCursor() error {
	var periods []domain.FoiTimePeriod
	err := s.eng.View(func(tx ports.Tx) error {
		var err error
		periods, err = s.periodsTx(tx, nil)
		return err
	})
	if err != nil {
		return domain.StorageFailure("load periods", err)
	}
	s.cursor = nil
	for i := range periods {
		p := periods[i]
		if s.cursor == nil || p.End > s.cursor.End || (p.End == s.cursor.End && p.Begin > s.cursor.Begin) {
			s.cursor = &p
		}
	}
	return nil
}

// Insert stores the record and updates the FOI periods in the same
// transaction, so a failed write leaves neither half behind.
func (s *ObsSeries) Insert(key domain.DataKey, value domain.DataBlock) error {
	if err := validTimestamp(key.Timestamp); err != nil {
		return err
	}
	if key.FoiID != "" {
		if err := validateName("feature of interest", key.FoiID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next domain.FoiTimePeriod
	if s.cursor != nil && s.cursor.FoiID == key.FoiID {
		next = *s.cursor
		if key.Timestamp > next.End {
			next.End = key.Timestamp
		}
	} else {
		next = domain.FoiTimePeriod{FoiID: key.FoiID, TimeInterval: domain.TimeInterval{Begin: key.Timestamp, End: key.Timestamp}}
	}
	err := s.eng.Update(func(tx ports.Tx) error {
		if err := s.put(tx, key, value); err != nil {
			return err
		}
		return s.putPeriod(tx, next)
	})
	if err != nil {
		return domain.StorageFailure("insert", err)
	}
	s.cursor = &next
	return nil
}

// Periods returns the FOI periods of the given FOIs (all when empty)
// trimmed to [t0, t1], sorted by start time. Periods left empty by the
// trim are dropped.
func (s *ObsSeries) Periods(fois []string, t0, t1 float64) ([]domain.FoiTimePeriod, error) {
	var all []domain.FoiTimePeriod
	err := s.eng.View(func(tx ports.Tx) error {
		var err error
		all, err = s.periodsTx(tx, fois)
		return err
	})
	if err != nil {
		return nil, domain.StorageFailure("periods", err)
	}
	window := domain.TimeInterval{Begin: t0, End: t1}
	out := all[:0]
	for _, p := range all {
		trimmed, ok := p.Intersect(window)
		if !ok {
			continue
		}
		p.TimeInterval = trimmed
		out = append(out, p)
	}
	sortPeriods(out)
	return out, nil
}

func sortPeriods(periods []domain.FoiTimePeriod) {
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Begin != periods[j].Begin {
			return periods[i].Begin < periods[j].Begin
		}
		return periods[i].FoiID < periods[j].FoiID
	})
}

// QueryByFoiAndTime iterates the records of the given FOIs within [t0, t1]
// in time order, visiting only the matching FOI periods.
func (s *ObsSeries) QueryByFoiAndTime(fois []string, t0, t1 float64) ports.Iterator[domain.Record] {
	periods, err := s.Periods(fois, t0, t1)
	if err != nil {
		return &errIterator[domain.Record]{err: err}
	}
	open := make([]func() ports.Iterator[domain.Record], 0, len(periods))
	for _, p := range periods {
		p := p
		open = append(open, func() ports.Iterator[domain.Record] {
			return filterIter(s.Range(p.Begin, p.End, false), func(r domain.Record) bool {
				return r.Key.FoiID == p.FoiID
			})
		})
	}
	last := math.Inf(-1)
	return filterIter(concatIter(open), func(r domain.Record) bool {
		if r.Key.Timestamp <= last {
			return false
		}
		last = r.Key.Timestamp
		return true
	})
}

// RemoveByFoi deletes the records of the given FOIs (all when empty) in
// [t0, t1]. Periods fully covered by the window are deleted; partially
// covered ones are shrunk, or split in two, to the records that remain.
func (s *ObsSeries) RemoveByFoi(fois []string, t0, t1 float64) (int, error) {
	if t0 > t1 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	window := domain.TimeInterval{Begin: t0, End: t1}
	var removed int
	err := s.eng.Update(func(tx ports.Tx) error {
		periods, err := s.periodsTx(tx, fois)
		if err != nil {
			return err
		}
		if len(fois) == 0 {
			n, err := s.removeTx(tx, t0, t1, nil)
			if err != nil {
				return err
			}
			removed += n
		}
		for _, p := range periods {
			hit, ok := p.Intersect(window)
			if !ok {
				continue
			}
			if len(fois) > 0 {
				foi := p.FoiID
				n, err := s.removeTx(tx, hit.Begin, hit.End, func(r domain.Record) bool { return r.Key.FoiID == foi })
				if err != nil {
					return err
				}
				removed += n
			}
			if err := s.reshapePeriodTx(tx, p, window); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageFailure("remove", err)
	}
	return removed, s.reloadCursor()
}

// Remove deletes every record in [t0, t1] whatever its FOI.
func (s *ObsSeries) Remove(t0, t1 float64) (int, error) {
	return s.RemoveByFoi(nil, t0, t1)
}

// reshapePeriodTx replaces p by the periods spanned by its surviving
// records on either side of the removed window.
func (s *ObsSeries) reshapePeriodTx(tx ports.Tx, p domain.FoiTimePeriod, window domain.TimeInterval) error {
	if err := tx.Delete(s.periodKey(p.FoiID, p.Begin)); err != nil {
		return err
	}
	if window.Begin <= p.Begin && window.End >= p.End {
		return nil
	}
	var before, after *domain.FoiTimePeriod
	err := s.rangeTx(tx, p.Begin, p.End, func(_ []byte, r domain.Record) error {
		if r.Key.FoiID != p.FoiID {
			return nil
		}
		ts := r.Key.Timestamp
		switch {
		case ts < window.Begin:
			before = extendPeriod(before, p.FoiID, ts)
		case ts > window.End:
			after = extendPeriod(after, p.FoiID, ts)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, piece := range []*domain.FoiTimePeriod{before, after} {
		if piece == nil {
			continue
		}
		if err := s.putPeriod(tx, *piece); err != nil {
			return err
		}
	}
	return nil
}

func extendPeriod(p *domain.FoiTimePeriod, foi string, ts float64) *domain.FoiTimePeriod {
	if p == nil {
		return &domain.FoiTimePeriod{FoiID: foi, TimeInterval: domain.TimeInterval{Begin: ts, End: ts}}
	}
	p.End = ts
	return p
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type errIterator[T any] struct{ err error }

func (it *errIterator[T]) Next() bool   { return false }
func (it *errIterator[T]) Err() error   { return it.err }
func (it *errIterator[T]) Close() error { return nil }

func (it *errIterator[T]) Value() T {
	var zero T
	return zero
}
