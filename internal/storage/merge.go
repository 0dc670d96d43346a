package storage

import (
	"errors"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// mergeIterator is a k-way merge of already ordered sources. Each source
// keeps one lookahead value; every step picks the smallest lookahead by a
// linear scan over the sources.
//
// Ties go to the source with the lower index, so callers order their
// sources to make the merge deterministic.
type mergeIterator[T any] struct {
	srcs   []ports.Iterator[T]
	heads  []T
	live   []bool
	less   func(a, b T) bool
	primed bool
	cur    T
	errs   []error
	closed bool
}

func newMergeIterator[T any](srcs []ports.Iterator[T], less func(a, b T) bool) ports.Iterator[T] {
	if len(srcs) == 1 {
		return srcs[0]
	}
	return &mergeIterator[T]{
		srcs:  srcs,
		heads: make([]T, len(srcs)),
		live:  make([]bool, len(srcs)),
		less:  less,
	}
}

func (m *mergeIterator[T]) advance(i int) {
	if m.srcs[i].Next() {
		m.heads[i] = m.srcs[i].Value()
		m.live[i] = true
		return
	}
	m.live[i] = false
	if err := m.srcs[i].Err(); err != nil {
		m.errs = append(m.errs, err)
	}
}

func (m *mergeIterator[T]) Next() bool {
	if m.closed {
		return false
	}
	if !m.primed {
		m.primed = true
		for i := range m.srcs {
			m.advance(i)
		}
	}
	if len(m.errs) > 0 {
		return false
	}
	best := -1
	for i, ok := range m.live {
		if !ok {
			continue
		}
		if best < 0 || m.less(m.heads[i], m.heads[best]) {
			best = i
		}
	}
	if best < 0 {
		return false
	}
	m.cur = m.heads[best]
	m.advance(best)
	return true
}

func (m *mergeIterator[T]) Value() T   { return m.cur }
func (m *mergeIterator[T]) Err() error { return errors.Join(m.errs...) }

func (m *mergeIterator[T]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, src := range m.srcs {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func recordBefore(a, b domain.Record) bool {
	return a.Key.Timestamp < b.Key.Timestamp
}

// mergeRecords merges time-ordered record streams by timestamp.
func mergeRecords(srcs []ports.Iterator[domain.Record]) ports.Iterator[domain.Record] {
	if len(srcs) == 0 {
		return NewSliceIterator[domain.Record](nil)
	}
	return newMergeIterator(srcs, recordBefore)
}
