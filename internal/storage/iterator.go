package storage

import (
	"errors"

	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// SliceIterator iterates over an already materialised slice.
type SliceIterator[T any] struct {
	items []T
	pos   int
	cur   T
}

func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

func (it *SliceIterator[T]) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *SliceIterator[T]) Value() T     { return it.cur }
func (it *SliceIterator[T]) Err() error   { return nil }
func (it *SliceIterator[T]) Close() error { return nil }

// Collect drains and closes an iterator.
func Collect[T any](it ports.Iterator[T]) ([]T, error) {
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, errors.Join(it.Err(), it.Close())
}

type mapIterator[S, T any] struct {
	src ports.Iterator[S]
	fn  func(S) T
}

func mapIter[S, T any](src ports.Iterator[S], fn func(S) T) ports.Iterator[T] {
	return &mapIterator[S, T]{src: src, fn: fn}
}

func (it *mapIterator[S, T]) Next() bool   { return it.src.Next() }
func (it *mapIterator[S, T]) Value() T     { return it.fn(it.src.Value()) }
func (it *mapIterator[S, T]) Err() error   { return it.src.Err() }
func (it *mapIterator[S, T]) Close() error { return it.src.Close() }

type filterIterator[T any] struct {
	src  ports.Iterator[T]
	keep func(T) bool
	cur  T
}

func filterIter[T any](src ports.Iterator[T], keep func(T) bool) ports.Iterator[T] {
	return &filterIterator[T]{src: src, keep: keep}
}

func (it *filterIterator[T]) Next() bool {
	for it.src.Next() {
		v := it.src.Value()
		if it.keep(v) {
			it.cur = v
			return true
		}
	}
	return false
}

func (it *filterIterator[T]) Value() T     { return it.cur }
func (it *filterIterator[T]) Err() error   { return it.src.Err() }
func (it *filterIterator[T]) Close() error { return it.src.Close() }

type limitIterator[T any] struct {
	src  ports.Iterator[T]
	left int
}

// LimitIterator stops after max values; max <= 0 means no limit.
func LimitIterator[T any](src ports.Iterator[T], max int) ports.Iterator[T] {
	if max <= 0 {
		return src
	}
	return &limitIterator[T]{src: src, left: max}
}

func (it *limitIterator[T]) Next() bool {
	if it.left <= 0 {
		return false
	}
	if !it.src.Next() {
		return false
	}
	it.left--
	return true
}

func (it *limitIterator[T]) Value() T     { return it.src.Value() }
func (it *limitIterator[T]) Err() error   { return it.src.Err() }
func (it *limitIterator[T]) Close() error { return it.src.Close() }

// concatIterator opens its sources one after the other, only when the
// previous one is exhausted.
type concatIterator[T any] struct {
	open    []func() ports.Iterator[T]
	current ports.Iterator[T]
	err     error
}

func concatIter[T any](open []func() ports.Iterator[T]) ports.Iterator[T] {
	return &concatIterator[T]{open: open}
}

func (it *concatIterator[T]) Next() bool {
	for it.err == nil {
		if it.current == nil {
			if len(it.open) == 0 {
				return false
			}
			it.current = it.open[0]()
			it.open = it.open[1:]
		}
		if it.current.Next() {
			return true
		}
		it.err = errors.Join(it.current.Err(), it.current.Close())
		it.current = nil
	}
	return false
}

func (it *concatIterator[T]) Value() T { return it.current.Value() }
func (it *concatIterator[T]) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.current != nil {
		return it.current.Err()
	}
	return nil
}

func (it *concatIterator[T]) Close() error {
	it.open = nil
	if it.current != nil {
		err := it.current.Close()
		it.current = nil
		return err
	}
	return nil
}
