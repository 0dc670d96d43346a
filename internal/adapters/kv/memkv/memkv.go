// Package memkv is an in-memory ports.Engine backed by a copy-on-write
// B-tree. Readers share a RW lock; an update runs against a lazy clone of the
// tree which replaces the live tree only when the callback succeeds.
package memkv

import (
	"bytes"
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("memkv: engine closed")

var errReadOnly = errors.New("memkv: write in read-only transaction")

const degree = 32

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

type Engine struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

func New() *Engine {
	return &Engine{tree: btree.NewG(degree, less)}
}

func (e *Engine) View(fn func(tx ports.Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return fn(&tx{tree: e.tree})
}

func (e *Engine) Update(fn func(tx ports.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	draft := e.tree.Clone()
	if err := fn(&tx{tree: draft, writable: true}); err != nil {
		return err
	}
	e.tree = draft
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Len returns the number of stored keys.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tree.Len()
}

type tx struct {
	tree     *btree.BTreeG[item]
	writable bool
}

func (t *tx) Get(key []byte) ([]byte, error) {
	it, ok := t.tree.Get(item{key: key})
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	return clone(it.value), nil
}

func (t *tx) Set(key, value []byte) error {
	if !t.writable {
		return errReadOnly
	}
	t.tree.ReplaceOrInsert(item{key: clone(key), value: clone(value)})
	return nil
}

func (t *tx) Delete(key []byte) error {
	if !t.writable {
		return errReadOnly
	}
	t.tree.Delete(item{key: key})
	return nil
}

func (t *tx) Seek(prefix, from []byte, reverse bool) ([]byte, []byte, bool, error) {
	var (
		found item
		ok    bool
	)
	visit := func(it item) bool {
		if bytes.HasPrefix(it.key, prefix) {
			found, ok = it, true
		}
		return false
	}
	if reverse {
		if bytes.Compare(from, prefix) < 0 {
			return nil, nil, false, nil
		}
		t.tree.DescendLessOrEqual(item{key: from}, visit)
	} else {
		if bytes.Compare(from, prefix) < 0 {
			from = prefix
		}
		t.tree.AscendGreaterOrEqual(item{key: from}, visit)
	}
	if !ok {
		return nil, nil, false, nil
	}
	return clone(found.key), clone(found.value), true, nil
}

func (t *tx) Scan(prefix []byte, fn func(key, value []byte) error) error {
	var err error
	t.tree.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		err = fn(clone(it.key), clone(it.value))
		return err == nil
	})
	return err
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ ports.Engine = (*Engine)(nil)
