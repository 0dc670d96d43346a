// Package badgerkv is the persistent ports.Engine built on BadgerDB.
package badgerkv

import (
	"bytes"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

type Config struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	ReadOnly   bool   `yaml:"read_only"`
}

type Engine struct {
	db *badger.DB
}

func Open(cfg Config) (*Engine, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites).
		WithReadOnly(cfg.ReadOnly)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	} else if cfg.Path == "" {
		return nil, errors.New("badgerkv: path is required unless in_memory is set")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv open: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) View(fn func(tx ports.Tx) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (e *Engine) Update(fn func(tx ports.Tx) error) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	})
}

func (e *Engine) Close() error {
	return e.db.Close()
}

type tx struct {
	txn *badger.Txn
}

func (t *tx) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ports.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *tx) Set(key, value []byte) error {
	// badger keeps the slices until commit.
	return t.txn.Set(clone(key), clone(value))
}

func (t *tx) Delete(key []byte) error {
	return t.txn.Delete(clone(key))
}

func (t *tx) Seek(prefix, from []byte, reverse bool) ([]byte, []byte, bool, error) {
	if bytes.Compare(from, prefix) < 0 {
		if reverse {
			return nil, nil, false, nil
		}
		from = prefix
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	opts.PrefetchSize = 1
	it := t.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(from)
	if !it.ValidForPrefix(prefix) {
		return nil, nil, false, nil
	}
	item := it.Item()
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, false, err
	}
	return item.KeyCopy(nil), val, true, nil
}

func (t *tx) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ ports.Engine = (*Engine)(nil)
