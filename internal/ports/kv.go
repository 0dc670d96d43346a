package ports

import "errors"

// ErrKeyNotFound is returned by Tx.Get for a missing key.
var ErrKeyNotFound = errors.New("kv: key not found")

// Engine is the embedded, ordered, transactional key/value store underneath
// the record store. Keys sort bytewise.
type Engine interface {
	// View runs fn in a read-only transaction.
	View(fn func(tx Tx) error) error
	// Update runs fn in a read-write transaction; the writes are committed
	// only if fn returns nil.
	Update(fn func(tx Tx) error) error
	Close() error
}

// Tx is a transaction handle; it must not be used after its callback returns.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Seek returns the first entry starting with prefix whose key is >= from
	// (or <= from when reverse is set). ok is false when none exists.
	Seek(prefix, from []byte, reverse bool) (key, value []byte, ok bool, err error)
	// Scan calls fn for every entry starting with prefix, in key order.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}
