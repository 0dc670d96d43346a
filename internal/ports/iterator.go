package ports

// Iterator is a lazy, finite, non-restartable sequence.
//
//	for it.Next() {
//		v := it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] interface {
	Next() bool
	Value() T
	Err() error
	Close() error
}
