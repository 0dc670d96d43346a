package sink

import (
	"errors"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// RecordWriter is the write side of a record store.
type RecordWriter interface {
	StoreRecord(key domain.DataKey, data domain.DataBlock) error
}

// StoreSink persists records into the embedded store. Records for an
// unknown producer or record type are rejected; storage failures fail the
// whole batch so it is replayed from the WAL.
type StoreSink struct {
	store RecordWriter
}

func NewStoreSink(store RecordWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) WriteBatch(records []*domain.Record) error {
	var rejected map[int]error
	for i, r := range records {
		err := s.store.StoreRecord(r.Key, r.Value)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalid):
			if rejected == nil {
				rejected = make(map[int]error)
			}
			rejected[i] = err
		default:
			return err
		}
	}
	if rejected != nil {
		return &ports.RejectedError{Rejected: rejected}
	}
	return nil
}

var _ ports.Sink = (*StoreSink)(nil)
