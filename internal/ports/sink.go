package ports

import (
	"fmt"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

type Sink interface {
	WriteBatch(records []*domain.Record) error
	Name() string
}

// RejectedError is returned by a sink that wrote a batch except for some
// records it can never accept. Index refers to the position in the batch.
type RejectedError struct {
	Rejected map[int]error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%d record(s) rejected", len(e.Rejected))
}
