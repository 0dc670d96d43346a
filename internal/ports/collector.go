package ports

import "github.com/sensiasoft/sensorhub-sub000/internal/domain"

// Collector forwards records emitted by live producers into the ingest pipeline.
type Collector interface {
	Start(out chan<- *domain.Record) error
	Stop() error
}
