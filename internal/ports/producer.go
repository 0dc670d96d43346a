package ports

import (
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// DataListener receives events from producer outputs. Implementations must
// be comparable (pointer receivers) so they can be unregistered.
type DataListener interface {
	HandleEvent(ev domain.DataEvent)
}

// ProducerOutput is one typed output stream of a live producer.
type ProducerOutput interface {
	Name() string
	ProducerID() string
	RecordSchema() domain.DataComponent
	RecommendedEncoding() domain.Encoding
	// LatestRecord returns the most recent record and its timestamp.
	LatestRecord() (rec domain.DataBlock, ts float64, ok bool)
	IsPushCapable() bool
	RegisterListener(l DataListener)
	UnregisterListener(l DataListener)
	AverageSamplingPeriod() time.Duration
}

// Producer is a sensor or process emitting records through its outputs.
type Producer interface {
	ID() string
	Name() string
	IsEnabled() bool
	Outputs() []ProducerOutput
	CurrentDescription() domain.ProcedureDescription
	// FeatureOf resolves the feature of interest observed by an entity; the
	// empty entity id designates the producer itself.
	FeatureOf(entityID string) (domain.Feature, bool)
}

// ProducerResolver looks producers up by id. It replaces any process-wide
// module registry: everything that needs a producer gets a resolver.
type ProducerResolver interface {
	Producer(id string) (Producer, error)
}
