package ports

import (
	"context"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// DataProvider is a short-lived, per-request pull sequence. It is not safe
// for concurrent use. Both Next methods return domain.ErrEndOfStream on
// normal termination.
type DataProvider interface {
	NextResultRecord(ctx context.Context) (*domain.Record, error)
	NextObservation(ctx context.Context) (*domain.Observation, error)
	ResultStructure() domain.DataComponent
	DefaultResultEncoding() domain.Encoding
	// Close is idempotent.
	Close() error
}

// Capabilities is the advertised metadata of one offering.
type Capabilities struct {
	OfferingID           string            `json:"offering"`
	Name                 string            `json:"name"`
	ProcedureIDs         []string          `json:"procedures"`
	ObservableProperties []string          `json:"observable_properties"`
	RecordTypes          []string          `json:"record_types"`
	PhenomenonTime       domain.TimeExtent `json:"phenomenon_time"`
	FoiIDs               []string          `json:"fois"`
	ObservedArea         domain.BBox       `json:"observed_area"`
	ResponseFormats      []string          `json:"response_formats"`
	Live                 bool              `json:"live"`
}

// ProviderFactory is one long-lived, thread-safe instance per offering.
type ProviderFactory interface {
	OfferingID() string
	GenerateCapabilities() (Capabilities, error)
	UpdateCapabilities() (Capabilities, bool, error)
	NewProvider(filter domain.DataFilter) (DataProvider, error)
	IsEnabled() bool
	Cleanup()
}
