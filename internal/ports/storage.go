package ports

import "github.com/sensiasoft/sensorhub-sub000/internal/domain"

// RecordReader is the read side of the persistence interface.
type RecordReader interface {
	RecordTypes() []domain.RecordTypeInfo
	RecordIterator(filter domain.DataFilter) (Iterator[domain.Record], error)
	DataBlockIterator(filter domain.DataFilter) (Iterator[domain.DataBlock], error)
	// RecordsTimeRange returns the first/last timestamps of a record type;
	// ok is false when the type holds no record.
	RecordsTimeRange(recordType string) (domain.TimeInterval, bool, error)
	RecordsTimeClusters(recordType string) (Iterator[domain.TimeInterval], error)
	Fois(filter domain.FoiFilter) (Iterator[domain.Feature], error)
	FoiIDs() ([]string, error)
	SpatialExtent() domain.BBox
}

// ProducerArchive is a reader spanning several producers that can hand out
// the reader of a single one.
type ProducerArchive interface {
	RecordReader
	ProducerReader(id string) (RecordReader, error)
}

// RecordStore is the full persistence interface of one producer.
type RecordStore interface {
	RecordReader
	AddRecordType(name string, schema domain.DataComponent, encoding domain.Encoding) error
	StoreRecord(key domain.DataKey, data domain.DataBlock) error
	RemoveRecords(filter domain.DataFilter) (int, error)
	StoreFoi(foi domain.Feature) error
}
