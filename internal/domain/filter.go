package domain

// DataFilter is the immutable per-request selection handed down by the
// service layer. Empty sets mean "all".
type DataFilter struct {
	RecordTypes []string
	Observables []string
	ProducerIDs []string
	FoiIDs      []string
	Time        TimeExtent
	// MaxCount limits the number of records returned; 0 means unlimited.
	MaxCount int
	// ReplaySpeed paces archived records relative to their timestamps;
	// 0 streams as fast as possible.
	ReplaySpeed float64
}

// WantsRecordType reports whether a record type name passes the type filter.
func (f DataFilter) WantsRecordType(name string) bool {
	return len(f.RecordTypes) == 0 || containsString(f.RecordTypes, name)
}

// WantsProducer reports whether a producer id passes the producer filter.
func (f DataFilter) WantsProducer(id string) bool {
	return len(f.ProducerIDs) == 0 || containsString(f.ProducerIDs, id)
}

// WantsFoi reports whether a FOI id passes the FOI filter.
func (f DataFilter) WantsFoi(id string) bool {
	return len(f.FoiIDs) == 0 || containsString(f.FoiIDs, id)
}
