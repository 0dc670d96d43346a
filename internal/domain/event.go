package domain

// DataEvent is emitted by a producer output when new records are available.
// One event may carry several records of the same type.
type DataEvent struct {
	// Timestamp is the event time in seconds since epoch.
	Timestamp float64
	// ProducerID is the producer that owns the output.
	ProducerID string
	// EntityID is the originating sub-entity for multi-source producers;
	// empty when the producer itself is the source.
	EntityID   string
	OutputName string
	FoiID      string
	Records    []DataBlock
}

// ToRecords splits the event into keyed records. Each record is stamped
// with its sampling time field when the schema has one, else with the
// event time.
func (ev DataEvent) ToRecords(schema DataComponent, foiID string) []Record {
	out := make([]Record, 0, len(ev.Records))
	for _, block := range ev.Records {
		ts, ok := schema.SamplingTime(block)
		if !ok {
			ts = ev.Timestamp
		}
		out = append(out, Record{
			Key: DataKey{
				RecordType: ev.OutputName,
				Timestamp:  ts,
				ProducerID: ev.ProducerID,
				FoiID:      foiID,
			},
			Value: block,
		})
	}
	return out
}
