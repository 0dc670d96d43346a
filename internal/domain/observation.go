package domain

// Observation is an O&M-style view of one record.
type Observation struct {
	ID                 string        `json:"id"`
	ProcedureID        string        `json:"procedure"`
	ObservedProperties []string      `json:"observed_properties"`
	FoiID              string        `json:"foi,omitempty"`
	PhenomenonTime     float64       `json:"phenomenon_time"`
	ResultTime         float64       `json:"result_time"`
	ResultSchema       DataComponent `json:"-"`
	Result             DataBlock     `json:"result"`
}
