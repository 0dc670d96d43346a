package domain

// ProcedureDescription is one version of a producer's description. Versions
// are indexed by ValidFrom.
type ProcedureDescription struct {
	UniqueID    string  `json:"uid" yaml:"uid"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description"`
	ValidFrom   float64 `json:"valid_from" yaml:"valid_from"`
	// Document carries the full encoded description (e.g. SensorML) untouched.
	Document string `json:"document,omitempty" yaml:"document"`
}
