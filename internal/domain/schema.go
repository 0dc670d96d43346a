package domain

// ComponentType is the kind of a record schema component.
type ComponentType string

const (
	TypeRecord   ComponentType = "record"
	TypeVector   ComponentType = "vector"
	TypeQuantity ComponentType = "quantity"
	TypeCount    ComponentType = "count"
	TypeBoolean  ComponentType = "boolean"
	TypeTime     ComponentType = "time"
)

// DefSamplingTime is the semantic definition of the sampling time field.
const DefSamplingTime = "http://www.opengis.net/def/property/OGC/0/SamplingTime"

// DataComponent is a record schema node. Aggregates (record, vector) carry
// Fields; every other type is a scalar leaf holding one DataBlock value.
type DataComponent struct {
	Name       string          `json:"name" yaml:"name"`
	Label      string          `json:"label,omitempty" yaml:"label"`
	Definition string          `json:"definition,omitempty" yaml:"definition"`
	Type       ComponentType   `json:"type" yaml:"type"`
	UOM        string          `json:"uom,omitempty" yaml:"uom"`
	Fields     []DataComponent `json:"fields,omitempty" yaml:"fields"`
}

// IsAggregate reports whether the component groups other components.
func (c DataComponent) IsAggregate() bool {
	return c.Type == TypeRecord || c.Type == TypeVector
}

// Leaves returns the scalar leaves in depth-first order, which is the order
// of values inside a DataBlock.
func (c DataComponent) Leaves() []DataComponent {
	if !c.IsAggregate() {
		return []DataComponent{c}
	}
	var out []DataComponent
	for _, f := range c.Fields {
		out = append(out, f.Leaves()...)
	}
	return out
}

// LeafIndex returns the DataBlock index of the first leaf carrying the given
// definition, or -1.
func (c DataComponent) LeafIndex(definition string) int {
	for i, leaf := range c.Leaves() {
		if leaf.Definition == definition {
			return i
		}
	}
	return -1
}

// Definitions returns the distinct non-empty leaf definitions, skipping the
// sampling time which is not an observable.
func (c DataComponent) Definitions() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, leaf := range c.Leaves() {
		if leaf.Definition == "" || leaf.Definition == DefSamplingTime {
			continue
		}
		if _, ok := seen[leaf.Definition]; ok {
			continue
		}
		seen[leaf.Definition] = struct{}{}
		out = append(out, leaf.Definition)
	}
	return out
}

// Observes reports whether any leaf definition is in the observable set.
// An empty set matches every schema.
func (c DataComponent) Observes(observables []string) bool {
	if len(observables) == 0 {
		return true
	}
	for _, leaf := range c.Leaves() {
		for _, o := range observables {
			if leaf.Definition == o {
				return true
			}
		}
	}
	return false
}

// EncodingKind names a recommended wire encoding.
type EncodingKind string

const (
	EncodingText   EncodingKind = "text"
	EncodingBinary EncodingKind = "binary"
	EncodingJSON   EncodingKind = "json"
)

// Encoding is the recommended encoding descriptor of a record stream.
type Encoding struct {
	Kind           EncodingKind `json:"kind" yaml:"kind"`
	TokenSeparator string       `json:"token_separator,omitempty" yaml:"token_separator"`
	BlockSeparator string       `json:"block_separator,omitempty" yaml:"block_separator"`
}

// DefaultTextEncoding is the CSV-like encoding used when none is configured.
func DefaultTextEncoding() Encoding {
	return Encoding{Kind: EncodingText, TokenSeparator: ",", BlockSeparator: "\n"}
}

// SamplingTime returns the value of the sampling time leaf of block, if the
// schema has one.
func (c DataComponent) SamplingTime(block DataBlock) (float64, bool) {
	i := c.LeafIndex(DefSamplingTime)
	if i < 0 || i >= len(block) {
		return 0, false
	}
	return block[i], true
}
