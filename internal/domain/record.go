package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DataKey identifies one stored record. Within a single time series the
// timestamp is the unique key; writing the same timestamp twice overwrites.
type DataKey struct {
	RecordType string  `json:"record_type"`
	Timestamp  float64 `json:"ts"`
	ProducerID string  `json:"producer_id,omitempty"`
	FoiID      string  `json:"foi_id,omitempty"`
}

// Record is a keyed data block as it flows through storage and providers.
type Record struct {
	Key   DataKey   `json:"key"`
	Value DataBlock `json:"value"`
}

// RecordTypeInfo describes one output/record stream of a producer.
type RecordTypeInfo struct {
	Name     string        `json:"name"`
	Schema   DataComponent `json:"schema"`
	Encoding Encoding      `json:"encoding"`
}

// DataBlock holds the scalar leaf values of a record in schema order.
// Time leaves are stored as seconds since the Unix epoch.
type DataBlock []float64

// Clone returns a copy that does not share the backing array.
func (b DataBlock) Clone() DataBlock {
	if b == nil {
		return nil
	}
	out := make(DataBlock, len(b))
	copy(out, b)
	return out
}

// MarshalBinary encodes the block as consecutive big-endian IEEE-754 doubles.
func (b DataBlock) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8*len(b))
	for i, v := range b {
		binary.BigEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (b *DataBlock) UnmarshalBinary(data []byte) error {
	if len(data)%8 != 0 {
		return fmt.Errorf("data block length %d is not a multiple of 8: %w", len(data), ErrInvalid)
	}
	out := make(DataBlock, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(data[i*8:]))
	}
	*b = out
	return nil
}

// Seconds converts a wall-clock time to the float seconds used by DataKey.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// TimeOf converts float seconds back to a time.Time in UTC.
func TimeOf(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}
