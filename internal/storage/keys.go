package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// Key layout (all producer data lives under the producer root):
//
//	M<producer>                                  producer registry entry
//	P<producer>\x00T<type>                       record type info (JSON)
//	P<producer>\x00R<type>\x00<ts>               record: <foi len><foi><block>
//	P<producer>\x00F<type>\x00<foi>\x00<begin>   FOI period: <end>
//	P<producer>\x00G<foi>                        feature of interest (JSON)
//	P<producer>\x00D<valid from>                 description version (JSON)
//
// <ts>, <begin>, <end> and <valid from> are 8-byte order-preserving encodings
// of float64 seconds, so byte order equals time order. Range cursors step
// between adjacent uint64 patterns, which needs the fixed width.
const (
	sep = 0x00

	nsRegistry = 'M'
	nsProducer = 'P'

	secType        = 'T'
	secRecord      = 'R'
	secPeriod      = 'F'
	secFeature     = 'G'
	secDescription = 'D'

	timeKeyLen = 8
)

func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is empty: %w", kind, domain.ErrInvalid)
	}
	if strings.IndexByte(name, sep) >= 0 {
		return fmt.Errorf("%s name %q contains a NUL byte: %w", kind, name, domain.ErrInvalid)
	}
	return nil
}

func registryPrefix() []byte { return []byte{nsRegistry} }

func registryKey(producerID string) []byte {
	return append(registryPrefix(), producerID...)
}

func producerRoot(producerID string) []byte {
	out := make([]byte, 0, len(producerID)+2)
	out = append(out, nsProducer)
	out = append(out, producerID...)
	return append(out, sep)
}

func section(root []byte, sec byte, parts ...string) []byte {
	out := make([]byte, 0, len(root)+32)
	out = append(out, root...)
	out = append(out, sec)
	for i, p := range parts {
		if i > 0 {
			out = append(out, sep)
		}
		out = append(out, p...)
	}
	return out
}

func join(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// orderedBits maps a float64 onto a uint64 with the same ordering.
func orderedBits(t float64) uint64 {
	bits := math.Float64bits(t)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

func fromOrderedBits(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

func encodeBits(u uint64) []byte {
	var b [timeKeyLen]byte
	binary.BigEndian.PutUint64(b[:], u)
	return b[:]
}

func encodeTime(t float64) []byte { return encodeBits(orderedBits(t)) }

func decodeTime(b []byte) (float64, error) {
	if len(b) != timeKeyLen {
		return 0, fmt.Errorf("time key has %d bytes", len(b))
	}
	return fromOrderedBits(binary.BigEndian.Uint64(b)), nil
}

// timeSuffix decodes the trailing time of a key.
func timeSuffix(key []byte) (float64, uint64, error) {
	if len(key) < timeKeyLen {
		return 0, 0, fmt.Errorf("key too short for time suffix")
	}
	u := binary.BigEndian.Uint64(key[len(key)-timeKeyLen:])
	return fromOrderedBits(u), u, nil
}

func validTimestamp(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("timestamp %v: %w", t, domain.ErrInvalid)
	}
	return nil
}

// encodeRecordValue stores the FOI id next to the block: <uvarint len><foi><block>.
func encodeRecordValue(foiID string, block domain.DataBlock) ([]byte, error) {
	raw, err := block.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(foiID)))
	return join(lenBuf[:n], []byte(foiID), raw), nil
}

func decodeRecordValue(v []byte) (string, domain.DataBlock, error) {
	l, n := binary.Uvarint(v)
	if n <= 0 || uint64(len(v)-n) < l {
		return "", nil, fmt.Errorf("corrupt record value")
	}
	foi := string(v[n : n+int(l)])
	var block domain.DataBlock
	if err := block.UnmarshalBinary(v[n+int(l):]); err != nil {
		return "", nil, err
	}
	return foi, block, nil
}

// splitPeriodKey extracts <foi> and <begin> from a period key under prefix.
func splitPeriodKey(prefix, key []byte) (string, float64, error) {
	rest := bytes.TrimPrefix(key, prefix)
	if len(rest) < timeKeyLen+1 || rest[len(rest)-timeKeyLen-1] != sep {
		return "", 0, fmt.Errorf("corrupt period key")
	}
	begin, err := decodeTime(rest[len(rest)-timeKeyLen:])
	if err != nil {
		return "", 0, err
	}
	return string(rest[:len(rest)-timeKeyLen-1]), begin, nil
}
