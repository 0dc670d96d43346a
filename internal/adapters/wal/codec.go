package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
)

// encodeRecord lays a record out as its three length-prefixed key strings,
// the timestamp and the marshalled data block.
func encodeRecord(r *domain.Record) ([]byte, error) {
	block, err := r.Value.MarshalBinary()
	if err != nil {
		return nil, err
	}
	k := r.Key
	buf := make([]byte, 0, 3*binary.MaxVarintLen64+len(k.RecordType)+len(k.ProducerID)+len(k.FoiID)+8+len(block))
	for _, s := range []string{k.RecordType, k.ProducerID, k.FoiID} {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(k.Timestamp))
	return append(buf, block...), nil
}

func decodeRecord(b []byte) (*domain.Record, error) {
	var fields [3]string
	for i := range fields {
		n, sz := binary.Uvarint(b)
		if sz <= 0 || uint64(len(b)-sz) < n {
			return nil, fmt.Errorf("bad key field %d", i)
		}
		fields[i] = string(b[sz : sz+int(n)])
		b = b[sz+int(n):]
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("missing timestamp")
	}
	rec := &domain.Record{Key: domain.DataKey{
		RecordType: fields[0],
		ProducerID: fields[1],
		FoiID:      fields[2],
		Timestamp:  math.Float64frombits(binary.BigEndian.Uint64(b[:8])),
	}}
	if err := rec.Value.UnmarshalBinary(b[8:]); err != nil {
		return nil, err
	}
	return rec, nil
}
