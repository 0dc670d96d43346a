package storage

import (
	"errors"
	"math"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// DefaultClusterGap is the gap, in seconds, that starts a new time cluster.
const DefaultClusterGap = 60.0

// TimeSeries is the time-ordered index of one record type of one producer.
//
// Every operation is a single engine transaction: an insert or remove holds
// the write side only for its own mutation, and a range iterator opens a
// fresh read transaction for each step rather than for the whole scan. As a
// consequence an iterator running while records are removed simply skips
// entries deleted ahead of its cursor, and sees entries inserted ahead of
// it; entries behind the cursor are never revisited.
type TimeSeries struct {
	eng        ports.Engine
	producerID string
	info       domain.RecordTypeInfo
	prefix     []byte
}

func newTimeSeries(eng ports.Engine, root []byte, producerID string, info domain.RecordTypeInfo) *TimeSeries {
	return &TimeSeries{
		eng:        eng,
		producerID: producerID,
		info:       info,
		prefix:     append(section(root, secRecord, info.Name), sep),
	}
}

func (s *TimeSeries) Info() domain.RecordTypeInfo { return s.info }

func (s *TimeSeries) key(ts float64) []byte {
	return join(s.prefix, encodeTime(ts))
}

// Insert stores value at key.Timestamp, replacing any record already there.
func (s *TimeSeries) Insert(key domain.DataKey, value domain.DataBlock) error {
	if err := validTimestamp(key.Timestamp); err != nil {
		return err
	}
	err := s.eng.Update(func(tx ports.Tx) error {
		return s.put(tx, key, value)
	})
	return domain.StorageFailure("insert", err)
}

func (s *TimeSeries) put(tx ports.Tx, key domain.DataKey, value domain.DataBlock) error {
	v, err := encodeRecordValue(key.FoiID, value)
	if err != nil {
		return err
	}
	return tx.Set(s.key(key.Timestamp), v)
}

func (s *TimeSeries) decode(k, v []byte) (domain.Record, error) {
	ts, _, err := timeSuffix(k)
	if err != nil {
		return domain.Record{}, err
	}
	foi, block, err := decodeRecordValue(v)
	if err != nil {
		return domain.Record{}, err
	}
	return domain.Record{
		Key: domain.DataKey{
			RecordType: s.info.Name,
			Timestamp:  ts,
			ProducerID: s.producerID,
			FoiID:      foi,
		},
		Value: block,
	}, nil
}

// Get returns the record stored at exactly ts.
func (s *TimeSeries) Get(ts float64) (domain.Record, error) {
	var rec domain.Record
	err := s.eng.View(func(tx ports.Tx) error {
		v, err := tx.Get(s.key(ts))
		if errors.Is(err, ports.ErrKeyNotFound) {
			return domain.NotFound("record", s.info.Name)
		}
		if err != nil {
			return err
		}
		rec, err = s.decode(s.key(ts), v)
		return err
	})
	return rec, domain.StorageFailure("get", err)
}

// Range returns the records with timestamps in [t0, t1], ascending unless
// desc is set. Infinite bounds scan the whole series.
func (s *TimeSeries) Range(t0, t1 float64, desc bool) ports.Iterator[domain.Record] {
	it := &rangeIterator{series: s, desc: desc}
	if t0 > t1 {
		it.done = true
		return it
	}
	lo, hi := orderedBits(t0), orderedBits(t1)
	if desc {
		it.cursor, it.bound = hi, lo
	} else {
		it.cursor, it.bound = lo, hi
	}
	return it
}

type rangeIterator struct {
	series *TimeSeries
	cursor uint64
	bound  uint64
	desc   bool
	done   bool
	cur    domain.Record
	err    error
}

func (it *rangeIterator) Next() bool {
	if it.done {
		return false
	}
	s := it.series
	var (
		k, v []byte
		ok   bool
	)
	err := s.eng.View(func(tx ports.Tx) error {
		var err error
		k, v, ok, err = tx.Seek(s.prefix, join(s.prefix, encodeBits(it.cursor)), it.desc)
		return err
	})
	if err != nil {
		return it.fail(domain.StorageFailure("range", err))
	}
	if !ok {
		it.done = true
		return false
	}
	_, u, err := timeSuffix(k)
	if err != nil {
		return it.fail(domain.StorageFailure("range", err))
	}
	if (!it.desc && u > it.bound) || (it.desc && u < it.bound) {
		it.done = true
		return false
	}
	rec, err := s.decode(k, v)
	if err != nil {
		return it.fail(domain.StorageFailure("range", err))
	}
	it.cur = rec
	switch {
	case it.desc && u == 0, !it.desc && u == math.MaxUint64:
		it.done = true
	case it.desc:
		it.cursor = u - 1
	default:
		it.cursor = u + 1
	}
	return true
}

func (it *rangeIterator) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

func (it *rangeIterator) Value() domain.Record { return it.cur }
func (it *rangeIterator) Err() error           { return it.err }
func (it *rangeIterator) Close() error {
	it.done = true
	return nil
}

// rangeKeysTx lists the record keys in [t0, t1] inside an open transaction.
func (s *TimeSeries) rangeTx(tx ports.Tx, t0, t1 float64, fn func(k []byte, rec domain.Record) error) error {
	if t0 > t1 {
		return nil
	}
	cursor, bound := orderedBits(t0), orderedBits(t1)
	for {
		k, v, ok, err := tx.Seek(s.prefix, join(s.prefix, encodeBits(cursor)), false)
		if err != nil || !ok {
			return err
		}
		_, u, err := timeSuffix(k)
		if err != nil {
			return err
		}
		if u > bound {
			return nil
		}
		rec, err := s.decode(k, v)
		if err != nil {
			return err
		}
		if err := fn(k, rec); err != nil {
			return err
		}
		if u == math.MaxUint64 {
			return nil
		}
		cursor = u + 1
	}
}

// removeTx deletes the records in [t0, t1] accepted by match (nil = all).
func (s *TimeSeries) removeTx(tx ports.Tx, t0, t1 float64, match func(domain.Record) bool) (int, error) {
	var keys [][]byte
	err := s.rangeTx(tx, t0, t1, func(k []byte, rec domain.Record) error {
		if match == nil || match(rec) {
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Remove deletes the records in [t0, t1] and returns how many were removed.
func (s *TimeSeries) Remove(t0, t1 float64) (int, error) {
	var n int
	err := s.eng.Update(func(tx ports.Tx) error {
		var err error
		n, err = s.removeTx(tx, t0, t1, nil)
		return err
	})
	if err != nil {
		return 0, domain.StorageFailure("remove", err)
	}
	return n, nil
}

// edge returns the first (or last, when last is set) record.
func (s *TimeSeries) edge(last bool) (domain.Record, bool, error) {
	it := s.Range(math.Inf(-1), math.Inf(1), last)
	defer it.Close()
	if it.Next() {
		return it.Value(), true, nil
	}
	return domain.Record{}, false, it.Err()
}

// Latest returns the most recent record.
func (s *TimeSeries) Latest() (domain.Record, bool, error) {
	return s.edge(true)
}

// TimeRange returns the timestamps of the first and last records.
func (s *TimeSeries) TimeRange() (domain.TimeInterval, bool, error) {
	first, ok, err := s.edge(false)
	if err != nil || !ok {
		return domain.TimeInterval{}, false, err
	}
	last, ok, err := s.edge(true)
	if err != nil || !ok {
		return domain.TimeInterval{}, false, err
	}
	return domain.TimeInterval{Begin: first.Key.Timestamp, End: last.Key.Timestamp}, true, nil
}

// Count returns the number of stored records.
func (s *TimeSeries) Count() (int, error) {
	var n int
	err := s.eng.View(func(tx ports.Tx) error {
		return tx.Scan(s.prefix, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, domain.StorageFailure("count", err)
}

// Clusters summarises data availability: consecutive records closer than
// gap seconds belong to the same [begin, end] cluster.
func (s *TimeSeries) Clusters(gap float64) ports.Iterator[domain.TimeInterval] {
	return newClusterIterator(s.Range(math.Inf(-1), math.Inf(1), false), gap)
}

type clusterIterator struct {
	src     ports.Iterator[domain.Record]
	gap     float64
	pending *float64
	cur     domain.TimeInterval
}

func newClusterIterator(src ports.Iterator[domain.Record], gap float64) *clusterIterator {
	if gap <= 0 {
		gap = DefaultClusterGap
	}
	return &clusterIterator{src: src, gap: gap}
}

func (it *clusterIterator) Next() bool {
	var begin float64
	if it.pending != nil {
		begin = *it.pending
		it.pending = nil
	} else if it.src.Next() {
		begin = it.src.Value().Key.Timestamp
	} else {
		return false
	}
	end := begin
	for it.src.Next() {
		ts := it.src.Value().Key.Timestamp
		if ts-end > it.gap {
			it.pending = &ts
			break
		}
		end = ts
	}
	it.cur = domain.TimeInterval{Begin: begin, End: end}
	return true
}

func (it *clusterIterator) Value() domain.TimeInterval { return it.cur }
func (it *clusterIterator) Err() error                 { return it.src.Err() }
func (it *clusterIterator) Close() error               { return it.src.Close() }
