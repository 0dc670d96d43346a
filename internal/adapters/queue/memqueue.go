package queue

import (
	"sync"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of journaled records, backed by a
// ring buffer.
type MemQueue struct {
	mu   sync.Mutex
	ring []ports.QueuedRecord
	head int
	size int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{ring: make([]ports.QueuedRecord, capacity)}
}

// Enqueue reports false when the queue is full.
func (q *MemQueue) Enqueue(id ports.WALEntryID, r *domain.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.ring) {
		return false
	}
	q.ring[(q.head+q.size)%len(q.ring)] = ports.QueuedRecord{ID: id, Record: r}
	q.size++
	return true
}

// DequeueBatch removes up to max records; max <= 0 takes everything.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]ports.QueuedRecord, max)
	for i := range out {
		out[i] = q.ring[q.head]
		q.ring[q.head] = ports.QueuedRecord{}
		q.head = (q.head + 1) % len(q.ring)
	}
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *MemQueue) Cap() int { return len(q.ring) }

var _ ports.RecordQueue = (*MemQueue)(nil)
