package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/queue"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

func TestWaitForWALCapacityBlockThenSucceed(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{150, 50},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "block",
		IdleSleep:       time.Millisecond,
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(wal, pol, obs); !ok {
		t.Fatalf("expected waitForWALCapacity to eventually succeed")
	}
	if wal.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", wal.calls)
	}
}

func TestWaitForWALCapacityDrop(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{200, 200},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "drop",
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(wal, pol, obs); ok {
		t.Fatalf("expected waitForWALCapacity to drop and return false")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestEnqueueWithPolicyBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(queue, 1, &domain.Record{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(queue, 1, &domain.Record{}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestRunEdgePipelineJournalsBeforeQueueing(t *testing.T) {
	wal := newMemWAL()
	q := queue.NewMemQueue(8)
	col := &chanCollector{}
	pol := ports.Policy{MaxQueueLen: 8, OnQueueFull: "drop", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := RunEdgePipeline(ctx, col, wal, q, pol, &mockObs{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	col.emit(testRecord("temp", 1), testRecord("temp", 2))

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("records not queued, len=%d", q.Len())
		}
		time.Sleep(time.Millisecond)
	}
	batch := q.DequeueBatch(10)
	if batch[0].ID != 1 || batch[1].ID != 2 {
		t.Fatalf("unexpected WAL ids %d %d", batch[0].ID, batch[1].ID)
	}
	if wal.Stats().LatestAppended != 2 {
		t.Fatalf("expected 2 journaled records, got %d", wal.Stats().LatestAppended)
	}
}

func TestReplayWALQueuesUncommitted(t *testing.T) {
	wal := newMemWAL()
	for i := 1; i <= 4; i++ {
		wal.Append(testRecord("temp", float64(i)))
	}
	if err := wal.Commit(2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	q := queue.NewMemQueue(8)

	n, err := ReplayWAL(wal, q, ports.Policy{OnQueueFull: "drop"}, &mockObs{})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 || q.Len() != 2 {
		t.Fatalf("expected 2 replayed records, got %d (queue %d)", n, q.Len())
	}
	if got := q.DequeueBatch(1)[0].Record.Key.Timestamp; got != 3 {
		t.Fatalf("replay should start after the commit point, got ts %v", got)
	}

	full := queue.NewMemQueue(1)
	if _, err := ReplayWAL(wal, full, ports.Policy{OnQueueFull: "drop"}, &mockObs{}); err == nil {
		t.Fatalf("expected replay into a full queue to fail under drop policy")
	}
}

func testRecord(recordType string, ts float64) *domain.Record {
	return &domain.Record{
		Key:   domain.DataKey{RecordType: recordType, Timestamp: ts, ProducerID: "station-1"},
		Value: domain.DataBlock{ts, ts * 10},
	}
}

type chanCollector struct {
	out chan<- *domain.Record
}

func (c *chanCollector) Start(out chan<- *domain.Record) error {
	c.out = out
	return nil
}

func (c *chanCollector) Stop() error { return nil }

func (c *chanCollector) emit(recs ...*domain.Record) {
	for _, r := range recs {
		c.out <- r
	}
}

type mockWAL struct {
	ports.WAL
	sizes []int64
	calls int
}

func (m *mockWAL) Stats() ports.WALStats {
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{
		SizeBytes: m.sizes[idx],
	}
}

// memWAL keeps entries in memory; each entry counts 10 bytes.
type memWAL struct {
	mu        sync.Mutex
	entries   []*domain.Record
	base      ports.WALEntryID
	committed ports.WALEntryID
	truncates int
}

func newMemWAL() *memWAL { return &memWAL{} }

func (m *memWAL) Append(r *domain.Record) (ports.WALEntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, r)
	return m.base + ports.WALEntryID(len(m.entries)), nil
}

func (m *memWAL) Iterate(from ports.WALEntryID, fn func(ports.WALEntryID, *domain.Record) error) error {
	m.mu.Lock()
	entries := append([]*domain.Record(nil), m.entries...)
	base := m.base
	m.mu.Unlock()
	for i, r := range entries {
		id := base + ports.WALEntryID(i+1)
		if id < from {
			continue
		}
		if err := fn(id, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memWAL) Commit(upto ports.WALEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upto > m.committed {
		m.committed = upto
	}
	return nil
}

func (m *memWAL) TruncateCommitted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := int(m.committed - m.base)
	if drop > len(m.entries) {
		drop = len(m.entries)
	}
	m.entries = m.entries[drop:]
	m.base += ports.WALEntryID(drop)
	m.truncates++
	return nil
}

func (m *memWAL) Stats() ports.WALStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := m.base + ports.WALEntryID(len(m.entries))
	oldest := m.committed + 1
	if oldest > latest {
		oldest = 0
	}
	return ports.WALStats{
		OldestUncommitted: oldest,
		LatestAppended:    latest,
		SizeBytes:         int64(len(m.entries) * 10),
	}
}

func (m *memWAL) Close() error { return nil }

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, r *domain.Record) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []ports.QueuedRecord { return nil }
func (m *mockQueue) Len() int                              { return 0 }

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	dlq      []ports.WALEntryID
	ingested float64
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}

func (m *mockObs) LogCritical(string, error, ...ports.Field) {}

func (m *mockObs) IncCounter(name string, v float64) {
	if name == ports.MetricRecordsIngested {
		m.mu.Lock()
		m.ingested += v
		m.mu.Unlock()
	}
}

func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}
func (m *mockObs) AddGauge(string, float64)       {}

func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Record, _ error) {
	m.mu.Lock()
	m.dlq = append(m.dlq, id)
	m.mu.Unlock()
}
