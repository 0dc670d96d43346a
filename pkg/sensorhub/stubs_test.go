package sensorhub

import (
	"context"
	"sync"
)

type stubCollector struct{}

func (s *stubCollector) Start(out chan<- *PipelineRecord) error { return nil }
func (s *stubCollector) Stop() error                            { return nil }

type stubSink struct {
	err error

	mu    sync.Mutex
	n     int
	total int
}

func (s *stubSink) WriteBatch(records []*PipelineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.err != nil {
		return s.err
	}
	s.total += len(records)
	return nil
}

func (s *stubSink) Name() string { return "stub" }

func (s *stubSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *stubSink) records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

type stubTransformer struct{}

func (s *stubTransformer) Transform(r *PipelineRecord) (*PipelineRecord, error) {
	return r, nil
}
func (s *stubTransformer) Version() uint16 { return 42 }

type stubQueue struct{}

func (s *stubQueue) Enqueue(id WALEntryID, r *PipelineRecord) bool { return true }
func (s *stubQueue) DequeueBatch(max int) []QueuedRecord           { return nil }
func (s *stubQueue) Len() int                                      { return 0 }

type stubWAL struct{}

func (s *stubWAL) Append(r *PipelineRecord) (WALEntryID, error) { return 0, nil }
func (s *stubWAL) Iterate(from WALEntryID, fn func(id WALEntryID, r *PipelineRecord) error) error {
	return nil
}
func (s *stubWAL) Commit(upto WALEntryID) error { return nil }
func (s *stubWAL) TruncateCommitted() error     { return nil }
func (s *stubWAL) Stats() WALStats              { return WALStats{} }
func (s *stubWAL) Close() error                 { return nil }

// fakeDriver is a live producer that only flips its enabled flag.
type fakeDriver struct {
	*LiveProducer
	started int
	stopped int
}

func newFakeDriver(id string) *fakeDriver {
	d := &fakeDriver{LiveProducer: NewLiveProducer(id, "")}
	d.SetEnabled(false)
	return d
}

func (d *fakeDriver) Start(context.Context) error {
	d.started++
	d.SetEnabled(true)
	return nil
}

func (d *fakeDriver) Stop() error {
	d.stopped++
	d.SetEnabled(false)
	return nil
}
