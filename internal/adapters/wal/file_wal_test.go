package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

func rec(producer string, ts float64) *domain.Record {
	return &domain.Record{
		Key:   domain.DataKey{RecordType: "temp", Timestamp: ts, ProducerID: producer, FoiID: "site"},
		Value: domain.DataBlock{ts, ts / 2},
	}
}

func collect(t *testing.T, w *FileWAL, from ports.WALEntryID) []*domain.Record {
	t.Helper()
	var out []*domain.Record
	if err := w.Iterate(from, func(id ports.WALEntryID, r *domain.Record) error {
		out = append(out, r)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return out
}

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	id1, err := w.Append(rec("station-1", 10.5))
	if err != nil || id1 == 0 {
		t.Fatalf("append record 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(rec("station-2", 11))
	if err != nil || id2 == 0 {
		t.Fatalf("append record 2: %v id=%d", err, id2)
	}

	got := collect(t, w, 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Key != rec("station-1", 10.5).Key || got[0].Value[1] != 5.25 {
		t.Fatalf("record not decoded: %+v", got[0])
	}
	if got := collect(t, w, id2); len(got) != 1 || got[0].Key.ProducerID != "station-2" {
		t.Fatalf("iterate from id2: %+v", got)
	}

	if err := w.Commit(id1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	// Reopen and ensure committed metadata was persisted.
	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}

	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2, stats.OldestUncommitted)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}

	// A torn tail is cut off on the next open.
	if err := appendGarbage(filepath.Join(dir, "wal.log")); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	w3, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer w3.Close()
	if got := collect(t, w3, 0); len(got) != 2 {
		t.Fatalf("expected 2 records after recovery, got %d", len(got))
	}
	id3, err := w3.Append(rec("station-1", 12))
	if err != nil || id3 != id2+1 {
		t.Fatalf("append after recovery: %v id=%d", err, id3)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	var last ports.WALEntryID
	for i := 0; i < 5; i++ {
		if last, err = w.Append(rec("p", float64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	before := w.Stats().SizeBytes
	if err := w.Commit(3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	got := collect(t, w, 0)
	if len(got) != 2 || got[0].Key.Timestamp != 3 {
		t.Fatalf("unexpected records after truncation: %+v", got)
	}
	if after := w.Stats().SizeBytes; after >= before {
		t.Fatalf("size should shrink: before=%d after=%d", before, after)
	}
	next, err := w.Append(rec("p", 9))
	if err != nil || next != last+1 {
		t.Fatalf("ids must keep increasing: %v id=%d", err, next)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestDecodeRejectsShortEntry(t *testing.T) {
	body, err := encodeRecord(rec("p", 1))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeRecord(body[:5]); err == nil {
		t.Fatalf("expected decode error")
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xFF, 0xAA})
	return err
}
