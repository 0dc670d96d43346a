package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// RunIngestPipeline drains the queue in batches, transforms the records and
// writes them to the sinks in order. The WAL is committed once every sink
// accepted the batch; a failing sink leaves the batch in the WAL for replay.
// It returns when ctx is cancelled.
func RunIngestPipeline(ctx context.Context, wal ports.WAL, q ports.RecordQueue, tr ports.Transformer, sinks []ports.Sink, pol ports.Policy, obs ports.Observability) {
	sleep := idleSleep(pol)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		ingestBatch(batch, wal, q, tr, sinks, pol, obs)
	}
}

func ingestBatch(batch []ports.QueuedRecord, wal ports.WAL, q ports.RecordQueue, tr ports.Transformer, sinks []ports.Sink, pol ports.Policy, obs ports.Observability) {
	var (
		out   = make([]*domain.Record, 0, len(batch))
		ids   = make([]ports.WALEntryID, 0, len(batch))
		maxID ports.WALEntryID
	)

	for _, item := range batch {
		if item.ID > maxID {
			maxID = item.ID
		}
		r, err := tr.Transform(item.Record)
		if err != nil {
			obs.RecordDLQ(item.ID, item.Record, err)
			continue
		}
		out = append(out, r)
		ids = append(ids, item.ID)
	}

	for _, s := range sinks {
		if len(out) == 0 {
			break
		}
		start := time.Now()
		err := s.WriteBatch(out)
		var rej *ports.RejectedError
		switch {
		case err == nil:
		case errors.As(err, &rej):
			out, ids = dropRejected(out, ids, rej, obs)
		default:
			// keep WAL; replays later
			obs.LogError("sink_write_failed", err, ports.F("sink", s.Name()), ports.F("records", len(out)))
			return
		}
		obs.ObserveLatency(ports.MetricSinkLatency, time.Since(start).Seconds())
	}
	obs.IncCounter(ports.MetricRecordsIngested, float64(len(out)))

	if err := wal.Commit(maxID); err != nil {
		obs.LogError("wal_commit_failed", err)
		return
	}
	if pol.MaxWALSizeBytes > 0 && wal.Stats().SizeBytes > pol.MaxWALSizeBytes/2 {
		if err := wal.TruncateCommitted(); err != nil {
			obs.LogError("wal_truncate_failed", err)
		}
	}
	obs.SetGauge(ports.MetricWALSize, float64(wal.Stats().SizeBytes))
	obs.SetGauge(ports.MetricQueueLength, float64(q.Len()))
}

// dropRejected sends rejected records to the DLQ and removes them from the
// batch handed to the next sinks.
func dropRejected(out []*domain.Record, ids []ports.WALEntryID, rej *ports.RejectedError, obs ports.Observability) ([]*domain.Record, []ports.WALEntryID) {
	keptRecs := out[:0:0]
	keptIDs := ids[:0:0]
	for i, r := range out {
		if err, bad := rej.Rejected[i]; bad {
			obs.RecordDLQ(ids[i], r, err)
			continue
		}
		keptRecs = append(keptRecs, r)
		keptIDs = append(keptIDs, ids[i])
	}
	return keptRecs, keptIDs
}
