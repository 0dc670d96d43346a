package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

// RunEdgePipeline starts the collector and journals every record it emits
// before queueing it. Forwarding stops when ctx is cancelled.
func RunEdgePipeline(ctx context.Context, col ports.Collector, wal ports.WAL, q ports.RecordQueue, pol ports.Policy, obs ports.Observability) error {
	ch := make(chan *domain.Record, pol.MaxQueueLen)

	if err := col.Start(ch); err != nil {
		return err
	}

	go func() {
		for {
			var r *domain.Record
			select {
			case <-ctx.Done():
				return
			case r = <-ch:
			}
			if !waitForWALCapacity(wal, pol, obs) {
				continue
			}

			id, err := wal.Append(r)
			if err != nil {
				obs.LogCritical("wal_append_failed", err, ports.F("producer", r.Key.ProducerID))
				continue
			}

			if !enqueueWithPolicy(q, id, r, pol, obs) {
				obs.IncCounter(ports.MetricQueueDropped, 1)
			}
		}
	}()

	return nil
}

// ReplayWAL queues the uncommitted journal entries left by a previous run.
func ReplayWAL(wal ports.WAL, q ports.RecordQueue, pol ports.Policy, obs ports.Observability) (int, error) {
	stats := wal.Stats()
	if stats.LatestAppended == 0 {
		return 0, nil
	}
	start := stats.OldestUncommitted
	if start == 0 || start > stats.LatestAppended {
		return 0, nil
	}

	sleep := idleSleep(pol)
	var replayed int
	err := wal.Iterate(start, func(id ports.WALEntryID, r *domain.Record) error {
		for {
			if q.Enqueue(id, r) {
				replayed++
				return nil
			}
			switch pol.OnQueueFull {
			case "drop", "reject":
				return fmt.Errorf("queue full during WAL replay")
			default:
				time.Sleep(sleep)
			}
		}
	})
	if err != nil {
		return replayed, err
	}
	if replayed > 0 {
		obs.LogInfo("wal_replay_complete", ports.F("records", replayed), ports.F("from_id", start))
	}
	return replayed, nil
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func waitForWALCapacity(wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := idleSleep(pol)

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			time.Sleep(sleep)
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

func enqueueWithPolicy(q ports.RecordQueue, id ports.WALEntryID, r *domain.Record, pol ports.Policy, obs ports.Observability) bool {
	sleep := idleSleep(pol)

	for {
		if ok := q.Enqueue(id, r); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			time.Sleep(sleep)
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.F("producer", r.Key.ProducerID), ports.F("record_type", r.Key.RecordType))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
