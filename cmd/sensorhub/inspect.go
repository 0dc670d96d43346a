package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/kv/badgerkv"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/storage"
)

func openReadOnly(dir string) (*storage.MultiProducerStore, func(), error) {
	eng, err := badgerkv.Open(badgerkv.Config{Path: dir, ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(eng)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}
	return store, func() { eng.Close() }, nil
}

func inspectStore(w io.Writer, store *storage.MultiProducerStore) error {
	ids := store.ProducerIDs()
	if len(ids) == 0 {
		fmt.Fprintln(w, "store is empty")
		return nil
	}
	for _, id := range ids {
		p, err := store.Producer(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "producer %s", id)
		if d, err := p.LatestDescription(); err == nil && d.Name != "" {
			fmt.Fprintf(w, " (%s)", d.Name)
		}
		fmt.Fprintln(w)

		fois, err := p.FoiIDs()
		if err != nil {
			return err
		}
		if len(fois) > 0 {
			fmt.Fprintf(w, "  features: %v\n", fois)
		}

		for _, info := range p.RecordTypes() {
			r, ok, err := p.RecordsTimeRange(info.Name)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(w, "  %s: no records\n", info.Name)
				continue
			}
			fmt.Fprintf(w, "  %s: %s .. %s\n", info.Name, formatTime(r.Begin), formatTime(r.End))

			it, err := p.RecordsTimeClusters(info.Name)
			if err != nil {
				return err
			}
			clusters, err := storage.Collect(it)
			if err != nil {
				return err
			}
			for _, c := range clusters {
				fmt.Fprintf(w, "    cluster %s .. %s\n", formatTime(c.Begin), formatTime(c.End))
			}
		}
	}
	return nil
}

func formatTime(secs float64) string {
	return domain.TimeOf(secs).UTC().Format(time.RFC3339Nano)
}
