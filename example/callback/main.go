package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sensiasoft/sensorhub-sub000"
)

func main() {
	flow, err := sensorhub.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []sensorhub.Record) error {
		for _, rec := range batch {
			fmt.Printf("%s producer=%s type=%s foi=%s values=%v\n",
				rec.Time.Format(time.RFC3339Nano),
				rec.Producer,
				rec.RecordType,
				rec.Foi,
				rec.Values,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, sensorhub.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
