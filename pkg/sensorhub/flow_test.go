package sensorhub

import (
	"context"
	"testing"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	sink := &stubSink{}
	p := NewLiveProducer("station-1", "")

	hub, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInProducer(p),
			StreamInObservability(&nopObs{}),
		).
		StreamOUT(
			StreamOutSink(sink),
			StreamOutTransformer(&stubTransformer{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	defer hub.Shutdown(context.Background())

	if hub.collector != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if hub.sinks[len(hub.sinks)-1] != sink {
		t.Fatalf("expected custom sink to be wired last")
	}
	if _, err := hub.Producer("station-1"); err != nil {
		t.Fatalf("expected producer to be registered: %v", err)
	}
	if _, err := hub.Offerings().Get("station-1"); err != nil {
		t.Fatalf("expected a default offering for the producer: %v", err)
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(t))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := flow.StreamIN(
		StreamInCollector(&stubCollector{}),
	).Run(ctx,
		StreamOutSink(&stubSink{}),
		StreamOutObservability(&nopObs{}),
	); err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}

func TestFlowNilSafety(t *testing.T) {
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var f *Flow
	if f.StreamIN() != nil || f.Config() != nil {
		t.Fatalf("expected nil flow to stay nil")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error from nil flow")
	}
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...Field)                     {}
func (nopObs) LogError(string, error, ...Field)             {}
func (nopObs) LogCritical(string, error, ...Field)          {}
func (nopObs) IncCounter(string, float64)                   {}
func (nopObs) ObserveLatency(string, float64)               {}
func (nopObs) SetGauge(string, float64)                     {}
func (nopObs) AddGauge(string, float64)                     {}
func (nopObs) RecordDLQ(WALEntryID, *PipelineRecord, error) {}
