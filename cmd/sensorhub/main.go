package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sensiasoft/sensorhub-sub000"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("sensorhub %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to hub configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := sensorhub.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := sensorhub.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	drivers := sensorhub.NewDriverRegistry()
	known := make(map[string]bool)
	for _, t := range drivers.Types() {
		known[t] = true
	}
	for _, p := range cfg.Producers {
		if !known[p.Type] {
			fmt.Printf("producer %s: custom type %q is not checked\n", p.ID, p.Type)
			continue
		}
		if _, err := drivers.Build(p, nil); err != nil {
			return err
		}
	}
	fmt.Printf("config %s looks good: %d producer(s), %d offering(s)\n", *cfgPath, len(cfg.Producers), len(cfg.Offerings))
	return nil
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Configuration file whose storage section is used")
	path := fs.String("path", "./data/store", "Store directory (ignored when -config is set)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := *path
	if *cfgPath != "" {
		cfg, err := sensorhub.LoadConfig(*cfgPath)
		if err != nil {
			return err
		}
		dir = cfg.Storage.Path
	}

	store, closeStore, err := openReadOnly(dir)
	if err != nil {
		return err
	}
	defer closeStore()
	return inspectStore(os.Stdout, store)
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	ports.MetricRecordsIngested,
	ports.MetricQueueLength,
	ports.MetricWALSize,
	ports.MetricRecordsServed,
	ports.MetricProvidersActive,
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] ingested=%g queue=%g wal_bytes=%g served=%g providers=%g\n",
		time.Now().Format(time.RFC3339),
		values[ports.MetricRecordsIngested],
		values[ports.MetricQueueLength],
		values[ports.MetricWALSize],
		values[ports.MetricRecordsServed],
		values[ports.MetricProvidersActive],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`SensorHub CLI

Usage:
  sensorhub <command> [flags]

Commands:
  run        Start the hub using the provided config
  validate   Load and validate a config file without starting the hub
  stats      Poll the Prometheus metrics endpoint and print live counters
  inspect    Print the producers, record types and time coverage of a store

Examples:
  sensorhub run -config ./data/config.yaml
  sensorhub validate -config ./data/config.yaml
  sensorhub stats -url http://localhost:9100/metrics -interval 1s
  sensorhub inspect -path ./data/store
`)
}
