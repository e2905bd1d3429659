package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/downfa11-org/raftlog/pkg/bench"
	"github.com/downfa11-org/raftlog/pkg/config"
	"github.com/downfa11-org/raftlog/pkg/metrics"
)

func main() {
	entries := flag.Int("entries", 100000, "entries to append")
	payloadSize := flag.Int("payload", 256, "payload bytes per entry")
	batchSize := flag.Int("batch", 64, "entries per append batch")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	}

	runner := bench.NewRunner(cfg, *entries, *payloadSize, *batchSize)
	if err := runner.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "benchmark failed:", err)
		os.Exit(1)
	}
}
