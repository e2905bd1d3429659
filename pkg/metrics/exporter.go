package metrics

import (
	"fmt"
	"net/http"

	"github.com/downfa11-org/raftlog/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(EntriesAppended, AppendLatencyHist, FsyncTotal, FsyncLatencyHist)
	prometheus.MustRegister(SegmentsTotal, LogSizeBytes, SegmentRolls, TruncationsTotal, CompactionsTotal, TornTailsRecovered)
}

func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
}
