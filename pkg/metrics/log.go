package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntriesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_entries_appended_total",
		Help: "Total number of entries appended to the log",
	})

	AppendLatencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftlog_append_latency_seconds",
		Help:    "Histogram of append latency including the sync policy",
		Buckets: prometheus.DefBuckets,
	})

	FsyncTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_fsync_total",
		Help: "Total number of fsync calls issued by the sync policy",
	})

	FsyncLatencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftlog_fsync_latency_seconds",
		Help:    "Histogram of fsync latency",
		Buckets: prometheus.DefBuckets,
	})

	SegmentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlog_segments",
		Help: "Current number of segments in the log",
	})

	LogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftlog_size_bytes",
		Help: "Total byte size of all segment files",
	})

	SegmentRolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_segment_rolls_total",
		Help: "Total number of segments sealed because the roll threshold was reached",
	})

	TruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_truncations_total",
		Help: "Total number of truncate operations applied to the log",
	})

	CompactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_compactions_total",
		Help: "Total number of segment files deleted by compaction",
	})

	TornTailsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftlog_torn_tails_recovered_total",
		Help: "Total number of torn tail writes discarded during recovery",
	})
)
