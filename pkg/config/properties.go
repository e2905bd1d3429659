package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/raftlog/util"
	"gopkg.in/yaml.v3"
)

// Sync modes recognized by log.sync.mode.
const (
	SyncAlways = "always"
	SyncBatch  = "batch"
)

// DefaultSegmentMaxBytes is the roll threshold applied when none is configured.
const DefaultSegmentMaxBytes = 8 << 20

// Config holds the log storage configuration including tunable durability options
type Config struct {
	// Storage
	StorageDir      string `yaml:"storage_dir" json:"log.storage.dir"`
	SegmentMaxBytes int64  `yaml:"segment_max_bytes" json:"log.segment.max.bytes"`

	// Durability
	SyncMode            string `yaml:"sync_mode" json:"log.sync.mode"`
	SyncBatchEntries    int    `yaml:"sync_batch_entries" json:"log.sync.batch.entries"`
	SyncBatchIntervalMS int    `yaml:"sync_batch_interval_ms" json:"log.sync.batch.interval_ms"`

	// Observability
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
}

// LoadConfig builds a Config from flags and an optional YAML/JSON file.
// Flag defaults apply first, then the file, then explicitly passed flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	storageDirStr := flag.String("storage-dir", "raft-logs", "Directory for segment files")
	segmentMaxStr := flag.String("segment-max-bytes", "8388608", "Segment roll threshold in bytes")
	syncModeStr := flag.String("sync-mode", SyncAlways, "Durability mode (always, batch)")
	syncBatchEntriesStr := flag.String("sync-batch-entries", "256", "Entries per fsync in batch mode")
	syncBatchIntervalStr := flag.String("sync-batch-interval-ms", "50", "Max time between fsyncs in batch mode (ms)")
	logLevelStr := flag.String("log-level", "info", "Log Level (debug, info, warn, error)")
	exporterStr := flag.String("exporter", "false", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, storageDirStr, segmentMaxStr, syncModeStr, syncBatchEntriesStr,
		syncBatchIntervalStr, logLevelStr, exporterStr, exporterPortStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyExplicitFlags(cfg, storageDirStr, segmentMaxStr, syncModeStr, syncBatchEntriesStr,
		syncBatchIntervalStr, logLevelStr, exporterStr, exporterPortStr)

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func applyDefaults(cfg *Config, storageDirStr, segmentMaxStr, syncModeStr, syncBatchEntriesStr,
	syncBatchIntervalStr, logLevelStr, exporterStr, exporterPortStr *string) {

	cfg.StorageDir = *storageDirStr
	cfg.SegmentMaxBytes = util.ParseInt64(*segmentMaxStr, DefaultSegmentMaxBytes)
	cfg.SyncMode = *syncModeStr
	cfg.SyncBatchEntries = util.ParseInt(*syncBatchEntriesStr, 256)
	cfg.SyncBatchIntervalMS = util.ParseInt(*syncBatchIntervalStr, 50)
	cfg.LogLevel = util.ParseLevel(*logLevelStr)
	cfg.EnableExporter = util.ParseBool(*exporterStr, false)
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
}

func applyExplicitFlags(cfg *Config, storageDirStr, segmentMaxStr, syncModeStr, syncBatchEntriesStr,
	syncBatchIntervalStr, logLevelStr, exporterStr, exporterPortStr *string) {

	if *storageDirStr != "raft-logs" {
		cfg.StorageDir = *storageDirStr
	}
	if *segmentMaxStr != "8388608" {
		cfg.SegmentMaxBytes = util.ParseInt64(*segmentMaxStr, cfg.SegmentMaxBytes)
	}
	if *syncModeStr != SyncAlways {
		cfg.SyncMode = *syncModeStr
	}
	if *syncBatchEntriesStr != "256" {
		cfg.SyncBatchEntries = util.ParseInt(*syncBatchEntriesStr, cfg.SyncBatchEntries)
	}
	if *syncBatchIntervalStr != "50" {
		cfg.SyncBatchIntervalMS = util.ParseInt(*syncBatchIntervalStr, cfg.SyncBatchIntervalMS)
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = util.ParseLevel(*logLevelStr)
	}
	if *exporterStr != "false" {
		cfg.EnableExporter = util.ParseBool(*exporterStr, cfg.EnableExporter)
	}
	if *exporterPortStr != "9100" {
		cfg.ExporterPort = util.ParseInt(*exporterPortStr, cfg.ExporterPort)
	}
}

// Normalize fills unset fields with defaults and rejects nonsense values.
func (cfg *Config) Normalize() error {
	if strings.TrimSpace(cfg.StorageDir) == "" {
		cfg.StorageDir = "raft-logs"
	}
	if cfg.SegmentMaxBytes < 1024 {
		cfg.SegmentMaxBytes = DefaultSegmentMaxBytes
	}

	switch cfg.SyncMode {
	case "":
		cfg.SyncMode = SyncAlways
	case SyncAlways, SyncBatch:
	default:
		return fmt.Errorf("unknown sync mode %q (want %s or %s)", cfg.SyncMode, SyncAlways, SyncBatch)
	}

	if cfg.SyncBatchEntries <= 0 {
		cfg.SyncBatchEntries = 256
	}
	if cfg.SyncBatchIntervalMS <= 0 {
		cfg.SyncBatchIntervalMS = 50
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	return nil
}
