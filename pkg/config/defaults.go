package config

import (
	"strings"
	"time"

	"github.com/marmos91/filecache/internal/bytesize"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/grant"
	"github.com/marmos91/filecache/pkg/objectcache"
)

// ApplyDefaults fills every zero-valued field with its default. Explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyProfilingDefaults(&cfg.Profiling)
	applyMetricsDefaults(&cfg.Metrics)
	applyCacheDefaults(&cfg.Cache)
	applyStoreDefaults(&cfg.Store)
	applyGrantDefaults(&cfg.Grant)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	d := telemetry.DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = d.Endpoint
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = d.SampleRate
	}
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = append([]string(nil), telemetry.DefaultProfileTypes...)
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

// applyCacheDefaults mirrors objectcache.DefaultConfig so the effective
// values are visible in `fcache config show`.
func applyCacheDefaults(cfg *CacheConfig) {
	d := objectcache.DefaultConfig()
	if cfg.BlockSize == 0 {
		cfg.BlockSize = bytesize.ByteSize(d.BlockSize)
	}
	if cfg.MaxDirty == 0 {
		cfg.MaxDirty = bytesize.ByteSize(d.MaxDirty)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.FlushAge == 0 {
		cfg.FlushAge = d.FlushAge
	}
	if cfg.FetchWorkers == 0 {
		cfg.FetchWorkers = d.FetchWorkers
	}
	if cfg.FetchQueue == 0 {
		cfg.FetchQueue = d.FetchQueue
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = d.StoreTimeout
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Type == "badger" && cfg.Badger.Path == "" && !cfg.Badger.InMemory {
		cfg.Badger.Path = "/tmp/fcache-blocks"
	}
}

func applyGrantDefaults(cfg *GrantConfig) {
	if cfg.InitialCaps == caps.None {
		cfg.InitialCaps = caps.All
	}
	if cfg.BreakTimeout == 0 {
		cfg.BreakTimeout = grant.DefaultBreakTimeout
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = grant.DefaultScanInterval
	}
}

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
