package config

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/filecache/internal/bytesize"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected default config to pass validation, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "lte"},
		{"telemetry endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "required_if"},
		{"metrics addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "Metrics.Addr"},
		{"profile type", func(c *Config) { c.Profiling.ProfileTypes = []string{"heap"} }, "ProfileTypes"},
		{"block size too small", func(c *Config) { c.Cache.BlockSize = 100 }, "gte"},
		{"block size not power of two", func(c *Config) { c.Cache.BlockSize = 3000 }, "power of two"},
		{"max dirty below block", func(c *Config) {
			c.Cache.BlockSize = 64 * bytesize.KiB
			c.Cache.MaxDirty = 4 * bytesize.KiB
		}, "gtefield"},
		{"flush interval", func(c *Config) { c.Cache.FlushInterval = -time.Second }, "FlushInterval"},
		{"fetch workers", func(c *Config) { c.Cache.FetchWorkers = 1000 }, "FetchWorkers"},
		{"store type", func(c *Config) { c.Store.Type = "tape" }, "Store.Type"},
		{"badger path", func(c *Config) {
			c.Store.Type = "badger"
			c.Store.Badger = BadgerStoreConfig{}
		}, "badger.path"},
		{"s3 bucket", func(c *Config) { c.Store.Type = "s3" }, "bucket"},
		{"s3 half credentials", func(c *Config) {
			c.Store.Type = "s3"
			c.Store.S3.Bucket = "b"
			c.Store.S3.AccessKeyID = "key"
		}, "together"},
		{"scan slower than timeout", func(c *Config) {
			c.Grant.BreakTimeout = time.Second
			c.Grant.ScanInterval = time.Minute
		}, "ltefield"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := &Config{Logging: LoggingConfig{Level: level}}
		ApplyDefaults(cfg)

		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected %q to normalize to uppercase, got %q", level, cfg.Logging.Level)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should validate: %v", level, err)
		}
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Cache: CacheConfig{
			BlockSize:    4 * bytesize.KiB,
			FetchWorkers: 2,
		},
		Store:           StoreConfig{Type: "BADGER"},
		ShutdownTimeout: time.Minute,
	}
	ApplyDefaults(cfg)

	if cfg.Cache.BlockSize != 4*bytesize.KiB {
		t.Errorf("Block size overwritten: %v", cfg.Cache.BlockSize)
	}
	if cfg.Cache.FetchWorkers != 2 {
		t.Errorf("Fetch workers overwritten: %d", cfg.Cache.FetchWorkers)
	}
	if cfg.Store.Type != "badger" {
		t.Errorf("Expected store type normalized to badger, got %q", cfg.Store.Type)
	}
	if cfg.Store.Badger.Path == "" {
		t.Error("Expected a default badger path")
	}
	if cfg.ShutdownTimeout != time.Minute {
		t.Errorf("Shutdown timeout overwritten: %v", cfg.ShutdownTimeout)
	}
	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics addr should stay empty while disabled, got %q", cfg.Metrics.Addr)
	}
}
