package config

import (
	"context"
	"fmt"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/internal/telemetry"
	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/marmos91/filecache/pkg/store/block"
	blockbadger "github.com/marmos91/filecache/pkg/store/block/badger"
	blockmemory "github.com/marmos91/filecache/pkg/store/block/memory"
	blocks3 "github.com/marmos91/filecache/pkg/store/block/s3"
)

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig converts the telemetry section.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	t := telemetry.DefaultConfig()
	t.Enabled = c.Telemetry.Enabled
	t.Endpoint = c.Telemetry.Endpoint
	t.Insecure = c.Telemetry.Insecure
	t.SampleRate = c.Telemetry.SampleRate
	if version != "" {
		t.ServiceVersion = version
	}
	return t
}

// ProfilingConfig converts the profiling section.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Profiling.Enabled,
		ServiceName:    telemetry.DefaultConfig().ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Profiling.Endpoint,
		ProfileTypes:   c.Profiling.ProfileTypes,
		Tags: map[string]string{
			"store":      c.Store.Type,
			"block_size": c.Cache.BlockSize.String(),
		},
	}
}

// ObjectCacheConfig converts the cache section.
func (c *Config) ObjectCacheConfig() objectcache.Config {
	return objectcache.Config{
		BlockSize:     int(c.Cache.BlockSize),
		MaxDirty:      c.Cache.MaxDirty.Int64(),
		FlushInterval: c.Cache.FlushInterval,
		FlushAge:      c.Cache.FlushAge,
		FetchWorkers:  c.Cache.FetchWorkers,
		FetchQueue:    c.Cache.FetchQueue,
		StoreTimeout:  c.Cache.StoreTimeout,
	}
}

// OpenStore creates the configured block store. The caller owns it and must
// Close it.
func OpenStore(ctx context.Context, cfg StoreConfig) (block.Store, error) {
	switch cfg.Type {
	case "memory", "":
		return blockmemory.New(), nil
	case "badger":
		s, err := blockbadger.Open(blockbadger.Config{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return s, nil
	case "s3":
		s, err := blocks3.NewFromConfig(ctx, blocks3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			KeyPrefix:       cfg.S3.KeyPrefix,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
