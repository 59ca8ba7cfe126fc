package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/filecache/internal/bytesize"
	"github.com/marmos91/filecache/pkg/caps"
	blockbadger "github.com/marmos91/filecache/pkg/store/block/badger"
	blockmemory "github.com/marmos91/filecache/pkg/store/block/memory"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "debug"

cache:
  block_size: 128Ki
  max_dirty: 4Mi
  flush_interval: 250ms

store:
  type: badger
  badger:
    in_memory: true

grant:
  initial_caps: rc
  break_timeout: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Cache.BlockSize != 128*bytesize.KiB {
		t.Errorf("Expected block size 128Ki, got %v", cfg.Cache.BlockSize)
	}
	if cfg.Cache.MaxDirty != 4*bytesize.MiB {
		t.Errorf("Expected max dirty 4Mi, got %v", cfg.Cache.MaxDirty)
	}
	if cfg.Cache.FlushInterval != 250*time.Millisecond {
		t.Errorf("Expected flush interval 250ms, got %v", cfg.Cache.FlushInterval)
	}
	if cfg.Cache.FetchWorkers != 4 {
		t.Errorf("Expected default fetch workers 4, got %d", cfg.Cache.FetchWorkers)
	}
	if cfg.Store.Type != "badger" || !cfg.Store.Badger.InMemory {
		t.Errorf("Expected in-memory badger store, got %+v", cfg.Store)
	}
	if cfg.Grant.InitialCaps != caps.Read|caps.ReadCache {
		t.Errorf("Expected initial caps rc, got %v", cfg.Grant.InitialCaps)
	}
	if cfg.Grant.BreakTimeout != 10*time.Second {
		t.Errorf("Expected break timeout 10s, got %v", cfg.Grant.BreakTimeout)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type memory, got %q", cfg.Store.Type)
	}
	if cfg.Grant.InitialCaps != caps.All {
		t.Errorf("Expected default initial caps rcwb, got %v", cfg.Grant.InitialCaps)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: [unclosed\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	path := writeConfig(t, "config.yaml", "cache:\n  block_size: lots\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for unparsable block size")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[store]
type = "memory"

[cache]
fetch_workers = 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format json, got %q", cfg.Logging.Format)
	}
	if cfg.Cache.FetchWorkers != 8 {
		t.Errorf("Expected fetch workers 8, got %d", cfg.Cache.FetchWorkers)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("FCACHE_LOGGING_LEVEL", "error")
	t.Setenv("FCACHE_CACHE_BLOCK_SIZE", "32Ki")
	t.Setenv("FCACHE_GRANT_INITIAL_CAPS", "read|write")
	t.Setenv("FCACHE_PROFILING_PROFILE_TYPES", "cpu,goroutines")

	path := writeConfig(t, "config.yaml", "logging:\n  level: INFO\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected env override ERROR, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.BlockSize != 32*bytesize.KiB {
		t.Errorf("Expected env block size 32Ki, got %v", cfg.Cache.BlockSize)
	}
	if cfg.Grant.InitialCaps != caps.Read|caps.Write {
		t.Errorf("Expected env caps rw, got %v", cfg.Grant.InitialCaps)
	}
	if len(cfg.Profiling.ProfileTypes) != 2 || cfg.Profiling.ProfileTypes[1] != "goroutines" {
		t.Errorf("Expected env profile types, got %v", cfg.Profiling.ProfileTypes)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.BlockSize = 16 * bytesize.KiB
	cfg.Grant.InitialCaps = caps.Read | caps.WriteBuffer
	cfg.Store.Type = "s3"
	cfg.Store.S3.Bucket = "blocks"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Cache.BlockSize != cfg.Cache.BlockSize {
		t.Errorf("Block size changed: %v != %v", loaded.Cache.BlockSize, cfg.Cache.BlockSize)
	}
	if loaded.Grant.InitialCaps != cfg.Grant.InitialCaps {
		t.Errorf("Initial caps changed: %v != %v", loaded.Grant.InitialCaps, cfg.Grant.InitialCaps)
	}
	if loaded.Cache.FlushAge != cfg.Cache.FlushAge {
		t.Errorf("Flush age changed: %v != %v", loaded.Cache.FlushAge, cfg.Cache.FlushAge)
	}
	if loaded.Store.S3.Bucket != "blocks" {
		t.Errorf("Bucket changed: %q", loaded.Store.S3.Bucket)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestMustLoad_MissingDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := MustLoad(""); err == nil {
		t.Fatal("Expected error when the default config does not exist")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "fcache", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if GetConfigDir() != filepath.Join(dir, "fcache") {
		t.Errorf("Unexpected config dir %q", GetConfigDir())
	}
	if DefaultConfigExists() {
		t.Error("Expected no default config in a fresh directory")
	}
}

func TestObjectCacheConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.MaxDirty = 2 * bytesize.MiB

	oc := cfg.ObjectCacheConfig()
	if oc.BlockSize != 64*1024 {
		t.Errorf("Expected block size 65536, got %d", oc.BlockSize)
	}
	if oc.MaxDirty != 2*1024*1024 {
		t.Errorf("Expected max dirty 2MiB, got %d", oc.MaxDirty)
	}
	if oc.FlushInterval != time.Second {
		t.Errorf("Expected flush interval 1s, got %v", oc.FlushInterval)
	}
}

func TestTelemetryAndProfilingConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.SampleRate = 0.5

	tc := cfg.TelemetryConfig("1.2.3")
	if !tc.Enabled || tc.SampleRate != 0.5 || tc.ServiceVersion != "1.2.3" {
		t.Errorf("Unexpected telemetry config %+v", tc)
	}
	if tc.ServiceName != "fcache" {
		t.Errorf("Expected service name fcache, got %q", tc.ServiceName)
	}

	pc := cfg.ProfilingConfig("1.2.3")
	if pc.Endpoint != "http://localhost:4040" || len(pc.ProfileTypes) == 0 {
		t.Errorf("Unexpected profiling config %+v", pc)
	}
	if pc.Tags["store"] != cfg.Store.Type {
		t.Errorf("Expected store tag %q, got %q", cfg.Store.Type, pc.Tags["store"])
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, StoreConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := s.(*blockmemory.Store); !ok {
		t.Errorf("Expected *memory.Store, got %T", s)
	}
	_ = s.Close()

	s, err = OpenStore(ctx, StoreConfig{Type: "badger", Badger: BadgerStoreConfig{Path: t.TempDir()}})
	if err != nil {
		t.Fatalf("badger store: %v", err)
	}
	if _, ok := s.(*blockbadger.Store); !ok {
		t.Errorf("Expected *badger.Store, got %T", s)
	}
	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("badger health check: %v", err)
	}
	_ = s.Close()

	if _, err := OpenStore(ctx, StoreConfig{Type: "tape"}); err == nil {
		t.Error("Expected error for unknown store type")
	}
}
