package telemetry

import (
	"fmt"
	"maps"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string

	// ProfileTypes lists the profiles to collect; empty means
	// DefaultProfileTypes.
	ProfileTypes []string

	// Tags are attached to every profile next to the version, so runs
	// against different stores or block sizes can be compared.
	Tags map[string]string
}

// DefaultProfileTypes is used when profiling is enabled without an explicit
// list. Mutex profiles matter here: every file of a client serializes on one
// shared lock.
var DefaultProfileTypes = []string{"cpu", "inuse_space", "goroutines", "mutex_duration", "block_duration"}

// Sampling rates applied when a contention profile is requested.
const (
	mutexProfileFraction = 5
	blockProfileRate     = 5
)

type profileKind struct {
	pyroscope pyroscope.ProfileType
	mutex     bool
	block     bool
}

var profileKinds = map[string]profileKind{
	"cpu":            {pyroscope: pyroscope.ProfileCPU},
	"alloc_objects":  {pyroscope: pyroscope.ProfileAllocObjects},
	"alloc_space":    {pyroscope: pyroscope.ProfileAllocSpace},
	"inuse_objects":  {pyroscope: pyroscope.ProfileInuseObjects},
	"inuse_space":    {pyroscope: pyroscope.ProfileInuseSpace},
	"goroutines":     {pyroscope: pyroscope.ProfileGoroutines},
	"mutex_count":    {pyroscope: pyroscope.ProfileMutexCount, mutex: true},
	"mutex_duration": {pyroscope: pyroscope.ProfileMutexDuration, mutex: true},
	"block_count":    {pyroscope: pyroscope.ProfileBlockCount, block: true},
	"block_duration": {pyroscope: pyroscope.ProfileBlockDuration, block: true},
}

var profilingEnabled bool

// InitProfiling starts the Pyroscope profiler and returns a function that
// stops it. When profiling is disabled the returned function is a no-op.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	profilingEnabled = false
	if !cfg.Enabled {
		return func() error { return nil }, nil
	}

	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = DefaultProfileTypes
	}

	var (
		types        []pyroscope.ProfileType
		mutex, block bool
	)
	for _, name := range names {
		kind, err := parseProfileKind(name)
		if err != nil {
			return nil, err
		}
		types = append(types, kind.pyroscope)
		mutex = mutex || kind.mutex
		block = block || kind.block
	}
	if mutex {
		runtime.SetMutexProfileFraction(mutexProfileFraction)
	}
	if block {
		runtime.SetBlockProfileRate(blockProfileRate)
	}

	tags := map[string]string{"version": cfg.ServiceVersion}
	maps.Copy(tags, cfg.Tags)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            tags,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope profiler: %w", err)
	}
	profilingEnabled = true

	return func() error {
		profilingEnabled = false
		return profiler.Stop()
	}, nil
}

// IsProfilingEnabled reports whether a profiler is running.
func IsProfilingEnabled() bool {
	return profilingEnabled
}

func parseProfileKind(name string) (profileKind, error) {
	kind, ok := profileKinds[name]
	if !ok {
		return profileKind{}, fmt.Errorf("unknown profile type %q", name)
	}
	return kind, nil
}
