package metrics

import (
	"time"

	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/filecache"
	"github.com/prometheus/client_golang/prometheus"
)

var _ filecache.Metrics = (*FileCacheMetrics)(nil)

// capLabels names each capability bit for the caps_lost_total series.
var capLabels = []struct {
	bit   caps.Cap
	label string
}{
	{caps.Read, "read"},
	{caps.ReadCache, "read_cache"},
	{caps.Write, "write"},
	{caps.WriteBuffer, "write_buffer"},
}

// FileCacheMetrics is the Prometheus sink for filecache.FileCache.
type FileCacheMetrics struct {
	ops             *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	suspend         *prometheus.HistogramVec
	capsChanges     prometheus.Counter
	capsLost        *prometheus.CounterVec
	callbacksFired  prometheus.Counter
	reevalWithFires prometheus.Counter
}

// NewFileCacheMetrics registers the file cache series on reg. Returns nil
// when reg is nil.
func NewFileCacheMetrics(reg prometheus.Registerer) *FileCacheMetrics {
	if reg == nil {
		return nil
	}

	return &FileCacheMetrics{
		ops: counterVec(reg, prometheus.CounterOpts{
			Name: "filecache_ops_total",
			Help: "Reads and writes by operation, I/O path and result",
		}, "op", "path", "result"),
		bytes: counterVec(reg, prometheus.CounterOpts{
			Name: "filecache_bytes_total",
			Help: "Bytes moved by successful reads and writes",
		}, "op", "path"),
		duration: histogramVec(reg, prometheus.HistogramOpts{
			Name:    "filecache_op_duration_seconds",
			Help:    "Read and write latency including time spent suspended",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, "op", "path"),
		suspend: histogramVec(reg, prometheus.HistogramOpts{
			Name:    "filecache_suspend_seconds",
			Help:    "Time spent with the shared lock released",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, "reason"),
		capsChanges: counter(reg, prometheus.CounterOpts{
			Name: "filecache_caps_changes_total",
			Help: "Capability updates applied through SetCaps",
		}),
		capsLost: counterVec(reg, prometheus.CounterOpts{
			Name: "filecache_caps_lost_total",
			Help: "Capability bits dropped by SetCaps",
		}, "cap"),
		callbacksFired: counter(reg, prometheus.CounterOpts{
			Name: "filecache_callbacks_fired_total",
			Help: "Downgrade completions fired by capability re-evaluation",
		}),
		reevalWithFires: counter(reg, prometheus.CounterOpts{
			Name: "filecache_reevaluations_firing_total",
			Help: "Re-evaluations that fired at least one completion",
		}),
	}
}

// ObserveIO records one completed read or write.
func (m *FileCacheMetrics) ObserveIO(op, path string, bytes int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, path, resultLabel(err)).Inc()
	m.duration.WithLabelValues(op, path).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.bytes.WithLabelValues(op, path).Add(float64(bytes))
	}
}

// ObserveSuspend records a wait with the shared lock released.
func (m *FileCacheMetrics) ObserveSuspend(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.suspend.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordCapsChange counts an update and each bit it dropped.
func (m *FileCacheMetrics) RecordCapsChange(lost caps.Cap) {
	if m == nil {
		return
	}
	m.capsChanges.Inc()
	for _, c := range capLabels {
		if lost&c.bit != 0 {
			m.capsLost.WithLabelValues(c.label).Inc()
		}
	}
}

// RecordCallbacksFired counts completions fired by one re-evaluation.
func (m *FileCacheMetrics) RecordCallbacksFired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.callbacksFired.Add(float64(n))
	m.reevalWithFires.Inc()
}
