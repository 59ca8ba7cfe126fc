package metrics

import (
	"time"

	"github.com/marmos91/filecache/pkg/grant"
	"github.com/prometheus/client_golang/prometheus"
)

var _ grant.Metrics = (*GrantMetrics)(nil)

// GrantMetrics is the Prometheus sink for the grant driver.
type GrantMetrics struct {
	started     prometheus.Counter
	acked       prometheus.Counter
	overdue     prometheus.Counter
	outstanding prometheus.Gauge
	ackLatency  prometheus.Histogram
}

// NewGrantMetrics registers the grant series on reg. Returns nil when reg is
// nil.
func NewGrantMetrics(reg prometheus.Registerer) *GrantMetrics {
	if reg == nil {
		return nil
	}

	return &GrantMetrics{
		started: counter(reg, prometheus.CounterOpts{
			Name: "grant_breaks_started_total",
			Help: "Revokes that dropped at least one capability",
		}),
		acked: counter(reg, prometheus.CounterOpts{
			Name: "grant_breaks_acked_total",
			Help: "Breaks acknowledged by the file cache",
		}),
		overdue: counter(reg, prometheus.CounterOpts{
			Name: "grant_breaks_overdue_total",
			Help: "Breaks that outlived the break timeout",
		}),
		outstanding: gauge(reg, prometheus.GaugeOpts{
			Name: "grant_breaks_outstanding",
			Help: "Breaks not yet acknowledged",
		}),
		ackLatency: histogram(reg, prometheus.HistogramOpts{
			Name:    "grant_break_ack_seconds",
			Help:    "Time from revoke to acknowledgement",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
	}
}

func (m *GrantMetrics) BreakStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *GrantMetrics) BreakAcked(latency time.Duration) {
	if m == nil {
		return
	}
	m.acked.Inc()
	m.ackLatency.Observe(latency.Seconds())
}

func (m *GrantMetrics) BreakOverdue() {
	if m == nil {
		return
	}
	m.overdue.Inc()
}

func (m *GrantMetrics) SetOutstanding(n int) {
	if m == nil {
		return
	}
	m.outstanding.Set(float64(n))
}
