package metrics

import (
	"time"

	"github.com/marmos91/filecache/pkg/objectcache"
	"github.com/prometheus/client_golang/prometheus"
)

var _ objectcache.Metrics = (*ObjectCacheMetrics)(nil)

// ObjectCacheMetrics is the Prometheus sink for objectcache.Cache events.
type ObjectCacheMetrics struct {
	fetches       *prometheus.CounterVec
	fetchBlocks   prometheus.Counter
	fetchDuration prometheus.Histogram
	flushes       *prometheus.CounterVec
	flushBlocks   prometheus.Counter
	flushBytes    prometheus.Counter
	flushDuration prometheus.Histogram
	admissionWait prometheus.Histogram
}

// NewObjectCacheMetrics registers the object cache event series on reg.
// Returns nil when reg is nil.
func NewObjectCacheMetrics(reg prometheus.Registerer) *ObjectCacheMetrics {
	if reg == nil {
		return nil
	}

	return &ObjectCacheMetrics{
		fetches: counterVec(reg, prometheus.CounterOpts{
			Name: "objectcache_fetches_total",
			Help: "Block fetches from the backing store by result",
		}, "result"),
		fetchBlocks: counter(reg, prometheus.CounterOpts{
			Name: "objectcache_fetch_blocks_total",
			Help: "Blocks requested from the backing store by fetches",
		}),
		fetchDuration: histogram(reg, prometheus.HistogramOpts{
			Name:    "objectcache_fetch_duration_seconds",
			Help:    "Time to fetch the missing blocks of one read",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		flushes: counterVec(reg, prometheus.CounterOpts{
			Name: "objectcache_flushes_total",
			Help: "Flush sweeps that wrote at least one block, by result",
		}, "result"),
		flushBlocks: counter(reg, prometheus.CounterOpts{
			Name: "objectcache_flush_blocks_total",
			Help: "Blocks written back by the flusher",
		}),
		flushBytes: counter(reg, prometheus.CounterOpts{
			Name: "objectcache_flush_bytes_total",
			Help: "Bytes written back by the flusher",
		}),
		flushDuration: histogram(reg, prometheus.HistogramOpts{
			Name:    "objectcache_flush_duration_seconds",
			Help:    "Duration of one flush sweep",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		admissionWait: histogram(reg, prometheus.HistogramOpts{
			Name:    "objectcache_admission_wait_seconds",
			Help:    "Time writers waited for dirty space",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

// ObserveFetch records one fetch of missing blocks.
func (m *ObjectCacheMetrics) ObserveFetch(blocks int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(resultLabel(err)).Inc()
	m.fetchBlocks.Add(float64(blocks))
	m.fetchDuration.Observe(duration.Seconds())
}

// ObserveFlush records one flush sweep.
func (m *ObjectCacheMetrics) ObserveFlush(blocks int, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(resultLabel(err)).Inc()
	m.flushDuration.Observe(duration.Seconds())
	if err == nil {
		m.flushBlocks.Add(float64(blocks))
		m.flushBytes.Add(float64(bytes))
	}
}

// ObserveAdmissionWait records a writer blocked in WaitForWrite.
func (m *ObjectCacheMetrics) ObserveAdmissionWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.admissionWait.Observe(duration.Seconds())
}

// StatsSource is anything that can report an object cache snapshot.
type StatsSource interface {
	Stats() objectcache.Stats
}

// statsCollector exports a Stats snapshot on every scrape.
type statsCollector struct {
	src StatsSource

	objects, blocks *prometheus.Desc
	bytes           *prometheus.Desc
	hits, misses    *prometheus.Desc
	writes          *prometheus.Desc
}

// RegisterCacheStats exports the live size and hit counters of src. The
// snapshot takes the shared lock, so the registry must not be gathered by a
// goroutine holding it.
func RegisterCacheStats(reg prometheus.Registerer, src StatsSource) {
	if reg == nil || src == nil {
		return
	}
	fq := func(name string) string { return prometheus.BuildFQName(Namespace, "objectcache", name) }
	registerOrReuse(reg, &statsCollector{
		src:     src,
		objects: prometheus.NewDesc(fq("objects"), "Inodes with cached blocks", nil, nil),
		blocks:  prometheus.NewDesc(fq("blocks"), "Cached blocks", nil, nil),
		bytes:   prometheus.NewDesc(fq("bytes"), "Cached bytes by block state", []string{"state"}, nil),
		hits:    prometheus.NewDesc(fq("read_hits_total"), "Reads served without a fetch", nil, nil),
		misses:  prometheus.NewDesc(fq("read_misses_total"), "Reads that needed a fetch", nil, nil),
		writes:  prometheus.NewDesc(fq("writes_total"), "Writes by mode", []string{"mode"}, nil),
	})
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.objects
	ch <- c.blocks
	ch <- c.bytes
	ch <- c.hits
	ch <- c.misses
	ch <- c.writes
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(s.Objects))
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.Blocks))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.CleanBytes), "clean")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.DirtyBytes), "dirty")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.TxBytes), "tx")
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.SyncWrites), "sync")
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.BufferedWrites), "buffered")
}
