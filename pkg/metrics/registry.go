// Package metrics provides the Prometheus implementations of the metrics
// sinks used by the file cache, the object cache and the grant driver.
//
// Every constructor takes a prometheus.Registerer. Passing nil returns a nil
// sink, and every method is safe to call on a nil receiver, so callers that
// run without metrics pay nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by this package.
const Namespace = "fcache"

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so a second constructor call on one registry
// keeps exporting the original series. Panics on any other failure.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func counterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	opts.Namespace = Namespace
	return registerOrReuse(reg, prometheus.NewCounterVec(opts, labels)).(*prometheus.CounterVec)
}

func counter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = Namespace
	return registerOrReuse(reg, prometheus.NewCounter(opts)).(prometheus.Counter)
}

func histogramVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	opts.Namespace = Namespace
	return registerOrReuse(reg, prometheus.NewHistogramVec(opts, labels)).(*prometheus.HistogramVec)
}

func histogram(reg prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = Namespace
	return registerOrReuse(reg, prometheus.NewHistogram(opts)).(prometheus.Histogram)
}

func gauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = Namespace
	return registerOrReuse(reg, prometheus.NewGauge(opts)).(prometheus.Gauge)
}

// resultLabel maps an error to the "result" label value.
func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
