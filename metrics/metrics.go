// Package metrics exposes Prometheus counters for the ingestion pipeline.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	PagesFetched   *prometheus.CounterVec
	Records        *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec
	GeocodeLookups *prometheus.CounterVec
	SyncOffset     prometheus.Gauge
	PageDuration   prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mls_ingest",
			Name:      "pages_fetched_total",
			Help:      "Upstream listing pages fetched",
		},
		[]string{"mode", "result"},
	)
	c.Records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mls_ingest",
			Name:      "records_total",
			Help:      "Listing records processed by outcome",
		},
		[]string{"outcome"},
	)
	c.SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mls_ingest",
			Name:      "sync_runs_total",
			Help:      "Sync runs by mode and result",
		},
		[]string{"mode", "result"},
	)
	c.GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mls_ingest",
			Name:      "geocode_lookups_total",
			Help:      "Geocode lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	c.SyncOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mls_ingest",
		Name:      "sync_offset",
		Help:      "Current batch offset of the running sync",
	})
	c.PageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mls_ingest",
		Name:      "page_duration_seconds",
		Help:      "Time to fetch and process one page",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	c.registry.MustRegister(
		c.PagesFetched,
		c.Records,
		c.SyncRuns,
		c.GeocodeLookups,
		c.SyncOffset,
		c.PageDuration,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) ObservePage(mode, result string, seconds float64) {
	if c == nil {
		return
	}
	c.PagesFetched.WithLabelValues(mode, result).Inc()
	c.PageDuration.Observe(seconds)
}

func (c *Collector) ObserveRecord(outcome string) {
	if c == nil {
		return
	}
	c.Records.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveRun(mode, result string) {
	if c == nil {
		return
	}
	c.SyncRuns.WithLabelValues(mode, result).Inc()
}

// ObserveGeocode satisfies geocode.Recorder.
func (c *Collector) ObserveGeocode(provider, outcome string) {
	if c == nil {
		return
	}
	c.GeocodeLookups.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) SetOffset(offset int) {
	if c == nil {
		return
	}
	c.SyncOffset.Set(float64(offset))
}

// Handler serves the private registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
