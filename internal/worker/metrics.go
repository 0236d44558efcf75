package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry                *prometheus.Registry
	runsTotal               *prometheus.CounterVec
	runDuration             *prometheus.HistogramVec
	activeRuns              prometheus.Gauge
	renditionsTotal         *prometheus.CounterVec
	failuresTotal           *prometheus.CounterVec
	retriesScheduledTotal   prometheus.Counter
	bytesPublishedTotal     prometheus.Counter
	pixelsRenderedTotal     prometheus.Counter
	sourceBytesFetchedTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rendition_worker_runs_total",
			Help: "Total trigger events processed by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rendition_worker_run_duration_seconds",
			Help:    "Processing duration of each trigger event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rendition_worker_active_runs",
			Help: "Current number of trigger events being processed.",
		}),
		renditionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rendition_worker_renditions_total",
			Help: "Renditions attempted by label and outcome.",
		}, []string{"label", "status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rendition_worker_failures_total",
			Help: "Failed sources and renditions by error kind.",
		}, []string{"kind"}),
		retriesScheduledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendition_worker_retries_scheduled_total",
			Help: "Follow-up tasks enqueued for retryable failures.",
		}),
		bytesPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendition_worker_bytes_published_total",
			Help: "Total encoded bytes written to destination locations.",
		}),
		pixelsRenderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendition_worker_pixels_rendered_total",
			Help: "Total output pixels across published renditions.",
		}),
		sourceBytesFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendition_worker_source_bytes_fetched_total",
			Help: "Total source bytes fetched.",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.renditionsTotal,
		m.failuresTotal,
		m.retriesScheduledTotal,
		m.bytesPublishedTotal,
		m.pixelsRenderedTotal,
		m.sourceBytesFetchedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
