package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cursor_usage"

// Metrics owns a private registry so tests can create as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	pageDuration   prometheus.Histogram
	eventsFetched  prometheus.Counter
	eventsAdded    prometheus.Counter
	eventsUpdated  prometheus.Counter
	eventsDropped  prometheus.Counter
	reconcileFails *prometheus.CounterVec
	pageSize       prometheus.Gauge
	datasetEvents  prometheus.Gauge
	lastSuccess    prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	latencyBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30}
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collect_cycles_total",
			Help:      "Collection cycles by strategy and result.",
		}, []string{"strategy", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_cycle_duration_seconds",
			Help:      "Duration of a full collection cycle.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_page_duration_seconds",
			Help:      "Round trip of one usage events page.",
			Buckets:   latencyBuckets,
		}),
		eventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "Raw vendor events received.",
		}),
		eventsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_added_total",
			Help:      "Events appended to the dataset.",
		}),
		eventsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_updated_total",
			Help:      "Stored events replaced after a vendor-side change.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Raw records the normalizer could not interpret.",
		}),
		reconcileFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failures_total",
			Help:      "Reconciliation passes abandoned, by step.",
		}, []string{"step"}),
		pageSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_page_size",
			Help:      "Current adaptive page size.",
		}),
		datasetEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_events",
			Help:      "Events in the persisted dataset.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dashboard HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Dashboard HTTP request latency.",
			Buckets:   latencyBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.cycles, m.cycleDuration, m.pageDuration,
		m.eventsFetched, m.eventsAdded, m.eventsUpdated, m.eventsDropped,
		m.reconcileFails, m.pageSize, m.datasetEvents, m.lastSuccess,
		m.httpRequests, m.httpLatency,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func (m *Metrics) ObserveCycle(strategy, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(strategy, result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if result == "ok" || result == "noop" {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) ObservePage(latency time.Duration, events, nextSize int) {
	if m == nil {
		return
	}
	m.pageDuration.Observe(latency.Seconds())
	m.eventsFetched.Add(float64(events))
	m.pageSize.Set(float64(nextSize))
}

func (m *Metrics) ObserveMerge(added, updated, total int) {
	if m == nil {
		return
	}
	m.eventsAdded.Add(float64(added))
	m.eventsUpdated.Add(float64(updated))
	m.datasetEvents.Set(float64(total))
}

func (m *Metrics) DroppedEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDropped.Add(float64(n))
}

func (m *Metrics) ReconcileFailed(step string) {
	if m == nil {
		return
	}
	m.reconcileFails.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}
