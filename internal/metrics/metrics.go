package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application. A nil *Registry is valid
// and records nothing.
type Registry struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Search sessions
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	CacheHitsTotal  prometheus.Counter
	ActiveSearches  prometheus.Gauge
	EarlyStopsTotal *prometheus.CounterVec

	// Pagination
	PagesFetchedTotal  prometheus.Counter
	PageRetriesTotal   prometheus.Counter
	PageFailuresTotal  prometheus.Counter
	RecordsStoredTotal prometheus.Counter

	// Analysis
	GraphNodes       prometheus.Histogram
	PatternsDetected *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelink_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracelink_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.SearchesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelink_searches_total",
		Help: "Search sessions by outcome",
	}, []string{"status"})
	r.SearchDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracelink_search_duration_seconds",
		Help:    "Wall time of a search session",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	r.CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "tracelink_cache_hits_total",
		Help: "Searches answered from the response cache",
	})
	r.ActiveSearches = f.NewGauge(prometheus.GaugeOpts{
		Name: "tracelink_active_searches",
		Help: "Search sessions currently running",
	})
	r.EarlyStopsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelink_early_stops_total",
		Help: "Pagination chains ended before the server said so",
	}, []string{"reason"})

	r.PagesFetchedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "tracelink_pages_fetched_total",
		Help: "Search API pages fetched successfully",
	})
	r.PageRetriesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "tracelink_page_retries_total",
		Help: "Search API page fetch retries",
	})
	r.PageFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "tracelink_page_failures_total",
		Help: "Page fetches that exhausted their retries",
	})
	r.RecordsStoredTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "tracelink_records_stored_total",
		Help: "Distinct records added to cross-reference stores",
	})

	r.GraphNodes = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracelink_graph_nodes",
		Help:    "Node count of built knowledge graphs",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	r.PatternsDetected = f.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelink_patterns_detected_total",
		Help: "Detected patterns by type",
	}, []string{"type"})

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSearch records a finished search session
func (r *Registry) RecordSearch(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.SearchesTotal.WithLabelValues(status).Inc()
	r.SearchDuration.Observe(duration.Seconds())
}

// SearchStarted tracks a running session; call the returned func when it ends
func (r *Registry) SearchStarted() func() {
	if r == nil {
		return func() {}
	}
	r.ActiveSearches.Inc()
	return r.ActiveSearches.Dec
}

// RecordCacheHit counts a search answered from cache
func (r *Registry) RecordCacheHit() {
	if r == nil {
		return
	}
	r.CacheHitsTotal.Inc()
}

// RecordPage counts one successfully fetched page
func (r *Registry) RecordPage() {
	if r == nil {
		return
	}
	r.PagesFetchedTotal.Inc()
}

// RecordRetry counts one page retry
func (r *Registry) RecordRetry() {
	if r == nil {
		return
	}
	r.PageRetriesTotal.Inc()
}

// RecordPageFailure counts one page that exhausted its retries
func (r *Registry) RecordPageFailure() {
	if r == nil {
		return
	}
	r.PageFailuresTotal.Inc()
}

// RecordStored counts newly stored distinct records
func (r *Registry) RecordStored(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RecordsStoredTotal.Add(float64(n))
}

// RecordEarlyStop counts a pagination chain cut short
func (r *Registry) RecordEarlyStop(reason string) {
	if r == nil {
		return
	}
	r.EarlyStopsTotal.WithLabelValues(reason).Inc()
}

// RecordAnalysis records graph size and pattern counts of one session
func (r *Registry) RecordAnalysis(nodes int, patternsByType map[string]int) {
	if r == nil {
		return
	}
	r.GraphNodes.Observe(float64(nodes))
	for t, n := range patternsByType {
		r.PatternsDetected.WithLabelValues(t).Add(float64(n))
	}
}
