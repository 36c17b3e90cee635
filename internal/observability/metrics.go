package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the hub's Prometheus registry and all registered series.
// A private registry keeps the /metrics output free of whatever the
// default global registry accumulates.
type Metrics struct {
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	upstreamsTotal prometheus.Gauge
	upstreamsReady prometheus.Gauge
	upstreamState  *prometheus.CounterVec

	catalogVersion prometheus.Gauge
	toolsTotal     prometheus.Gauge

	scopeServers   prometheus.Gauge
	sessionsActive prometheus.Gauge

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec

	smartSearches      *prometheus.CounterVec
	smartSearchSeconds prometheus.Histogram
	embedderRequests   *prometheus.CounterVec
	indexedVectors     prometheus.Gauge

	storageOps *prometheus.CounterVec

	settingsReloads *prometheus.CounterVec
}

// NewMetrics builds and registers every hub metric.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_uptime_seconds",
		Help: "Time since the hub started",
	})

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_http_requests_total",
			Help: "HTTP requests served, by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	m.upstreamsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_upstreams_total",
		Help: "Configured upstream servers",
	})
	m.upstreamsReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_upstreams_ready",
		Help: "Upstream servers in the ready state",
	})
	m.upstreamState = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_upstream_state_changes_total",
			Help: "Upstream state transitions",
		},
		[]string{"upstream", "state"},
	)

	m.catalogVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_catalog_version",
		Help: "Monotonic version of the aggregated tool catalog",
	})
	m.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_tools_total",
		Help: "Tools in the aggregated catalog",
	})

	m.scopeServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_scope_servers",
		Help: "Live per-scope MCP servers",
	})
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_sessions_active",
		Help: "Live downstream MCP sessions",
	})

	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_tool_calls_total",
			Help: "Tool calls dispatched to upstreams",
		},
		[]string{"upstream", "tool", "status"},
	)
	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_tool_call_duration_seconds",
			Help:    "Tool call duration",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"upstream", "tool", "status"},
	)

	m.smartSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_smart_searches_total",
			Help: "Similarity searches served by the smart scope",
		},
		[]string{"status"},
	)
	m.smartSearchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcphub_smart_search_duration_seconds",
		Help:    "Similarity search duration including embedding",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	m.embedderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_embedder_requests_total",
			Help: "Embedding provider requests",
		},
		[]string{"provider", "status"},
	)
	m.indexedVectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_indexed_vectors",
		Help: "Tool embeddings held by the vector index",
	})

	m.storageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_storage_operations_total",
			Help: "BoltDB storage operations",
		},
		[]string{"operation", "status"},
	)

	m.settingsReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_settings_reloads_total",
			Help: "Settings snapshot replacements, by source",
		},
		[]string{"source"},
	)

	m.registry.MustRegister(
		m.uptime,
		m.httpRequests,
		m.httpDuration,
		m.upstreamsTotal,
		m.upstreamsReady,
		m.upstreamState,
		m.catalogVersion,
		m.toolsTotal,
		m.scopeServers,
		m.sessionsActive,
		m.toolCalls,
		m.toolDuration,
		m.smartSearches,
		m.smartSearchSeconds,
		m.embedderRequests,
		m.indexedVectors,
		m.storageOps,
		m.settingsReloads,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetUptime(startTime time.Time) {
	m.uptime.Set(time.Since(startTime).Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

func (m *Metrics) SetUpstreamStats(total, ready int) {
	m.upstreamsTotal.Set(float64(total))
	m.upstreamsReady.Set(float64(ready))
}

func (m *Metrics) RecordUpstreamStateChange(upstream, state string) {
	m.upstreamState.WithLabelValues(upstream, state).Inc()
}

func (m *Metrics) SetCatalogStats(version uint64, tools int) {
	m.catalogVersion.Set(float64(version))
	m.toolsTotal.Set(float64(tools))
}

func (m *Metrics) SetSessionStats(scopeServers, sessions int) {
	m.scopeServers.Set(float64(scopeServers))
	m.sessionsActive.Set(float64(sessions))
}

func (m *Metrics) RecordToolCall(upstream, tool string, err error, duration time.Duration) {
	status := statusLabel(err)
	m.toolCalls.WithLabelValues(upstream, tool, status).Inc()
	m.toolDuration.WithLabelValues(upstream, tool, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordSmartSearch(err error, duration time.Duration) {
	m.smartSearches.WithLabelValues(statusLabel(err)).Inc()
	m.smartSearchSeconds.Observe(duration.Seconds())
}

func (m *Metrics) RecordEmbedderRequest(provider string, err error) {
	m.embedderRequests.WithLabelValues(provider, statusLabel(err)).Inc()
}

func (m *Metrics) SetIndexedVectors(count int) {
	m.indexedVectors.Set(float64(count))
}

func (m *Metrics) RecordStorageOperation(operation string, err error) {
	m.storageOps.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Metrics) RecordSettingsReload(source string) {
	m.settingsReloads.WithLabelValues(source).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// HTTPMiddleware records request counts and latency. The route label uses
// the raw path; callers behind a router should normalize it first.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, ww.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE streams through the middleware wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
