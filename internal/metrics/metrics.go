package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup satisfied the request from cache.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no usable cached data was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to a backend error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache write.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the write failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// GenerationOutcome captures how a generation call concluded.
type GenerationOutcome string

const (
	// GenerationOK indicates the collaborator returned a batch.
	GenerationOK GenerationOutcome = "ok"
	// GenerationTimeout indicates the request deadline elapsed.
	GenerationTimeout GenerationOutcome = "timeout"
	// GenerationError indicates any other collaborator failure.
	GenerationError GenerationOutcome = "error"
)

// TokenDecodeOutcome captures how decoding a configuration token concluded.
type TokenDecodeOutcome string

const (
	// TokenDecodeOK indicates the token decoded and validated.
	TokenDecodeOK TokenDecodeOutcome = "ok"
	// TokenDecodeInvalidToken indicates structural or authentication failure.
	TokenDecodeInvalidToken TokenDecodeOutcome = "invalid_token"
	// TokenDecodeInvalidConfig indicates field validation failure.
	TokenDecodeInvalidConfig TokenDecodeOutcome = "invalid_config"
)

// Recorder publishes Prometheus metrics for catalog activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	generationLatency *prometheus.HistogramVec

	tokenDecodes *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "catalog",
		Name:      "requests_total",
		Help:      "Total addon requests processed.",
	}, []string{"resource", "content_type", "status_code"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "companion",
		Subsystem: "catalog",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed addon requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
	}, []string{"resource", "content_type"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Catalog cache operations executed.",
	}, []string{"scope", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "companion",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for catalog cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"scope", "operation", "result"})

	generationLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "companion",
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "Latency distribution for generation collaborator calls.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"content_type", "outcome"})

	tokenDecodes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "token",
		Name:      "decodes_total",
		Help:      "Configuration token decode attempts by outcome.",
	}, []string{"outcome"})

	reg.MustRegister(requests, requestLatency, cacheOperations, cacheLatency, generationLatency, tokenDecodes)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		requests:          requests,
		requestLatency:    requestLatency,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		generationLatency: generationLatency,
		tokenDecodes:      tokenDecodes,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the status and latency of a completed addon request.
func (r *Recorder) ObserveRequest(resource, contentType string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(normalizeLabel(resource), normalizeLabel(contentType), statusLabel).Inc()
	r.requestLatency.WithLabelValues(normalizeLabel(resource), normalizeLabel(contentType)).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache read for a scope
// ("feed" or "search").
func (r *Recorder) ObserveCacheLookup(scope string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(scope, "lookup", resultLabel, duration)
}

// ObserveCacheStore records the result of a cache write.
func (r *Recorder) ObserveCacheStore(scope string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(scope, "store", resultLabel, duration)
}

// ObserveGeneration records one generation collaborator call.
func (r *Recorder) ObserveGeneration(contentType string, outcome GenerationOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.generationLatency.WithLabelValues(normalizeLabel(contentType), normalizeLabel(string(outcome))).Observe(duration.Seconds())
}

// ObserveTokenDecode records one token decode attempt.
func (r *Recorder) ObserveTokenDecode(outcome TokenDecodeOutcome) {
	if r == nil {
		return
	}
	r.tokenDecodes.WithLabelValues(normalizeLabel(string(outcome))).Inc()
}

func (r *Recorder) observeCache(scope, operation, result string, duration time.Duration) {
	scopeLabel := normalizeLabel(scope)
	resultLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(scopeLabel, operation, resultLabel).Inc()
	r.cacheLatency.WithLabelValues(scopeLabel, operation, resultLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
