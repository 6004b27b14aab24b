package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsmesh"

// Health states reported by Status.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

type Metrics struct {
	mu       sync.RWMutex
	registry *prometheus.Registry

	sourcesAttempted   prometheus.Counter
	sourcesSucceeded   prometheus.Counter
	fetchAttempts      *prometheus.CounterVec
	articlesNormalized prometheus.Counter
	duplicatesFiltered prometheus.Counter
	searches           *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	corpusSize         prometheus.Gauge
	enrichments        *prometheus.CounterVec

	// Counters
	TotalCycles        int64
	ArticlesNormalized int64
	DuplicatesFiltered int64
	SearchesServed     int64
	ImagesEnriched     int64

	// Last cycle
	LastAttempted int
	LastSucceeded int
	CorpusSize    int

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

// New creates a Metrics with its own Prometheus registry so tests and
// multiple services never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		IsHealthy: true,
		sourcesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sources_attempted_total",
			Help: "Sources attempted across all aggregation cycles.",
		}),
		sourcesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sources_succeeded_total",
			Help: "Sources that yielded a usable feed.",
		}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_attempts_total",
			Help: "Individual retrieval attempts by kind (direct or relay) and outcome.",
		}, []string{"kind", "outcome"}),
		articlesNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "articles_normalized_total",
			Help: "Articles admitted by the normalizer.",
		}),
		duplicatesFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_filtered_total",
			Help: "Articles discarded as duplicates.",
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "searches_total",
			Help: "Searches served by mode.",
		}, []string{"mode"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Duration of full aggregation cycles.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		corpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "corpus_size",
			Help: "Articles in the currently published corpus.",
		}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "enrich_total",
			Help: "Image enrichment attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.sourcesAttempted, m.sourcesSucceeded, m.fetchAttempts,
		m.articlesNormalized, m.duplicatesFiltered, m.searches,
		m.cycleDuration, m.corpusSize, m.enrichments,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordFetchAttempt(kind, outcome string) {
	m.fetchAttempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AddArticlesNormalized(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesNormalized += int64(n)
	m.articlesNormalized.Add(float64(n))
}

func (m *Metrics) AddDuplicatesFiltered(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered += int64(n)
	m.duplicatesFiltered.Add(float64(n))
}

func (m *Metrics) IncrementSearches(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchesServed++
	m.searches.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordEnrichment(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome == "found" {
		m.ImagesEnriched++
	}
	m.enrichments.WithLabelValues(outcome).Inc()
}

// RecordCycle stores the outcome of one aggregation cycle. A cycle where
// nothing succeeded is recorded through SetError instead.
func (m *Metrics) RecordCycle(attempted, succeeded int, duration time.Duration, corpusSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalCycles++
	m.LastAttempted = attempted
	m.LastSucceeded = succeeded
	m.sourcesAttempted.Add(float64(attempted))
	m.sourcesSucceeded.Add(float64(succeeded))

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++
	m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	m.cycleDuration.Observe(duration.Seconds())

	if succeeded > 0 {
		m.CorpusSize = corpusSize
		m.corpusSize.Set(float64(corpusSize))
		m.LastRunTime = time.Now()
		m.IsHealthy = true
	}
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

// Status summarizes the last cycle as ok, degraded or error.
func (m *Metrics) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status()
}

func (m *Metrics) status() string {
	switch {
	case !m.IsHealthy:
		return StatusError
	case m.LastSucceeded < m.LastAttempted:
		return StatusDegraded
	default:
		return StatusOK
	}
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"status":                     m.status(),
		"total_cycles":               m.TotalCycles,
		"articles_normalized":        m.ArticlesNormalized,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"searches_served":            m.SearchesServed,
		"images_enriched":            m.ImagesEnriched,
		"sources_attempted":          m.LastAttempted,
		"sources_succeeded":          m.LastSucceeded,
		"corpus_size":                m.CorpusSize,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
