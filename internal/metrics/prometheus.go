// Package metrics observes the extraction cascade and the retrieval
// pipeline. The Collector is the injected per-pipeline event sink; the
// prometheus variables below mirror its counters for scraping.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CascadeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_cascade_attempts_total",
			Help: "Extraction attempts by rank and outcome",
		},
		[]string{"rank", "outcome"},
	)

	CascadeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_cascade_fallbacks_total",
			Help: "Fallback transitions between ranks",
		},
		[]string{"from_rank", "to_rank"},
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgforge_attempt_latency_seconds",
			Help:    "Extraction attempt latency by rank",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"rank"},
	)

	TokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_llm_tokens_total",
			Help: "Model tokens consumed by rank and type",
		},
		[]string{"rank", "type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_documents_processed_total",
			Help: "Documents ingested by status",
		},
		[]string{"status"},
	)

	WindowsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgforge_windows_processed_total",
			Help: "Context windows run through the cascade",
		},
	)

	EntitiesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgforge_entities_persisted_total",
			Help: "Entities upserted into the graph",
		},
	)

	RelationsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kgforge_relations_persisted_total",
			Help: "Relations upserted into the graph",
		},
	)

	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgforge_retrieval_duration_seconds",
			Help:    "Retrieval query duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgforge_retrieval_results_count",
			Help:    "Hits returned per retrieval query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_cache_hits_total",
			Help: "Cache hits by cache type",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgforge_cache_misses_total",
			Help: "Cache misses by cache type",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(CascadeAttempts)
	prometheus.MustRegister(CascadeFallbacks)
	prometheus.MustRegister(AttemptLatency)
	prometheus.MustRegister(TokensUsed)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(WindowsProcessed)
	prometheus.MustRegister(EntitiesPersisted)
	prometheus.MustRegister(RelationsPersisted)
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RetrievalResults)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
