package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paperlens_llm_request_duration_seconds",
			Help:    "Structured model request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"operation"},
	)

	LLMRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_llm_request_total",
			Help: "Total structured model requests",
		},
		[]string{"operation", "status"},
	)

	LLMAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_llm_attempts_total",
			Help: "Model attempts made, including retries",
		},
		[]string{"model", "outcome"},
	)

	LLMDowngrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paperlens_llm_downgrades_total",
			Help: "Requests moved from the advanced to the fast model",
		},
	)

	StreamChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paperlens_stream_chunks_total",
			Help: "Text fragments delivered by chat streams",
		},
	)

	StreamTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_stream_total",
			Help: "Chat streams by outcome",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_documents_processed_total",
			Help: "Total documents parsed",
		},
		[]string{"format", "status"},
	)

	TabLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperlens_tab_loads_total",
			Help: "Analysis tab loads by outcome",
		},
		[]string{"tab", "status"},
	)

	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paperlens_quality_score",
			Help:    "Overall evaluation quality score",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paperlens_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paperlens_active_sessions",
			Help: "Open paper sessions",
		},
	)
)

func Init() {
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMRequestTotal)
	prometheus.MustRegister(LLMAttempts)
	prometheus.MustRegister(LLMDowngrades)
	prometheus.MustRegister(StreamChunks)
	prometheus.MustRegister(StreamTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(TabLoads)
	prometheus.MustRegister(QualityScore)
	prometheus.MustRegister(CircuitState)
	prometheus.MustRegister(ActiveSessions)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
