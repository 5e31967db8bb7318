package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ev_agent_query_duration_seconds",
			Help:    "End-to-end query handling duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)

	RouteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ev_agent_route_total",
			Help: "Routing decisions by route and deciding stage",
		},
		[]string{"route", "stage"},
	)

	RouteFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ev_agent_route_fallback_total",
			Help: "Classifier failures degraded to the CHAT route",
		},
	)

	IndexChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ev_agent_index_chunks_total",
			Help: "Chunks held by the in-memory vector index",
		},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ev_agent_retrieval_results_count",
			Help:    "Number of chunks retrieved per query",
			Buckets: []float64{0, 1, 2, 4, 6, 8, 12},
		},
	)

	JudgeScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ev_agent_judge_score",
			Help:    "Judge accuracy scores on the 0-5 rubric",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	JudgeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ev_agent_judge_failures_total",
			Help: "Judge calls degraded to a zero score",
		},
	)

	HistoryAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ev_agent_history_appends_total",
			Help: "History record mutations by kind",
		},
		[]string{"op"},
	)

	EvaluationRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ev_agent_evaluation_runs_total",
			Help: "Completed batch evaluation runs",
		},
	)

	EvaluationCasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ev_agent_evaluation_cases_total",
			Help: "Evaluated test cases by outcome",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ev_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ev_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(RouteTotal)
	prometheus.MustRegister(RouteFallbackTotal)
	prometheus.MustRegister(IndexChunksTotal)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(JudgeScores)
	prometheus.MustRegister(JudgeFailuresTotal)
	prometheus.MustRegister(HistoryAppendsTotal)
	prometheus.MustRegister(EvaluationRunsTotal)
	prometheus.MustRegister(EvaluationCasesTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
