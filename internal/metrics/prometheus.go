package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "covermap_run_duration_seconds",
			Help:    "Matching run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covermap_runs_total",
			Help: "Total matching runs by outcome",
		},
		[]string{"status"},
	)

	CandidatesScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_candidates_scored_total",
			Help: "Total candidate controls scored",
		},
	)

	ScorerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_scorer_failures_total",
			Help: "Total per-candidate scorer failures",
		},
	)

	MappingsProposed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_mappings_proposed_total",
			Help: "Total automated mappings created or refreshed by runs",
		},
	)

	MappingsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_mappings_pruned_total",
			Help: "Total automated mappings removed by runs",
		},
	)

	ManualEdits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covermap_manual_edits_total",
			Help: "Total manual mapping edits",
		},
		[]string{"operation"},
	)

	ScoreCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_score_cache_hits_total",
			Help: "Total score cache hits",
		},
	)

	ScoreCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_score_cache_misses_total",
			Help: "Total score cache misses",
		},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covermap_document_versions_ingested_total",
			Help: "Total document versions ingested",
		},
	)
)

func Init() {
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(CandidatesScored)
	prometheus.MustRegister(ScorerFailures)
	prometheus.MustRegister(MappingsProposed)
	prometheus.MustRegister(MappingsPruned)
	prometheus.MustRegister(ManualEdits)
	prometheus.MustRegister(ScoreCacheHits)
	prometheus.MustRegister(ScoreCacheMisses)
	prometheus.MustRegister(DocumentsIngested)
}

func ObserveRun(elapsed time.Duration, err error) {
	RunDuration.Observe(elapsed.Seconds())

	status := "ok"
	if err != nil {
		status = "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	RunsTotal.WithLabelValues(status).Inc()
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
