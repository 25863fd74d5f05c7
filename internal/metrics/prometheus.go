package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integrity_import_duration_seconds",
			Help:    "Import batch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"policy"},
	)

	ImportTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_import_total",
			Help: "Total number of import batches processed",
		},
		[]string{"status"},
	)

	RowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_rows_processed_total",
			Help: "Rows processed per source and outcome",
		},
		[]string{"source", "outcome"},
	)

	RowErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_row_errors_total",
			Help: "Soft row errors per kind",
		},
		[]string{"kind"},
	)

	Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_classifications_total",
			Help: "Events classified per strategy and label",
		},
		[]string{"strategy", "label"},
	)

	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "integrity_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	TrainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_training_runs_total",
			Help: "Training runs per outcome",
		},
		[]string{"outcome"},
	)

	ModelF1Macro = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "integrity_model_f1_macro",
			Help: "Held-out macro F1 of the active model",
		},
	)

	ModelAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "integrity_model_accuracy",
			Help: "Held-out accuracy of the active model",
		},
	)

	ActiveStrategy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "integrity_active_strategy",
			Help: "1 for the classifier strategy currently serving predictions",
		},
		[]string{"strategy"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	PendingAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "integrity_pending_assets",
			Help: "Assets waiting for coordinates",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ImportDuration)
		prometheus.MustRegister(ImportTotal)
		prometheus.MustRegister(RowsProcessed)
		prometheus.MustRegister(RowErrors)
		prometheus.MustRegister(Classifications)
		prometheus.MustRegister(TrainingDuration)
		prometheus.MustRegister(TrainingRuns)
		prometheus.MustRegister(ModelF1Macro)
		prometheus.MustRegister(ModelAccuracy)
		prometheus.MustRegister(ActiveStrategy)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(PendingAssets)
	})
}

func SetActiveStrategy(strategy string) {
	ActiveStrategy.Reset()
	ActiveStrategy.WithLabelValues(strategy).Set(1)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
