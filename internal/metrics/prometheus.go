package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Serving metrics
	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demeter_predictions_total",
			Help: "Total number of predictions served",
		},
		[]string{"model_version", "status"}, // status: success|error
	)

	PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demeter_prediction_duration_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"model_version"},
	)

	// Registry metrics
	ModelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demeter_model_loads_total",
			Help: "Total number of model artifact loads",
		},
		[]string{"format", "status"}, // format: gob|onnx
	)

	ModelsRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demeter_models_registered_total",
			Help: "Total number of model versions registered",
		},
		[]string{"model_type"},
	)

	// Backfill metrics
	BackfillProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demeter_backfill_processed_total",
			Help: "Total number of backfill records processed",
		},
		[]string{"status"}, // status: success|error
	)

	BackfillBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "demeter_backfill_batch_duration_seconds",
			Help:    "Backfill batch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(
		Predictions,
		PredictionDuration,
		ModelLoads,
		ModelsRegistered,
		BackfillProcessed,
		BackfillBatchDuration,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
