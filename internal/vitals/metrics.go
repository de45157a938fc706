package vitals

import "github.com/prometheus/client_golang/prometheus"

var (
	aggregationRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfinsight",
			Name:      "aggregation_rows_total",
			Help:      "Aggregate rows written, by aggregation level.",
		},
		[]string{"level"},
	)
	aggregationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfinsight",
			Name:      "aggregation_errors_total",
			Help:      "Failed aggregation runs, by aggregation level.",
		},
		[]string{"level"},
	)
	aggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perfinsight",
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of successful aggregation runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"level"},
	)
	regressionsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfinsight",
			Name:      "regressions_detected_total",
			Help:      "Regressions reported by the detector.",
		},
		[]string{"metric", "severity"},
	)
)

// RegisterMetrics registers the engine's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(aggregationRowsTotal, aggregationErrorsTotal, aggregationDuration, regressionsDetectedTotal)
}
