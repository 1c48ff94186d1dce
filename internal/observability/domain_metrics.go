package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetquery_questions_total",
			Help: "Total number of questions by terminal state and failure class.",
		},
		[]string{"state", "class"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetquery_generation_latency_ms",
			Help:    "Latency of text generation calls in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider", "outcome"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetquery_query_latency_ms",
			Help:    "Latency of sanitized statement execution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	sanitizerRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetquery_sanitizer_rejections_total",
			Help: "Total number of generated responses with no usable statement.",
		},
	)
	repairAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetquery_repair_attempts_total",
			Help: "Total number of regenerations after an execution error.",
		},
	)
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetquery_dataset_loads_total",
			Help: "Total number of dataset uploads by status.",
		},
		[]string{"status"},
	)
	datasetRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetquery_dataset_rows",
			Help:    "Row counts of loaded datasets.",
			Buckets: prometheus.ExponentialBuckets(10, 10, 7),
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheetquery_active_sessions",
			Help: "Current number of live sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		generationLatencyMs,
		queryLatencyMs,
		sanitizerRejectionsTotal,
		repairAttemptsTotal,
		datasetLoadsTotal,
		datasetRows,
		activeSessions,
	)
}

// ObserveQuestion records the terminal state of one question. class is empty
// for executed questions.
func ObserveQuestion(state, class string) {
	questionsTotal.WithLabelValues(state, class).Inc()
}

func ObserveGeneration(provider string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	generationLatencyMs.WithLabelValues(provider, outcome).Observe(float64(elapsed.Milliseconds()))
}

func ObserveQuery(elapsed time.Duration) {
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementSanitizerRejections() {
	sanitizerRejectionsTotal.Inc()
}

func IncrementRepairAttempts() {
	repairAttemptsTotal.Inc()
}

func ObserveDatasetLoad(rows int, err error) {
	if err != nil {
		datasetLoadsTotal.WithLabelValues("failed").Inc()
		return
	}
	datasetLoadsTotal.WithLabelValues("loaded").Inc()
	datasetRows.Observe(float64(rows))
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
