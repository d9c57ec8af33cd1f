package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every collector of this service.
const Namespace = "vecdex_ingest"

// Batch outcome label values.
const (
	OutcomeOK               = "ok"
	OutcomeEmpty            = "empty"
	OutcomeStoreUnavailable = "store_unavailable"
)

// Ingest Prometheus metrics.
var (
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_total",
			Help:      "Total number of processed batches by outcome",
		},
		[]string{"outcome"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Total number of records by result",
		},
		[]string{"result"}, // indexed, parse_error, malformed_key, missing_field, store_write_error
	)

	BulkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "bulk_duration_seconds",
			Help:      "Bulk write duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_size",
			Help:      "Number of messages per processed batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dead_letter_total",
			Help:      "Dead-letter publish attempts by status",
		},
		[]string{"status"}, // "ok" / "error"
	)
)

var ingestMetricsRegistered bool

// RegisterIngestMetrics registers Prometheus ingest metrics. Must be called once from main.
func RegisterIngestMetrics() {
	if ingestMetricsRegistered {
		return
	}
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(BulkDuration)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(DeadLetterTotal)
	ingestMetricsRegistered = true
}
