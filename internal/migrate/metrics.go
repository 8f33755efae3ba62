package migrate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes run progress to Prometheus.
type Metrics struct {
	documentsMigrated *prometheus.CounterVec
	batchesCompleted  *prometheus.CounterVec
	batchesFailed     *prometheus.CounterVec
	collectionsDone   *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	activeWorkers     *prometheus.GaugeVec
}

// NewMetrics registers the engine's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documentsMigrated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecshift_documents_migrated_total",
				Help: "Total number of documents written to the target",
			},
			[]string{"collection"},
		),
		batchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecshift_batches_completed_total",
				Help: "Total number of batches loaded successfully",
			},
			[]string{"collection"},
		),
		batchesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecshift_batches_failed_total",
				Help: "Total number of batches that failed permanently",
			},
			[]string{"collection"},
		),
		collectionsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vecshift_collections_done_total",
				Help: "Total number of collections reaching a terminal state",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vecshift_batch_duration_seconds",
				Help:    "Time to transform and load one batch",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"collection"},
		),
		activeWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vecshift_active_workers",
				Help: "Currently running workers by kind",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.documentsMigrated,
			m.batchesCompleted,
			m.batchesFailed,
			m.collectionsDone,
			m.batchDuration,
			m.activeWorkers,
		)
	}
	return m
}

func (m *Metrics) recordBatch(collection string, docs int, duration time.Duration) {
	m.documentsMigrated.WithLabelValues(collection).Add(float64(docs))
	m.batchesCompleted.WithLabelValues(collection).Inc()
	m.batchDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

func (m *Metrics) recordBatchFailure(collection string) {
	m.batchesFailed.WithLabelValues(collection).Inc()
}

func (m *Metrics) recordCollectionDone(status Status) {
	m.collectionsDone.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) workerGauge(kind string) prometheus.Gauge {
	return m.activeWorkers.WithLabelValues(kind)
}
