package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts rows and batches handled by a Service.
type Metrics struct {
	RowsProcessed prometheus.Counter
	RowsInserted  prometheus.Counter
	RowsFailed    prometheus.Counter
	Batches       *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_rows_processed_total",
			Help: "Rows run through the enrichment pipeline.",
		}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_rows_inserted_total",
			Help: "Enriched rows stored successfully.",
		}),
		RowsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_rows_failed_total",
			Help: "Enriched rows whose insert failed.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_batches_total",
			Help: "Batches processed, by source.",
		}, []string{"source"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enrich_batch_duration_seconds",
			Help:    "Time to enrich and store one batch, by source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}
	reg.MustRegister(m.RowsProcessed, m.RowsInserted, m.RowsFailed, m.Batches, m.BatchDuration)
	return m
}
