// Package metrics registers the Prometheus instruments for the cloud service
// and the edge collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Server holds the cloud-side instruments.
type Server struct {
	EventsIngested  *prometheus.CounterVec
	EventsDuplicate *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	BulkBatchSize   prometheus.Histogram
	IngestDuration  prometheus.Histogram
	QueryDuration   *prometheus.HistogramVec
	Heartbeats      *prometheus.CounterVec
}

// NewServer creates and registers the cloud metrics.
func NewServer() *Server {
	return &Server{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storepulse_events_ingested_total",
				Help: "Events accepted into the events table",
			},
			[]string{"store_id", "type"},
		),
		EventsDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storepulse_events_duplicate_total",
				Help: "Events silently absorbed by event_id dedup",
			},
			[]string{"store_id"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storepulse_events_rejected_total",
				Help: "Events rejected at validation or scope checks",
			},
			[]string{"reason"},
		),
		BulkBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storepulse_bulk_batch_size",
				Help:    "Events per bulk request",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
			},
		),
		IngestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storepulse_ingest_duration_seconds",
				Help:    "Bulk request handling time",
				Buckets: prometheus.DefBuckets,
			},
		),
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storepulse_query_duration_seconds",
				Help:    "Analytics query handling time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Heartbeats: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storepulse_heartbeats_total",
				Help: "Edge heartbeats received",
			},
			[]string{"store_id"},
		),
	}
}

// Edge holds the collector-side instruments, exposed on the edge debug port.
type Edge struct {
	BatchFlushSeconds prometheus.Histogram
	BatchesSpooled    prometheus.Counter
	SpoolReplayed     prometheus.Counter
}

// NewEdge creates and registers the edge metrics.
func NewEdge() *Edge {
	return &Edge{
		BatchFlushSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storepulse_edge_batch_flush_seconds",
				Help:    "Time to deliver one batch including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		BatchesSpooled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storepulse_edge_batches_spooled_total",
				Help: "Batches written to the disk spool after retry exhaustion",
			},
		),
		SpoolReplayed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storepulse_edge_spool_replayed_total",
				Help: "Events replayed from the disk spool",
			},
		),
	}
}

// BatchFlushed implements pipeline.Observer.
func (e *Edge) BatchFlushed(n int, elapsed time.Duration) {
	e.BatchFlushSeconds.Observe(elapsed.Seconds())
}

// BatchSpooled implements pipeline.Observer.
func (e *Edge) BatchSpooled(n int) {
	e.BatchesSpooled.Inc()
}

// SpoolDrained implements pipeline.Observer.
func (e *Edge) SpoolDrained(n int) {
	e.SpoolReplayed.Add(float64(n))
}
