// Package observability provides Prometheus metrics for the collector.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "ohlcv_collector"

// Backfill results.
const (
	BackfillHit   = "hit"
	BackfillMiss  = "miss"
	BackfillError = "error"
)

// Metrics holds all Prometheus metrics for the collector.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	TicksAppended *prometheus.CounterVec
	TicksRejected *prometheus.CounterVec
	Backfills     *prometheus.CounterVec
	// Appends that had to backfill again after retention pruned a bucket.
	BackfillRetries prometheus.Counter

	// Store
	BucketsInMemory prometheus.Gauge

	// Flush
	FlushDuration       prometheus.Histogram
	FlushedCandles      prometheus.Counter
	FlushFailures       prometheus.Counter
	PrunedBuckets       prometheus.Counter
	LastSuccessfulFlush prometheus.Gauge
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TicksAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_appended_total",
			Help:      "Ticks applied to the candle store",
		}, []string{"instrument"}),
		TicksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_rejected_total",
			Help:      "Ticks that could not be applied",
		}, []string{"reason"}),
		Backfills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "backfills_total",
			Help:      "Backfill reads on first touch of a bucket",
		}, []string{"result"}),
		BackfillRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "backfill_retries_total",
			Help:      "Appends retried because retention pruned a bucket after backfill",
		}),
		BucketsInMemory: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "buckets",
			Help:      "Candle buckets held in memory",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "duration_seconds",
			Help:      "Duration of flush cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		FlushedCandles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "candles_total",
			Help:      "Candles written to durable storage",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "failures_total",
			Help:      "Flush cycles that failed to persist",
		}),
		PrunedBuckets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "pruned_buckets_total",
			Help:      "Buckets dropped from memory by retention",
		}),
		LastSuccessfulFlush: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful flush",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
