package aggregator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the aggregation collectors.
type Metrics struct {
	total    *prometheus.CounterVec
	duration prometheus.Histogram
	size     prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		total: f.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcube_aggregations_total",
			Help: "Aggregations by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphcube_aggregation_duration_seconds",
			Help:    "Aggregation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43m
		}),
		size: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphcube_cuboid_size",
			Help:    "Element count of aggregated cuboids",
			Buckets: prometheus.ExponentialBuckets(1, 10, 10),
		}),
	}
}

// Instrumented records Metrics around another Aggregator.
type Instrumented struct {
	inner   Aggregator
	metrics *Metrics
}

// Instrument wraps inner.
func Instrument(inner Aggregator, m *Metrics) *Instrumented {
	return &Instrumented{inner: inner, metrics: m}
}

// Aggregate delegates and records the outcome.
func (a *Instrumented) Aggregate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := a.inner.Aggregate(ctx, req)
	a.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil || res.Size < 0 {
		a.metrics.total.WithLabelValues("error").Inc()
		return res, err
	}
	a.metrics.total.WithLabelValues("ok").Inc()
	a.metrics.size.Observe(float64(res.Size))
	return res, nil
}
