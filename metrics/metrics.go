// Package metrics exports what a timing ledger records as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sarchlab/speedmeasure/hooking"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Collector is a ledger hook that keeps prometheus metrics about the
// intervals it sees. Every Collector owns its registry.
type Collector struct {
	registry *prometheus.Registry

	started          *prometheus.CounterVec
	ended            *prometheus.CounterVec
	failures         *prometheus.CounterVec
	resets           prometheus.Counter
	intervalDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smp_intervals_started_total",
			Help: "Total number of intervals opened, labelled by category and event.",
		}, []string{"category", "event"}),
		ended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smp_intervals_ended_total",
			Help: "Total number of interval closes, labelled by category, event and whether the close was speculative.",
		}, []string{"category", "event", "speculative"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smp_correlation_failures_total",
			Help: "Total number of closes that matched no interval.",
		}, []string{"category", "event", "tolerated"}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "smp_ledger_resets_total",
			Help: "Total number of times the ledger was emptied.",
		}),
		intervalDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smp_interval_duration_ms",
			Help:    "Duration of definitively closed intervals in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		}, []string{"category", "event"}),
	}
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Func updates the metrics.
func (c *Collector) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case tracing.HookPosIntervalStart:
		e := ctx.Item.(tracing.TimeEvent)
		c.started.WithLabelValues(e.Category, e.Event).Inc()
	case tracing.HookPosIntervalEnd:
		e := ctx.Item.(tracing.TimeEvent)
		c.ended.WithLabelValues(e.Category, e.Event, boolLabel(e.Speculative)).Inc()

		if !e.Speculative {
			d, _ := e.Duration()
			c.intervalDuration.WithLabelValues(e.Category, e.Event).
				Observe(float64(d))
		}
	case tracing.HookPosCorrelationFailure:
		err := ctx.Item.(*tracing.CorrelationError)
		tolerated, _ := ctx.Detail.(bool)
		c.failures.WithLabelValues(err.Category, err.Event, boolLabel(tolerated)).Inc()
	case tracing.HookPosLedgerReset:
		c.resets.Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}

	return "false"
}
