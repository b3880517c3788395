// Package metrics provides Prometheus metrics for the maintenance engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/maintenance-engine/maintenance"
)

// Collector implements maintenance.Observer.
type Collector struct {
	// RunsTotal counts generation runs by type and outcome
	RunsTotal *prometheus.CounterVec

	// OrdersGenerated counts work orders created by generation runs
	OrdersGenerated *prometheus.CounterVec

	// PlanFailures counts plans that failed inside a run
	PlanFailures *prometheus.CounterVec

	// RunDuration tracks generation run duration in seconds
	RunDuration *prometheus.HistogramVec

	// ProjectedEvents tracks the size of calendar projections
	ProjectedEvents prometheus.Histogram
}

// NewCollector registers the metrics on reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "maintenance",
				Subsystem: "generation",
				Name:      "runs_total",
				Help:      "Total number of generation runs by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		OrdersGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "maintenance",
				Subsystem: "generation",
				Name:      "orders_total",
				Help:      "Total number of work orders generated",
			},
			[]string{"type"},
		),
		PlanFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "maintenance",
				Subsystem: "generation",
				Name:      "plan_failures_total",
				Help:      "Total number of plans that failed during a run",
			},
			[]string{"type"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "maintenance",
				Subsystem: "generation",
				Name:      "run_duration_seconds",
				Help:      "Duration of generation runs in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"type"},
		),
		ProjectedEvents: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "maintenance",
				Subsystem: "calendar",
				Name:      "projected_events",
				Help:      "Number of events returned per calendar projection",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

func (c *Collector) ObserveRun(typ maintenance.GenerationType, outcome maintenance.RunOutcome, generated, failed int, elapsed time.Duration) {
	t := string(typ)
	c.RunsTotal.WithLabelValues(t, string(outcome)).Inc()
	c.OrdersGenerated.WithLabelValues(t).Add(float64(generated))
	c.PlanFailures.WithLabelValues(t).Add(float64(failed))
	c.RunDuration.WithLabelValues(t).Observe(elapsed.Seconds())
}

// ObserveProjection records the size of one calendar response.
func (c *Collector) ObserveProjection(events int) {
	c.ProjectedEvents.Observe(float64(events))
}
