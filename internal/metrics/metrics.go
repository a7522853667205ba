// Package metrics defines the Prometheus instrumentation shared across the
// trading daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the daemon exposes. A single instance is
// created at wiring time and handed to the components that record into it.
type Metrics struct {
	SwapsTotal      *prometheus.CounterVec
	ConfirmLatency  prometheus.Histogram
	EvalCycles      prometheus.Counter
	EvalErrors      prometheus.Counter
	StepsFilled     *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	PriceFetches    prometheus.Counter
	PriceMisses     prometheus.Counter
	CopySignals     *prometheus.CounterVec
	SchedulerPauses prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "swaps_total",
			Help:      "Swap executions by side, delivery mode, and outcome.",
		}, []string{"side", "delivery", "outcome"}),
		ConfirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "moonbot",
			Name:      "swap_confirm_seconds",
			Help:      "Time from submission to on-chain confirmation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		EvalCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "autosell_cycles_total",
			Help:      "Completed auto-sell evaluation cycles.",
		}),
		EvalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "autosell_errors_total",
			Help:      "Auto-sell cycles that ended in an error.",
		}),
		StepsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "sell_steps_filled_total",
			Help:      "Ladder steps executed, by trigger type.",
		}, []string{"trigger"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "moonbot",
			Name:      "open_positions",
			Help:      "Positions currently tracked by the position book.",
		}),
		PriceFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "price_fetches_total",
			Help:      "Batched price oracle requests.",
		}),
		PriceMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "price_misses_total",
			Help:      "Assets skipped in a cycle because the oracle returned no price.",
		}),
		CopySignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "copy_signals_total",
			Help:      "Copy-trade signals by outcome.",
		}, []string{"outcome"}),
		SchedulerPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moonbot",
			Name:      "autosell_pauses_total",
			Help:      "Circuit-breaker pauses taken by the auto-sell loop.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.SwapsTotal,
		m.ConfirmLatency,
		m.EvalCycles,
		m.EvalErrors,
		m.StepsFilled,
		m.OpenPositions,
		m.PriceFetches,
		m.PriceMisses,
		m.CopySignals,
		m.SchedulerPauses,
	)

	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
