// Package metrics defines the Prometheus surface for the gateway's pipeline
// stages, grounded on the teacher's promauto counter/gauge/histogram
// declarations (internal/metrics/metrics.go) but renamed to the
// SignalGate/RiskSizer/Executor/EmergencyController vocabulary this domain
// names, per SPEC_FULL.md §2.1.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsReceived counts every signal SignalGate.Submit sees, including
	// replays, labeled by its terminal gate decision.
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_signals_received_total",
		Help: "Total signals submitted to SignalGate, labeled by decision.",
	}, []string{"decision"})

	// RiskDecisions counts RiskSizer outcomes, labeled approved/reduced/rejected.
	RiskDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_risk_decisions_total",
		Help: "RiskSizer decisions, labeled by outcome.",
	}, []string{"outcome"})

	// RiskPerTrade observes the fraction of equity committed per approved
	// order, for alerting if sizing drifts toward the hard cap.
	RiskPerTrade = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_risk_per_trade_fraction",
		Help:    "Fraction of equity risked per approved order.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.03, 0.05, 0.08},
	})

	// ExecutionOutcomes counts Executor terminal node types.
	ExecutionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_execution_outcomes_total",
		Help: "Executor terminal outcomes, labeled by node type.",
	}, []string{"node_type"})

	// ExecutionAttempts observes how many broker submit attempts an order
	// took, bounding property 6 (retry bound) in production.
	ExecutionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_execution_attempts",
		Help:    "Number of broker submit attempts per order.",
		Buckets: []float64{1, 2, 3, 4},
	})

	// EmergencyState reports the current EmergencyController level as a gauge
	// (0=normal, 1=hedged, 2=halted, 3=killed), so dashboards render the
	// current state without scraping logs.
	EmergencyState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_emergency_state",
		Help: "Current emergency state: 0=normal 1=hedged 2=halted 3=killed.",
	})

	// PipelineQueueDepth reports each profile's in-process queue depth, for
	// alerting before Enqueue starts rejecting under backpressure.
	PipelineQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_pipeline_queue_depth",
		Help: "Depth of a profile's pending-signal queue.",
	}, []string{"profile_id"})

	// ChainLatency observes signal.received -> seal wall-clock time.
	ChainLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_chain_latency_seconds",
		Help:    "Seconds from signal.received to the chain's seal.",
		Buckets: prometheus.DefBuckets,
	})
)

// EmergencyStateValue maps an emergency level name to the gauge encoding
// used by EmergencyState.
func EmergencyStateValue(level string) float64 {
	switch level {
	case "hedged":
		return 1
	case "halted":
		return 2
	case "killed":
		return 3
	default:
		return 0
	}
}
