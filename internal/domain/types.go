// Package domain holds the shared value types that flow between SignalGate,
// RiskSizer, Executor and BrokerPool: the Signal a producer submits, the
// OrderIntent RiskSizer produces, and the snapshot of profile state RiskSizer
// reads at entry. Keeping these in one leaf package (depending only on
// internal/store) avoids an import cycle between the stage packages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/archon-io/gateway/internal/store"
)

// Direction is the signal's proposed trade side.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Tier is the rate-limit tier carried by a producer identity, per spec §9's
// resolution of the rate-limit-tier open question: tier is a property of the
// producer identity carried in the signal.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Signal is a trade proposal submitted to the gate (spec §3). Immutable
// after submission.
type Signal struct {
	SignalID    string
	ProfileID   string
	Symbol      string
	Direction   Direction
	Confidence  float64
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	Producer    string
	Tier        Tier
	SubmittedAt time.Time
}

// OrderIntent is RiskSizer's positive output: a concrete, sized order ready
// for Executor.
type OrderIntent struct {
	Signal          Signal
	Volume          decimal.Decimal
	RiskPerTrade    decimal.Decimal
	RequestedVolume decimal.Decimal // pre-reduction volume, for risk.reduced nodes
	ClientToken     string
}

// VetoPredicate names which RiskSizer step raised the veto.
type VetoPredicate string

const (
	VetoCVaR           VetoPredicate = "cvar_exceeded"
	VetoRiskPerTrade   VetoPredicate = "risk_per_trade_exceeded"
	VetoMaxPositions   VetoPredicate = "max_positions_exceeded"
	VetoDrawdownHalt   VetoPredicate = "drawdown_halt"
	VetoCorrelation    VetoPredicate = "correlation_exceeded"
)

// Veto is RiskSizer's negative output.
type Veto struct {
	Predicate VetoPredicate
	Rationale string
}

// ProfileSnapshot is the consistent view of profile state RiskSizer reads at
// entry; "concurrent updates to that state take effect on the next signal"
// (spec §4.2) — RiskSizer never re-reads mid-computation.
type ProfileSnapshot struct {
	Profile         store.Profile
	OpenPositions   []store.Position
	PeakEquity      float64
	CurrentEquity   float64
	// EquityCurve is recent equity marks, most recent last, used by CVaR's
	// historical simulation.
	EquityCurve     []float64
	// Correlations maps an open position's symbol to its rolling correlation
	// with the signal's symbol.
	Correlations    map[string]float64
}

// CurrentDrawdown returns the fractional peak-to-trough drawdown implied by
// this snapshot, 0 if equity is at or above the recorded peak.
func (s ProfileSnapshot) CurrentDrawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	dd := (s.PeakEquity - s.CurrentEquity) / s.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}
