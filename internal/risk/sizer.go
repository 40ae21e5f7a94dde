// Package risk implements RiskSizer: it turns an admitted signal into a
// sized OrderIntent or a Veto, per SPEC_FULL.md §4.2.
//
// The ordered hard-block-then-reduce-then-score shape is grounded on the
// example pack's risk-gate.go (RiskGate.CanEnter): hard vetoes first, then
// size reductions, then a final approved/reduced/rejected outcome. The Kelly
// fraction, CVaR-via-historical-simulation and peak-to-trough drawdown math
// are grounded on the teacher's internal/risk/calculator.go and service.go
// (CalculateVaR, CalculateDrawdown, the (winRate*b-q)/b Kelly formula),
// generalized from their args map[string]interface{} calling convention to
// the typed Sizer.Size(signal, snapshot) operation this package exposes.
package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/archon-io/gateway/internal/domain"
)

// Config holds the per-profile risk parameters named in SPEC_FULL.md §9.
// Values mirror store.Profile's risk fields; Sizer takes them separately so
// it stays decoupled from the store package.
type Config struct {
	KellyScale              float64
	KellyMinConfidence      float64
	MaxRiskPerTradeFraction float64
	MaxTotalRiskFraction    float64
	MaxCVaRFraction         float64
	MaxPositions            int
	DDReduceThreshold       float64
	DDHaltThreshold         float64
	MaxCorrelation          float64
}

// StepKind names which algorithm step produced a decision node, so callers
// can record a node per step without the Sizer depending on the audit
// package's node-type vocabulary directly.
type StepKind string

const (
	StepKelly       StepKind = "kelly_sized"
	StepCVaR        StepKind = "cvar_reduced"
	StepHardCaps    StepKind = "hard_caps"
	StepDrawdown    StepKind = "drawdown_policy"
	StepCorrelation StepKind = "correlation_policy"
	StepFinal       StepKind = "final"
)

// Step is one recorded algorithm step, suitable for use as a decision
// node's input/output snapshot.
type Step struct {
	Kind   StepKind
	Detail map[string]interface{}
}

// Result is Sizer.Size's outcome: exactly one of Intent or Veto is set,
// matching "emit exactly one of risk.approved, risk.reduced, risk.rejected".
type Result struct {
	Intent *domain.OrderIntent
	Veto   *domain.Veto
	Steps  []Step
	// Reduced is true when Intent is non-nil but its Volume is smaller than
	// the signal's requested size (risk.reduced rather than risk.approved).
	Reduced bool
	// HaltEmergency is true when the drawdown-halt veto should also raise
	// Emergency State to "halted", per spec §4.2 step 4.
	HaltEmergency bool
}

// Sizer is pure with respect to (signal, snapshot): identical inputs
// produce identical outputs (spec §4.2, "the sizer is pure").
type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size runs the six-step algorithm from spec §4.2 against a single
// consistent snapshot of profile state taken at entry.
func (s *Sizer) Size(sig domain.Signal, snap domain.ProfileSnapshot) Result {
	var steps []Step

	reject := func(pred domain.VetoPredicate, rationale string, detail map[string]interface{}, halt bool) Result {
		steps = append(steps, Step{Kind: StepFinal, Detail: detail})
		return Result{Veto: &domain.Veto{Predicate: pred, Rationale: rationale}, Steps: steps, HaltEmergency: halt}
	}

	// Step 1: Kelly fraction, scaled and clipped to [0, f_max].
	p := sig.Confidence
	slDist, _ := sig.EntryPrice.Sub(sig.StopLoss).Abs().Float64()
	tpDist, _ := sig.TakeProfit.Sub(sig.EntryPrice).Abs().Float64()
	entry, _ := sig.EntryPrice.Float64()

	f := kellyFraction(p, slDist, tpDist, entry) * s.cfg.KellyScale
	if f < 0 {
		f = 0
	}
	const fMax = 1.0
	if f > fMax {
		f = fMax
	}
	steps = append(steps, Step{Kind: StepKelly, Detail: map[string]interface{}{
		"confidence": p, "kelly_scale": s.cfg.KellyScale, "fraction": f,
	}})

	if p < s.cfg.KellyMinConfidence {
		return reject(domain.VetoRiskPerTrade, "signal confidence below kelly_min_confidence", map[string]interface{}{
			"confidence": p, "min_confidence": s.cfg.KellyMinConfidence,
		}, false)
	}

	equity := decimal.NewFromFloat(snap.CurrentEquity)
	volume := equity.Mul(decimal.NewFromFloat(f))
	requestedVolume := volume

	// Step 2: CVaR at alpha=0.95 of the proposed addition; reduce size until
	// within max_cvar_fraction*equity, or veto if no positive size fits.
	if len(snap.EquityCurve) >= 2 {
		returns := equityReturns(snap.EquityCurve)
		_, cvar := historicalVaR(returns, 0.95)
		maxCVaR := s.cfg.MaxCVaRFraction * snap.CurrentEquity
		projected := cvar * toFloat(volume)
		if projected > maxCVaR && cvar > 0 {
			bounded := maxCVaR / cvar
			if bounded <= 0 {
				return reject(domain.VetoCVaR, "portfolio CVaR exceeds max_cvar_fraction at any positive size", map[string]interface{}{
					"cvar": cvar, "max_cvar_fraction": s.cfg.MaxCVaRFraction,
				}, false)
			}
			volume = decimal.NewFromFloat(bounded)
			steps = append(steps, Step{Kind: StepCVaR, Detail: map[string]interface{}{
				"cvar": cvar, "original_volume": requestedVolume.String(), "reduced_volume": volume.String(),
			}})
		}
	}

	// Step 3: hard caps — risk_per_trade and max_positions.
	maxRiskPerTrade := decimal.NewFromFloat(s.cfg.MaxRiskPerTradeFraction).Mul(equity)
	if volume.GreaterThan(maxRiskPerTrade) {
		volume = maxRiskPerTrade
	}
	if len(snap.OpenPositions) >= s.cfg.MaxPositions {
		return reject(domain.VetoMaxPositions, "profile already at max_positions", map[string]interface{}{
			"open_positions": len(snap.OpenPositions), "max_positions": s.cfg.MaxPositions,
		}, false)
	}
	steps = append(steps, Step{Kind: StepHardCaps, Detail: map[string]interface{}{
		"max_risk_per_trade": maxRiskPerTrade.String(), "volume": volume.String(),
	}})

	// Step 4: drawdown policy — reduce at dd_reduce_threshold, veto+halt at
	// dd_halt_threshold.
	dd := snap.CurrentDrawdown()
	if dd >= s.cfg.DDHaltThreshold {
		return reject(domain.VetoDrawdownHalt, "portfolio drawdown at or above dd_halt_threshold", map[string]interface{}{
			"drawdown": dd, "dd_halt_threshold": s.cfg.DDHaltThreshold,
		}, true)
	}
	if dd >= s.cfg.DDReduceThreshold {
		halved := volume.Div(decimal.NewFromInt(2))
		steps = append(steps, Step{Kind: StepDrawdown, Detail: map[string]interface{}{
			"drawdown": dd, "dd_reduce_threshold": s.cfg.DDReduceThreshold,
			"original_volume": volume.String(), "reduced_volume": halved.String(),
		}})
		volume = halved
	}

	// Step 5: correlation policy.
	for symbol, rho := range snap.Correlations {
		if abs(rho) > s.cfg.MaxCorrelation {
			return reject(domain.VetoCorrelation, "existing position correlation exceeds max_correlation", map[string]interface{}{
				"symbol": symbol, "correlation": rho, "max_correlation": s.cfg.MaxCorrelation,
			}, false)
		}
	}

	if volume.Sign() <= 0 {
		return reject(domain.VetoRiskPerTrade, "sized volume non-positive after reductions", map[string]interface{}{
			"volume": volume.String(),
		}, false)
	}

	reduced := !volume.Equal(requestedVolume)
	intent := &domain.OrderIntent{
		Signal:          sig,
		Volume:          volume,
		RiskPerTrade:    volume.Div(equity),
		RequestedVolume: requestedVolume,
	}
	steps = append(steps, Step{Kind: StepFinal, Detail: map[string]interface{}{
		"volume": volume.String(), "reduced": reduced,
	}})

	return Result{Intent: intent, Steps: steps, Reduced: reduced}
}

// kellyFraction computes f = (p*b - q) / b, where p is win probability, q =
// 1-p, and b is the payoff ratio (take-profit distance / stop-loss
// distance), grounded on the teacher's service.go CalculatePositionSize.
func kellyFraction(p, slDist, tpDist, entry float64) float64 {
	if slDist <= 0 {
		return 0
	}
	b := tpDist / slDist
	if b <= 0 {
		return 0
	}
	q := 1 - p
	return (p*b - q) / b
}

// equityReturns converts an equity curve into simple returns, in the order
// the teacher's calculator.go LoadHistoricalPrices/LoadEquityCurve do.
func equityReturns(curve []float64) []float64 {
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] > 0 {
			returns = append(returns, (curve[i]-curve[i-1])/curve[i-1])
		}
	}
	return returns
}

// historicalVaR returns (VaR, CVaR) at the given confidence level using the
// historical-simulation percentile method, grounded on the teacher's
// Calculator.CalculateVaR.
func historicalVaR(returns []float64, confidence float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	percentile := 1 - confidence
	idx := int(float64(len(sorted)) * percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	varValue := -sorted[idx]

	var sum float64
	count := 0
	for i := 0; i <= idx; i++ {
		sum += sorted[i]
		count++
	}
	cvar := 0.0
	if count > 0 {
		cvar = -sum / float64(count)
	}
	return varValue, cvar
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
