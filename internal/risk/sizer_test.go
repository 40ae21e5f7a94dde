package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/store"
)

func baseConfig() Config {
	return Config{
		KellyScale:              0.15,
		KellyMinConfidence:      0.5,
		MaxRiskPerTradeFraction: 0.05,
		MaxTotalRiskFraction:    0.20,
		MaxCVaRFraction:         0.10,
		MaxPositions:            2,
		DDReduceThreshold:       0.10,
		DDHaltThreshold:         0.15,
		MaxCorrelation:          0.8,
	}
}

func baseSignal() domain.Signal {
	return domain.Signal{
		SignalID:   "sig-1",
		ProfileID:  "profile-1",
		Symbol:     "EURUSD",
		Direction:  domain.DirectionBuy,
		Confidence: 0.65,
		EntryPrice: decimal.NewFromFloat(1.1000),
		StopLoss:   decimal.NewFromFloat(1.0950),
		TakeProfit: decimal.NewFromFloat(1.1100),
	}
}

func baseSnapshot() domain.ProfileSnapshot {
	return domain.ProfileSnapshot{
		Profile:       store.Profile{ID: "profile-1"},
		CurrentEquity: 10000,
		PeakEquity:    10000,
	}
}

// Property: RiskSizer's sized volume never exceeds max_risk_per_trade_fraction*equity.
func TestSize_RespectsRiskPerTradeBound(t *testing.T) {
	cfg := baseConfig()
	s := NewSizer(cfg)

	result := s.Size(baseSignal(), baseSnapshot())
	require.NotNil(t, result.Intent)
	require.Nil(t, result.Veto)

	maxRisk := decimal.NewFromFloat(cfg.MaxRiskPerTradeFraction * 10000)
	assert.True(t, result.Intent.Volume.LessThanOrEqual(maxRisk),
		"volume %s exceeds max risk %s", result.Intent.Volume, maxRisk)
}

func TestSize_VetoesBelowMinConfidence(t *testing.T) {
	s := NewSizer(baseConfig())
	sig := baseSignal()
	sig.Confidence = 0.3

	result := s.Size(sig, baseSnapshot())
	require.Nil(t, result.Intent)
	require.NotNil(t, result.Veto)
	assert.Equal(t, domain.VetoRiskPerTrade, result.Veto.Predicate)
}

func TestSize_VetoesAtMaxPositions(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositions = 1
	s := NewSizer(cfg)

	snap := baseSnapshot()
	snap.OpenPositions = []store.Position{{Ticket: "t1", ProfileID: "profile-1"}}

	result := s.Size(baseSignal(), snap)
	require.Nil(t, result.Intent)
	require.NotNil(t, result.Veto)
	assert.Equal(t, domain.VetoMaxPositions, result.Veto.Predicate)
}

// Scenario S5: a profile with high historical CVaR gets its size reduced
// rather than rejected outright, as long as some positive size fits.
func TestSize_ReducesForHighCVaR(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxCVaRFraction = 0.001 // force a tiny bound so reduction triggers
	s := NewSizer(cfg)

	snap := baseSnapshot()
	snap.EquityCurve = []float64{10000, 9000, 11000, 8500, 10200, 9300}

	result := s.Size(baseSignal(), snap)
	require.NotNil(t, result.Intent)
	assert.True(t, result.Reduced)
	assert.True(t, result.Intent.Volume.LessThan(result.Intent.RequestedVolume))
}

func TestSize_HalvesAtDrawdownReduceThreshold(t *testing.T) {
	cfg := baseConfig()
	s := NewSizer(cfg)

	snap := baseSnapshot()
	snap.PeakEquity = 10000
	snap.CurrentEquity = 8900 // 11% drawdown, above 10% reduce threshold

	result := s.Size(baseSignal(), snap)
	require.NotNil(t, result.Intent)
	assert.True(t, result.Reduced)
}

func TestSize_VetoesAndHaltsAtDrawdownHaltThreshold(t *testing.T) {
	cfg := baseConfig()
	s := NewSizer(cfg)

	snap := baseSnapshot()
	snap.PeakEquity = 10000
	snap.CurrentEquity = 8400 // 16% drawdown, above 15% halt threshold

	result := s.Size(baseSignal(), snap)
	require.Nil(t, result.Intent)
	require.NotNil(t, result.Veto)
	assert.Equal(t, domain.VetoDrawdownHalt, result.Veto.Predicate)
	assert.True(t, result.HaltEmergency)
}

func TestSize_VetoesOnCorrelation(t *testing.T) {
	cfg := baseConfig()
	s := NewSizer(cfg)

	snap := baseSnapshot()
	snap.Correlations = map[string]float64{"GBPUSD": 0.92}

	result := s.Size(baseSignal(), snap)
	require.Nil(t, result.Intent)
	require.NotNil(t, result.Veto)
	assert.Equal(t, domain.VetoCorrelation, result.Veto.Predicate)
}

func TestSize_IsPure(t *testing.T) {
	s := NewSizer(baseConfig())
	sig := baseSignal()
	snap := baseSnapshot()

	r1 := s.Size(sig, snap)
	r2 := s.Size(sig, snap)
	require.NotNil(t, r1.Intent)
	require.NotNil(t, r2.Intent)
	assert.True(t, r1.Intent.Volume.Equal(r2.Intent.Volume))
}

func TestKellyFraction_ZeroStopLossDistance(t *testing.T) {
	assert.Equal(t, 0.0, kellyFraction(0.6, 0, 0.01, 1.1))
}

func TestHistoricalVaR_EmptyReturns(t *testing.T) {
	v, c := historicalVaR(nil, 0.95)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 0.0, c)
}
