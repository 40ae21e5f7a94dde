package emergency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/archon-io/gateway/internal/broker"
)

// MarketMonitor watches a symbol's tick stream and fires the three
// automatic triggers from spec §4.5's table: flash_crash (price move over
// a rolling window), volatility_spike (per-tick move exceeds a multiple of
// the mean absolute tick-to-tick move over the earlier ticks of that window)
// and spread_explosion (bid/ask spread widens
// beyond a multiple of its recent average). It is the consumer side of
// broker.WSTickSource, per SPEC_FULL.md §2.1.
type MarketMonitor struct {
	ctrl   *Controller
	symbol string

	flashCrashPct    float64
	flashCrashWindow time.Duration
	volMultiplier    float64
	spreadMultiplier float64

	window []pricePoint
	spreadAvg float64
	spreadSamples int
}

type pricePoint struct {
	at  time.Time
	mid float64
}

// MonitorConfig names the four thresholds SPEC_FULL.md's EmergencyConfig
// exposes for automatic trigger evaluation.
type MonitorConfig struct {
	FlashCrashPct        float64
	FlashCrashWindow     time.Duration
	VolatilityMultiplier float64
	SpreadMultiplier     float64
}

func NewMarketMonitor(ctrl *Controller, symbol string, cfg MonitorConfig) *MarketMonitor {
	return &MarketMonitor{
		ctrl: ctrl, symbol: symbol,
		flashCrashPct: cfg.FlashCrashPct, flashCrashWindow: cfg.FlashCrashWindow,
		volMultiplier: cfg.VolatilityMultiplier, spreadMultiplier: cfg.SpreadMultiplier,
	}
}

// Run consumes ticks until the channel closes or ctx is canceled,
// activating the emergency controller (as "system" actor) each time a
// condition trips.
func (m *MarketMonitor) Run(ctx context.Context, ticks <-chan broker.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			m.observe(ctx, tick)
		}
	}
}

func (m *MarketMonitor) observe(ctx context.Context, tick broker.Tick) {
	bid, _ := tick.Bid.Float64()
	ask, _ := tick.Ask.Float64()
	mid := (bid + ask) / 2
	spread := ask - bid
	now := time.Now()

	m.window = append(m.window, pricePoint{at: now, mid: mid})
	cutoff := now.Add(-m.flashCrashWindow)
	i := 0
	for i < len(m.window) && m.window[i].at.Before(cutoff) {
		i++
	}
	m.window = m.window[i:]

	if m.spreadSamples == 0 {
		m.spreadAvg = spread
	} else {
		m.spreadAvg = m.spreadAvg + (spread-m.spreadAvg)/float64(m.spreadSamples+1)
	}
	m.spreadSamples++

	if m.spreadAvg > 0 && spread > m.spreadAvg*m.spreadMultiplier && m.spreadSamples > 5 {
		m.trigger(ctx, TriggerSpreadExplosion, "spread widened beyond threshold")
		return
	}

	if len(m.window) < 2 {
		return
	}
	oldest := m.window[0].mid
	if oldest == 0 {
		return
	}
	move := (mid - oldest) / oldest
	if move <= -m.flashCrashPct {
		m.trigger(ctx, TriggerFlashCrash, "price fell beyond flash_crash_pct within flash_crash_window_s")
		return
	}

	if len(m.window) >= 3 {
		prev := m.window[len(m.window)-2].mid
		step := decimal.NewFromFloat(mid).Sub(decimal.NewFromFloat(prev)).Abs()
		total := decimal.Zero
		for j := 1; j < len(m.window)-1; j++ {
			total = total.Add(decimal.NewFromFloat(m.window[j].mid).Sub(decimal.NewFromFloat(m.window[j-1].mid)).Abs())
		}
		baseline := total.Div(decimal.NewFromInt(int64(len(m.window) - 2)))
		if baseline.IsPositive() && step.GreaterThan(baseline.Mul(decimal.NewFromFloat(m.volMultiplier))) {
			m.trigger(ctx, TriggerVolatilitySpike, "per-tick move exceeded volatility multiplier")
		}
	}
}

func (m *MarketMonitor) trigger(ctx context.Context, t Trigger, reason string) {
	_ = m.ctrl.Activate(ctx, t, "system", reason, nil)
}
