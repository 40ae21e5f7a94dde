// Package signalgate implements SignalGate: the single ingress for all
// trade proposals, per SPEC_FULL.md §4.1. It evaluates the five ordered
// checks from spec §4.1 (idempotency, rate limit, schema/range, emergency,
// profile state), writes a decision node for the first failing check (or a
// single gate.passed node when all five pass), and returns admitted signals
// with their open chain for the pipeline to process in per-profile order.
package signalgate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/metrics"
	"github.com/archon-io/gateway/internal/ratelimit"
	"github.com/archon-io/gateway/internal/store"
)

// Decision is submit's result: accepted means the signal is now owned by
// the pipeline and a chain id has been allocated (spec §4.1 contract).
type Decision struct {
	Accepted bool
	ChainID  string
	Reason   string
	// Handle is non-nil only when Accepted is true, for the caller to hand
	// off to RiskSizer/Executor with the chain context already open.
	Handle *audit.Handle
}

// AllowedSymbols and MinConfidence gate the schema/range check (spec §4.1
// check #3). A nil/empty AllowedSymbols set means "any symbol" permitted.
type SchemaRules struct {
	AllowedSymbols map[string]bool
	MinConfidence  float64
}

// Gate implements the five-check admission pipeline.
type Gate struct {
	log        *audit.Log
	idem       *ratelimit.IdempotencyCache
	limiter    *ratelimit.Limiter
	store      store.Store
	rules      SchemaRules
	emergencyState func(ctx context.Context) (store.EmergencyLevel, error)
	zlog       zerolog.Logger
}

func New(log *audit.Log, idem *ratelimit.IdempotencyCache, limiter *ratelimit.Limiter, st store.Store, rules SchemaRules, emergencyState func(ctx context.Context) (store.EmergencyLevel, error), logger zerolog.Logger) *Gate {
	return &Gate{
		log: log, idem: idem, limiter: limiter, store: st, rules: rules,
		emergencyState: emergencyState,
		zlog:           logger.With().Str("component", "signal_gate").Logger(),
	}
}

// Submit runs the five ordered checks from spec §4.1; first failure is
// terminal. The call returns as soon as the signal.received node (or the
// terminal rejection node) is durable.
func (g *Gate) Submit(ctx context.Context, sig domain.Signal) Decision {
	// Check #1: idempotency. A hit returns the existing chain's id with
	// Reason "duplicate" and no Handle, without constructing a new chain
	// context (invariant 1); the prior chain's outcome is not part of the
	// Decision.
	if chainID, ok := g.idem.Lookup(ctx, sig.ProfileID, sig.SignalID); ok {
		metrics.SignalsReceived.WithLabelValues("duplicate").Inc()
		return Decision{Accepted: true, ChainID: chainID, Reason: "duplicate"}
	}
	if existing, err := g.log.FindBySignal(ctx, sig.ProfileID, sig.SignalID); err == nil && existing != nil {
		g.idem.Remember(ctx, sig.ProfileID, sig.SignalID, existing.ID)
		metrics.SignalsReceived.WithLabelValues("duplicate").Inc()
		return Decision{Accepted: true, ChainID: existing.ID, Reason: "duplicate"}
	}

	h, err := g.log.NewChain(ctx, sig.ProfileID, sig.SignalID, "signal_gate", map[string]interface{}{
		"symbol": sig.Symbol, "direction": string(sig.Direction), "confidence": sig.Confidence,
	})
	if err != nil {
		metrics.SignalsReceived.WithLabelValues("chain_error").Inc()
		return Decision{Accepted: false, Reason: fmt.Sprintf("chain creation failed: %v", err)}
	}
	g.idem.Remember(ctx, sig.ProfileID, sig.SignalID, h.ID)

	// Check #2: rate limit.
	if !g.limiter.Allow(sig.ProfileID, sig.Producer, sig.Tier) {
		g.appendAndSeal(ctx, h, audit.NodeGateRateLimited, "rate limit exceeded for (profile, producer)", nil, audit.OutcomeRejected)
		metrics.SignalsReceived.WithLabelValues("rate_limited").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: "rate_limited"}
	}

	// Check #3: schema/range.
	if reason, ok := g.validate(sig); !ok {
		g.appendAndSeal(ctx, h, audit.NodeSignalRejected, reason, nil, audit.OutcomeRejected)
		metrics.SignalsReceived.WithLabelValues("rejected").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: reason}
	}

	// Check #4: emergency state must be normal.
	level, err := g.emergencyState(ctx)
	if err != nil {
		g.appendAndSeal(ctx, h, audit.NodeGateBlocked, fmt.Sprintf("emergency state lookup failed: %v", err), nil, audit.OutcomeRejected)
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: "emergency_lookup_failed"}
	}
	if level != store.EmergencyNormal {
		g.appendAndSeal(ctx, h, audit.NodeGateBlocked, "emergency state is not normal", map[string]interface{}{"state": string(level)}, audit.OutcomeBlocked)
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: string(level)}
	}

	// Check #5: profile state.
	profile, err := g.store.GetProfile(ctx, sig.ProfileID)
	if err != nil || profile == nil {
		g.appendAndSeal(ctx, h, audit.NodeGateBlocked, "profile not found", nil, audit.OutcomeBlocked)
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: "profile_not_found"}
	}
	if !profile.TradingEnabled {
		g.appendAndSeal(ctx, h, audit.NodeGateBlocked, "trading disabled for profile", nil, audit.OutcomeBlocked)
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: "trading_disabled"}
	}
	if profile.ConnectionState != store.ConnHealthy {
		g.appendAndSeal(ctx, h, audit.NodeGateBlocked, "broker connection not healthy", map[string]interface{}{"state": string(profile.ConnectionState)}, audit.OutcomeBlocked)
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return Decision{Accepted: false, ChainID: h.ID, Reason: "connection_unhealthy"}
	}

	if _, err := h.Append(ctx, audit.NodeGatePassed, "signal_gate", nil, map[string]interface{}{"symbol": sig.Symbol}, "all five checks passed", nil); err != nil {
		g.zlog.Warn().Err(err).Str("chain_id", h.ID).Msg("failed to append gate.passed node")
	}

	metrics.SignalsReceived.WithLabelValues("passed").Inc()
	return Decision{Accepted: true, ChainID: h.ID, Handle: h}
}

func (g *Gate) appendAndSeal(ctx context.Context, h *audit.Handle, nodeType audit.NodeType, rationale string, output map[string]interface{}, outcome audit.Outcome) {
	if _, err := h.Append(ctx, nodeType, "signal_gate", nil, output, rationale, nil); err != nil {
		g.zlog.Warn().Err(err).Str("chain_id", h.ID).Msg("failed to append terminal node")
	}
	if err := h.Seal(ctx, outcome); err != nil {
		g.zlog.Warn().Err(err).Str("chain_id", h.ID).Msg("failed to seal chain")
	}
}

// validate implements spec §4.1 check #3: symbol allowed, direction valid,
// confidence >= min, SL/TP on the correct side of entry.
func (g *Gate) validate(sig domain.Signal) (string, bool) {
	if len(g.rules.AllowedSymbols) > 0 && !g.rules.AllowedSymbols[sig.Symbol] {
		return "symbol not allowed", false
	}
	if sig.Direction != domain.DirectionBuy && sig.Direction != domain.DirectionSell {
		return "invalid direction", false
	}
	if sig.Confidence < g.rules.MinConfidence {
		return "confidence below minimum", false
	}
	if sig.Direction == domain.DirectionBuy {
		if !sig.StopLoss.LessThan(sig.EntryPrice) || !sig.TakeProfit.GreaterThan(sig.EntryPrice) {
			return "stop_loss/take_profit on wrong side of entry for BUY", false
		}
	} else {
		if !sig.StopLoss.GreaterThan(sig.EntryPrice) || !sig.TakeProfit.LessThan(sig.EntryPrice) {
			return "stop_loss/take_profit on wrong side of entry for SELL", false
		}
	}
	return "", true
}
