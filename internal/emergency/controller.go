// Package emergency implements EmergencyController: the four-state machine
// {normal, hedged, halted, killed} that monitors market/system conditions
// and reacts with graded responses, per SPEC_FULL.md §4.5.
//
// Grounded on the example pack's risk-gate.go circuit-trip/auto-reset state
// machine (RiskGate.circuitTripped, onCircuitTrip callback), generalized
// from its single binary tripped/untripped flag to the four-state machine
// named in spec §4.5. State transitions are published over nats.go
// (grounded on the teacher's orchestrator/messagebus.go AgentMessage/
// publish pattern). Nothing in this repository subscribes to them:
// SignalGate reads the Emergency State from the StateStore on every signal.
package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/archon-io/gateway/internal/audit"
	"github.com/archon-io/gateway/internal/metrics"
	"github.com/archon-io/gateway/internal/store"
)

// Trigger names the five automatic/manual triggers from spec §4.5's table.
type Trigger string

const (
	TriggerFlashCrash      Trigger = "flash_crash"
	TriggerVolatilitySpike Trigger = "volatility_spike"
	TriggerSpreadExplosion Trigger = "spread_explosion"
	TriggerDrawdown        Trigger = "drawdown"
	TriggerManualKill      Trigger = "manual_kill"
)

// targetLevel maps each trigger to the state it drives, per spec §4.5.
func targetLevel(t Trigger) store.EmergencyLevel {
	switch t {
	case TriggerFlashCrash:
		return store.EmergencyHedged
	case TriggerVolatilitySpike, TriggerSpreadExplosion:
		return store.EmergencyHalted
	case TriggerDrawdown, TriggerManualKill:
		return store.EmergencyKilled
	default:
		return store.EmergencyHalted
	}
}

// Broadcaster is the narrow publish surface Controller needs from the NATS
// bus, kept as an interface so tests don't need a live nats-server.
type Broadcaster interface {
	Publish(subject string, data []byte) error
}

// Notifier delivers a best-effort, non-blocking out-of-band alert (spec
// SPEC_FULL.md §9.1's Telegram adaptation). A nil Notifier disables alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// CapabilityCheck reports whether actorID holds Owner capability, required
// for every transition out of normal and doubly for killed -> normal (spec
// invariant 5).
type CapabilityCheck func(actorID string) bool

// Transition is the payload broadcast on every state change.
type Transition struct {
	Level     store.EmergencyLevel `json:"level"`
	Trigger   Trigger               `json:"trigger,omitempty"`
	ActorID   string                `json:"actor_id"`
	Reason    string                `json:"reason"`
	Timestamp int64                 `json:"timestamp_ns"`
}

const broadcastSubject = "gateway.emergency.transition"

// Controller owns the Emergency State singleton's transitions.
type Controller struct {
	store       store.Store
	auditLog    *audit.Log
	bus         Broadcaster
	notifier    Notifier
	isOwner     CapabilityCheck
	restoreWindow time.Duration
	log         zerolog.Logger
}

func New(st store.Store, auditLog *audit.Log, bus Broadcaster, notifier Notifier, isOwner CapabilityCheck, logger zerolog.Logger) *Controller {
	return &Controller{
		store: st, auditLog: auditLog, bus: bus, notifier: notifier, isOwner: isOwner,
		restoreWindow: 5 * time.Minute,
		log:           logger.With().Str("component", "emergency_controller").Logger(),
	}
}

var ErrNotOwner = fmt.Errorf("emergency: actor lacks Owner capability")

// Activate transitions the Emergency State from its current level into the
// level named by trigger, per spec §4.5. Once the state is killed, only
// Restore's quorum leaves it: activating any lower level returns an error.
// affectedPositions drives the mitigating action nodes (one emergency.* node
// per affected position, or a single node when none are passed).
func (c *Controller) Activate(ctx context.Context, trigger Trigger, actorID, reason string, affectedPositions []store.Position) error {
	if !c.isOwner(actorID) {
		return ErrNotOwner
	}

	current, err := c.store.GetEmergencyState(ctx)
	if err != nil {
		return fmt.Errorf("emergency: read current state: %w", err)
	}
	next := targetLevel(trigger)
	if current.Level == store.EmergencyKilled && next != store.EmergencyKilled {
		return fmt.Errorf("emergency: state is killed; only a quorum restore leaves it")
	}

	ok, err := c.store.CompareAndSwapEmergencyState(ctx, current.Level, store.EmergencyState{
		Level: next, ActivatorID: actorID, Reason: reason, ActivatedAtNS: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("emergency: cas failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("emergency: concurrent transition, state changed under us")
	}

	c.writeTransitionNodes(ctx, trigger, next, actorID, reason, affectedPositions)
	c.broadcast(next, trigger, actorID, reason)
	c.alert(ctx, next, reason)
	metrics.EmergencyState.Set(metrics.EmergencyStateValue(string(next)))
	return nil
}

// writeTransitionNodes appends one emergency.* decision node per affected
// position (spec §4.5/S6: "3 emergency.panic_hedge nodes referencing each
// position"), or a single node when no positions are involved.
func (c *Controller) writeTransitionNodes(ctx context.Context, trigger Trigger, level store.EmergencyLevel, actorID, reason string, positions []store.Position) {
	nodeType := nodeTypeFor(trigger, level)

	if len(positions) == 0 {
		c.writeStandaloneNode(ctx, nodeType, actorID, reason, nil)
		return
	}
	for _, pos := range positions {
		c.writeStandaloneNode(ctx, nodeType, actorID, reason, map[string]interface{}{
			"position_ticket": pos.Ticket, "symbol": pos.Symbol,
		})
	}
}

func (c *Controller) writeStandaloneNode(ctx context.Context, nodeType audit.NodeType, actorID, reason string, output map[string]interface{}) {
	h, err := c.auditLog.NewChain(ctx, "global", fmt.Sprintf("emergency-%d", time.Now().UnixNano()), "emergency_controller", map[string]interface{}{
		"actor_id": actorID,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to open emergency chain")
		return
	}
	if _, err := h.Append(ctx, nodeType, "emergency_controller", nil, output, reason, nil); err != nil {
		c.log.Warn().Err(err).Msg("failed to append emergency node")
	}
	if err := h.Seal(ctx, audit.OutcomeOverridden); err != nil {
		c.log.Warn().Err(err).Msg("failed to seal emergency chain")
	}
}

func nodeTypeFor(trigger Trigger, level store.EmergencyLevel) audit.NodeType {
	switch {
	case trigger == TriggerFlashCrash:
		return audit.NodeEmergencyHedge
	case level == store.EmergencyKilled:
		return audit.NodeEmergencyKilled
	default:
		return audit.NodeEmergencyHalted
	}
}

func (c *Controller) broadcast(level store.EmergencyLevel, trigger Trigger, actorID, reason string) {
	if c.bus == nil {
		return
	}
	data, err := json.Marshal(Transition{Level: level, Trigger: trigger, ActorID: actorID, Reason: reason, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return
	}
	if err := c.bus.Publish(broadcastSubject, data); err != nil {
		c.log.Warn().Err(err).Msg("failed to broadcast emergency transition")
	}
}

// alert sends a best-effort Telegram notification on killed/hedged
// transitions, per SPEC_FULL.md §9.1. Never blocks the control path.
func (c *Controller) alert(ctx context.Context, level store.EmergencyLevel, reason string) {
	if c.notifier == nil || (level != store.EmergencyKilled && level != store.EmergencyHedged) {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.notifier.Notify(actx, fmt.Sprintf("emergency state -> %s: %s", level, reason)); err != nil {
			c.log.Warn().Err(err).Msg("emergency alert delivery failed")
		}
	}()
	_ = ctx
}

// Restore implements "killed -> normal requires two distinct Owner-capable
// actors within a 5-minute window; a single actor is insufficient" (spec
// invariant 5). It returns true once the quorum is satisfied and the state
// has been reset to normal.
func (c *Controller) Restore(ctx context.Context, actorID string) (bool, error) {
	if !c.isOwner(actorID) {
		return false, ErrNotOwner
	}

	current, err := c.store.GetEmergencyState(ctx)
	if err != nil {
		return false, err
	}
	if current.Level != store.EmergencyKilled {
		return false, fmt.Errorf("emergency: restore only valid from killed")
	}

	now := time.Now().UnixNano()
	actors := current.RestoreActors
	windowStart := current.RestoreWindowStartNS
	if windowStart == 0 || time.Duration(now-windowStart) > c.restoreWindow {
		actors = nil
		windowStart = now
	}
	if !contains(actors, actorID) {
		actors = append(actors, actorID)
	}

	if len(distinct(actors)) < 2 {
		ok, err := c.store.CompareAndSwapEmergencyState(ctx, store.EmergencyKilled, store.EmergencyState{
			Level: store.EmergencyKilled, ActivatorID: current.ActivatorID, Reason: current.Reason,
			ActivatedAtNS: current.ActivatedAtNS, RestoreActors: actors, RestoreWindowStartNS: windowStart,
		})
		if err != nil || !ok {
			return false, err
		}
		return false, nil
	}

	ok, err := c.store.CompareAndSwapEmergencyState(ctx, store.EmergencyKilled, store.EmergencyState{Level: store.EmergencyNormal})
	if err != nil || !ok {
		return false, err
	}
	c.writeStandaloneNode(ctx, audit.NodeEmergencyRestore, actorID, "quorum satisfied", nil)
	c.broadcast(store.EmergencyNormal, "", actorID, "restored by quorum")
	metrics.EmergencyState.Set(metrics.EmergencyStateValue(string(store.EmergencyNormal)))
	return true, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func distinct(s []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, x := range s {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
