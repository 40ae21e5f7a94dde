package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock returns the current wall time in nanoseconds. Production code uses
// time.Now().UnixNano(); tests inject a deterministic clock so hash values
// are reproducible.
type Clock func() int64

// Log is the Provenance component: it constructs and persists the hash
// chain described in spec §4.6, and guarantees that decision nodes of a
// single chain are appended in causal order with no interleaving from
// another goroutine, per the §5 shared-resource policy ("within a chain, the
// component holding the chain context writes").
type Log struct {
	store Store
	clock Clock
	log   zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewLog builds a Log over the given Store. A nil clock defaults to the wall
// clock.
func NewLog(store Store, clock Clock, logger zerolog.Logger) *Log {
	if clock == nil {
		clock = defaultClock
	}
	return &Log{
		store: store,
		clock: clock,
		log:   logger.With().Str("component", "audit").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Log) lockFor(chainID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[chainID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[chainID] = m
	}
	return m
}

// Handle is the in-process chain context threaded through SignalGate,
// RiskSizer and Executor for one signal (spec §4.6/Glossary "Chain
// context"). It is not safe to share a Handle across the concurrent
// processing of two different signals.
type Handle struct {
	log        *Log
	ID         string
	ProfileID  string
	SignalID   string
	lastHash   string
}

// NewChain opens a new Decision Chain and writes its mandatory first node,
// signal.received, satisfying invariant 1 ("every Signal has exactly one
// Decision Chain; every chain's first node is signal.received").
func (l *Log) NewChain(ctx context.Context, profileID, signalID, source string, input map[string]interface{}) (*Handle, error) {
	chainID := uuid.New().String()
	now := l.clock()

	if err := l.store.InsertChain(ctx, Chain{
		ID:          chainID,
		ProfileID:   profileID,
		SignalID:    signalID,
		CreatedAtNS: now,
	}); err != nil {
		return nil, err
	}

	h := &Handle{log: l, ID: chainID, ProfileID: profileID, SignalID: signalID}
	if _, err := h.appendLocked(ctx, NodeSignalReceived, source, input, nil, "signal admitted for processing", nil, now); err != nil {
		return nil, err
	}
	return h, nil
}

// Append writes the next causally-ordered node onto the chain, using the
// current wall clock for its timestamp.
func (h *Handle) Append(ctx context.Context, nodeType NodeType, source string, input, output map[string]interface{}, rationale string, confidence *float64) (Node, error) {
	return h.appendLocked(ctx, nodeType, source, input, output, rationale, confidence, h.log.clock())
}

func (h *Handle) appendLocked(ctx context.Context, nodeType NodeType, source string, input, output map[string]interface{}, rationale string, confidence *float64, nowNS int64) (Node, error) {
	mu := h.log.lockFor(h.ID)
	mu.Lock()
	defer mu.Unlock()

	if input == nil {
		input = map[string]interface{}{}
	}
	input["parent_hash"] = h.lastHash

	node := Node{
		ID:          uuid.New().String(),
		ChainID:     h.ID,
		ParentHash:  h.lastHash,
		Type:        nodeType,
		Source:      source,
		TimestampNS: nowNS,
		Input:       input,
		Output:      output,
		Rationale:   rationale,
		Confidence:  confidence,
	}
	node.Hash = computeHash(node.Type, node.ParentHash, node.Input, node.Output, node.TimestampNS)

	if err := h.log.store.InsertNode(ctx, node); err != nil {
		return Node{}, err
	}
	h.lastHash = node.Hash
	return node, nil
}

// Seal closes the chain with a terminal outcome. The chain's root_hash is the
// hash of its last node, per spec §4.6.
func (h *Handle) Seal(ctx context.Context, outcome Outcome) error {
	now := h.log.clock()
	if err := h.log.store.SealChain(ctx, h.ID, outcome, now, h.lastHash); err != nil {
		return err
	}
	h.log.log.Debug().Str("chain_id", h.ID).Str("outcome", string(outcome)).Msg("chain sealed")
	return nil
}

// LastHash exposes the current tip hash, e.g. for cross-component nodes (the
// EmergencyController referencing a position's chain).
func (h *Handle) LastHash() string { return h.lastHash }

// FindBySignal implements SignalGate check #1 (idempotency): it looks up a
// prior chain for (profile_id, signal_id), returning ErrNotFound if none
// exists. No retention window is applied: a stored chain is found however
// old it is.
func (l *Log) FindBySignal(ctx context.Context, profileID, signalID string) (*Chain, error) {
	return l.store.FindChainBySignal(ctx, profileID, signalID)
}

// GetChain retrieves a sealed or in-flight chain by id.
func (l *Log) GetChain(ctx context.Context, chainID string) (*Chain, error) {
	return l.store.GetChain(ctx, chainID)
}

func defaultClock() int64 { return nowNanos() }
