// Package audit implements the Provenance component: construction, integrity
// verification, and query of the hash-chained decision trail produced while a
// signal moves through the pipeline.
//
// Persistence is grounded on the teacher corpus's pgxpool-backed audit.Logger,
// generalized from a flat, unchained event log into the hash-chained Decision
// Chain / Decision Node model this gateway requires.
package audit

// NodeType enumerates the decision-node types emitted across the pipeline.
// The full vocabulary is split by originating component in §4 of the spec.
type NodeType string

const (
	NodeSignalReceived  NodeType = "signal.received"
	NodeSignalRejected  NodeType = "signal.rejected"
	NodeSignalDuplicate NodeType = "signal.duplicate"
	NodeGatePassed      NodeType = "gate.passed"
	NodeGateBlocked     NodeType = "gate.blocked"
	NodeGateRateLimited NodeType = "gate.rate_limited"

	NodeRiskApproved NodeType = "risk.approved"
	NodeRiskReduced  NodeType = "risk.reduced"
	NodeRiskRejected NodeType = "risk.rejected"

	NodeExecutionFailed       NodeType = "execution.failed"
	NodeExecutionRejected     NodeType = "execution.rejected"
	NodeExecutionMarketClosed NodeType = "execution.market_closed"
	NodeExecutionReconciled   NodeType = "execution.reconciled"
	NodePositionOpened        NodeType = "position.opened"
	NodePositionReconciled    NodeType = "position.reconciled"

	NodeEmergencyHedge   NodeType = "emergency.panic_hedge"
	NodeEmergencyHalted  NodeType = "emergency.halted"
	NodeEmergencyKilled  NodeType = "emergency.killed"
	NodeEmergencyRestore NodeType = "emergency.restored"

	NodePipelineTimeout NodeType = "pipeline.timeout"
)

// Outcome is the terminal state of a sealed Decision Chain.
type Outcome string

const (
	OutcomeExecuted    Outcome = "executed"
	OutcomeRejected    Outcome = "rejected"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeOverridden  Outcome = "overridden"
	OutcomeUnsealed    Outcome = ""
)

// Node is a single, immutable step in a Decision Chain.
type Node struct {
	ID          string                 `json:"id"`
	ChainID     string                 `json:"chain_id"`
	ParentID    string                 `json:"parent_id,omitempty"`
	ParentHash  string                 `json:"parent_hash,omitempty"`
	Type        NodeType               `json:"type"`
	Source      string                 `json:"source"`
	TimestampNS int64                  `json:"timestamp_ns"`
	Input       map[string]interface{} `json:"input"`
	Output      map[string]interface{} `json:"output"`
	Rationale   string                 `json:"rationale"`
	Confidence  *float64               `json:"confidence,omitempty"`
	Hash        string                 `json:"hash"`
}

// Chain is the ordered list of Decision Nodes produced while processing one signal.
type Chain struct {
	ID          string    `json:"id"`
	ProfileID   string    `json:"profile_id"`
	SignalID    string    `json:"signal_id"`
	Outcome     Outcome   `json:"outcome"`
	Nodes       []Node    `json:"nodes"`
	CreatedAtNS int64     `json:"created_at_ns"`
	SealedAtNS  int64     `json:"sealed_at_ns,omitempty"`
	RootHash    string    `json:"root_hash,omitempty"`
}

// DurationNS is the total time from signal.received to the chain's seal, zero
// while the chain is still open.
func (c *Chain) DurationNS() int64 {
	if c.SealedAtNS == 0 {
		return 0
	}
	return c.SealedAtNS - c.CreatedAtNS
}

// LastHash returns the hash of the chain's most recent node, or "" for an
// empty chain (the genesis parent hash).
func (c *Chain) LastHash() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	return c.Nodes[len(c.Nodes)-1].Hash
}
