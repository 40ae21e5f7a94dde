// Package store implements the StateStore: per-profile mutable state
// (profiles, positions, emergency state) named in spec §3 and persisted per
// the abstract layout in §6 ("profiles/{profile_id}", "positions/{ticket}",
// "emergency"). Rate Window state lives in internal/ratelimit as in-process
// token buckets; it is not persisted.
//
// Grounded on the teacher corpus's internal/db package: pgxpool-backed
// connection management (db.go) and parameterized raw-SQL insert/update
// (orders.go), generalized from order/trade rows to Profile/Position/
// EmergencyState rows.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionState is a Profile's BrokerPool session health, mirrored from
// the session state machine in spec §4.4.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnHealthy      ConnectionState = "healthy"
	ConnDegraded     ConnectionState = "degraded"
)

// Profile is a tenant's broker account binding (spec §3).
type Profile struct {
	ID                      string
	BrokerCredentialRef     string // Vault secret path; see internal/secrets
	TradingEnabled          bool
	ConnectionState         ConnectionState
	MaxPositions            int
	MaxRiskPerTradeFraction float64
	MaxTotalRiskFraction    float64
	MaxCVaRFraction         float64
	DDReduceThreshold       float64
	DDHaltThreshold         float64
	KellyScale              float64
	KellyMinConfidence      float64
	MaxCorrelation          float64
	Equity                  decimal.Decimal
	CreatedAt               time.Time
}

// PositionSide mirrors the signal direction that opened the position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Position is an opened market exposure (spec §3). Mutated only by BrokerPool
// reconciliation or Executor close operations.
type Position struct {
	Ticket          string
	ProfileID       string
	Symbol          string
	Side            PositionSide
	Volume          decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
	CurrentMark     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	OriginSignalID  string
	OriginChainID   string
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

// EmergencyLevel is the Emergency State's current value (spec §3).
type EmergencyLevel string

const (
	EmergencyNormal EmergencyLevel = "normal"
	EmergencyHedged EmergencyLevel = "hedged"
	EmergencyHalted EmergencyLevel = "halted"
	EmergencyKilled EmergencyLevel = "killed"
)

// EmergencyState is the global singleton named in spec §3. Only one active
// state exists at a time; transitions are audited and serialized by
// internal/emergency.
type EmergencyState struct {
	Level          EmergencyLevel
	ActivatorID    string
	Reason         string
	ActivatedAtNS  int64
	// RestoreActors accumulates distinct Owner-capable actors who have called
	// restore() while Level == killed, for the two-actor quorum rule.
	RestoreActors  []string
	RestoreWindowStartNS int64
}
