package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the StateStore interface every component in the pipeline is
// built against, backed in production by PGStore and in tests by MemStore.
type Store interface {
	GetProfile(ctx context.Context, profileID string) (*Profile, error)
	PutProfile(ctx context.Context, p Profile) error

	OpenPositions(ctx context.Context, profileID string) ([]Position, error)
	// GetPosition looks up a position by ticket regardless of open/closed
	// state, for audit export's position-by-ticket resolution.
	GetPosition(ctx context.Context, ticket string) (*Position, error)
	InsertPosition(ctx context.Context, p Position) error
	ClosePosition(ctx context.Context, ticket string, closedAtNS int64) error
	UpdatePositionMark(ctx context.Context, ticket string, mark, unrealizedPnL decimal.Decimal) error

	GetEmergencyState(ctx context.Context) (*EmergencyState, error)
	// CompareAndSwapEmergencyState atomically replaces the emergency row iff
	// its current level equals expectLevel, matching the "Emergency State is
	// a single atomic cell ... transitions are serialized" resource policy.
	CompareAndSwapEmergencyState(ctx context.Context, expectLevel EmergencyLevel, next EmergencyState) (bool, error)
}
