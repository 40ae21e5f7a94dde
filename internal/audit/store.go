package audit

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = errors.New("audit: not found")

// Filter selects chains for Query and ExportBundle, grounded on the teacher
// corpus's audit.Logger QueryFilters dynamic-SQL-building pattern, generalized
// to the fields spec §4.6 names: time range, outcome, decision type set, actor.
// Actor is carried on the struct but neither MemStore nor PGStore filters on
// it; a non-empty Actor does not narrow the result.
type Filter struct {
	ProfileID      string
	Outcome        Outcome
	NodeTypes      []NodeType
	Actor          string
	StartNS        int64
	EndNS          int64
	Limit          int
	Offset         int
}

// Store is the persistence surface the Provenance component is built
// against. A Postgres-backed implementation (pgstore.go) is the production
// store; an in-memory implementation (memstore.go) backs unit tests without a
// live database, mirroring the teacher's PoolInterface testability seam in
// internal/risk/calculator.go.
type Store interface {
	InsertChain(ctx context.Context, c Chain) error
	InsertNode(ctx context.Context, n Node) error
	SealChain(ctx context.Context, chainID string, outcome Outcome, sealedAtNS int64, rootHash string) error
	GetChain(ctx context.Context, chainID string) (*Chain, error)
	FindChainBySignal(ctx context.Context, profileID, signalID string) (*Chain, error)
	QueryChains(ctx context.Context, f Filter) ([]string, error)
}
