package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupAuditPostgres starts a throwaway Postgres container, migrates the
// decision_chains/decision_nodes schema, and returns a pool ready for
// PGStore, mirroring the teacher corpus's testcontainers integration suite
// for internal/db so the Provenance store gets the same real-engine
// coverage instead of only pgxmock's fake driver.
func setupAuditPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gateway_audit_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))

	s := NewPGStore(pool)
	require.NoError(t, s.Migrate(ctx))

	return pool
}

// TestPGStore_ChainNodeRoundTripAgainstRealPostgres exercises chain/node
// insert, seal, lookup-by-signal, and filtered query against a live
// Postgres engine rather than pgxmock's fake driver.
func TestPGStore_ChainNodeRoundTripAgainstRealPostgres(t *testing.T) {
	pool := setupAuditPostgres(t)
	s := NewPGStore(pool)
	ctx := context.Background()

	chain := Chain{
		ID:          "chain-tc-1",
		ProfileID:   "profile-tc-1",
		SignalID:    "sig-tc-1",
		CreatedAtNS: 1000,
	}
	require.NoError(t, s.InsertChain(ctx, chain))

	node := Node{
		ID:          "node-tc-1",
		ChainID:     chain.ID,
		Type:        NodeSignalReceived,
		Source:      "signalgate",
		TimestampNS: 1000,
		Input:       map[string]interface{}{"symbol": "EURUSD"},
		Output:      map[string]interface{}{"accepted": true},
		Rationale:   "within rate limit",
		Hash:        "hash-tc-1",
	}
	require.NoError(t, s.InsertNode(ctx, node))

	require.NoError(t, s.SealChain(ctx, chain.ID, OutcomeExecuted, 2000, "root-hash-tc-1"))

	got, err := s.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, got.Outcome)
	require.Len(t, got.Nodes, 1)
	require.Equal(t, node.ID, got.Nodes[0].ID)

	bySignal, err := s.FindChainBySignal(ctx, chain.ProfileID, chain.SignalID)
	require.NoError(t, err)
	require.Equal(t, chain.ID, bySignal.ID)

	ids, err := s.QueryChains(ctx, Filter{ProfileID: chain.ProfileID, Outcome: OutcomeExecuted})
	require.NoError(t, err)
	require.Contains(t, ids, chain.ID)
}
