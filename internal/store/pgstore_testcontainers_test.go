package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres container and returns a pool
// against it, migrated and ready for PGStore. Mirrors the teacher corpus's
// testhelpers.SetupTestDatabase, narrowed to this package's own schema
// instead of a shared helper package.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gateway_test"),
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

// TestPGStore_CRUDAgainstRealPostgres exercises PGStore's profile/position/
// emergency-state round trip against a live Postgres engine rather than
// pgxmock's fake driver, matching the fidelity the teacher corpus's
// testcontainers integration suite gives internal/db.
func TestPGStore_CRUDAgainstRealPostgres(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPGStore(pool)
	ctx := context.Background()

	profile := Profile{
		ID:                      "profile-tc-1",
		BrokerCredentialRef:     "vault-ref-1",
		TradingEnabled:          true,
		ConnectionState:         ConnHealthy,
		MaxPositions:            2,
		MaxRiskPerTradeFraction: 0.02,
		MaxTotalRiskFraction:    0.06,
		MaxCVaRFraction:         0.08,
		DDReduceThreshold:       0.10,
		DDHaltThreshold:         0.15,
		KellyScale:              0.25,
		KellyMinConfidence:      0.55,
		MaxCorrelation:          0.80,
		Equity:                  decimal.NewFromInt(10000),
	}
	require.NoError(t, s.PutProfile(ctx, profile))

	got, err := s.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.Equal(t, profile.ID, got.ID)
	require.True(t, got.Equity.Equal(profile.Equity))

	pos := Position{
		Ticket:         "tkt-tc-1",
		ProfileID:      profile.ID,
		Symbol:         "EURUSD",
		Side:           SideLong,
		Volume:         decimal.NewFromFloat(0.5),
		EntryPrice:     decimal.NewFromFloat(1.1000),
		StopLoss:       decimal.NewFromFloat(1.0950),
		TakeProfit:     decimal.NewFromFloat(1.1100),
		OriginSignalID: "sig-1",
		OriginChainID:  "chain-1",
		OpenedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.InsertPosition(ctx, pos))

	open, err := s.OpenPositions(ctx, profile.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, pos.Ticket, open[0].Ticket)

	byTicket, err := s.GetPosition(ctx, pos.Ticket)
	require.NoError(t, err)
	require.Equal(t, pos.Ticket, byTicket.Ticket)

	require.NoError(t, s.UpdatePositionMark(ctx, pos.Ticket, decimal.NewFromFloat(1.1010), decimal.NewFromFloat(5)))
	require.NoError(t, s.ClosePosition(ctx, pos.Ticket, time.Now().UnixNano()))

	closed, err := s.GetPosition(ctx, pos.Ticket)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)

	stillOpen, err := s.OpenPositions(ctx, profile.ID)
	require.NoError(t, err)
	require.Empty(t, stillOpen)

	ok, err := s.CompareAndSwapEmergencyState(ctx, EmergencyNormal, EmergencyState{
		Level:      EmergencyHalted,
		ActivatorID: "ops",
		Reason:      "flash_crash",
	})
	require.NoError(t, err)
	require.True(t, ok)

	state, err := s.GetEmergencyState(ctx)
	require.NoError(t, err)
	require.Equal(t, EmergencyHalted, state.Level)
}
