package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/store"
)

func testPool(t *testing.T) (*Pool, *PaperSession) {
	t.Helper()
	ps := NewPaperSession()
	pool := NewPool(func(profileID string) Session { return ps }, store.NewMemStore(), nil, DefaultHealthPolicy(), zerolog.Nop())
	return pool, ps
}

func TestPool_AcquireConnectsAndReportsHealthy(t *testing.T) {
	pool, _ := testPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := pool.Acquire(ctx, "profile-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, StateHealthy, pool.State("profile-1"))
}

func TestPool_HeartbeatMissesDegradeThenDisconnect(t *testing.T) {
	pool, _ := testPool(t)
	ctx := context.Background()
	_, err := pool.Acquire(ctx, "profile-1", time.Second)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pool.RecordHeartbeat(ctx, "profile-1", false)
	}
	assert.Equal(t, StateDegraded, pool.State("profile-1"))

	for i := 0; i < 2; i++ {
		pool.RecordHeartbeat(ctx, "profile-1", false)
	}
	assert.Equal(t, StateDisconnected, pool.State("profile-1"))
}

func TestPool_ReconciliationInvokedOnHealthy(t *testing.T) {
	ps := NewPaperSession()
	var gotRemote []RemotePosition
	reconcile := func(ctx context.Context, profileID string, remote []RemotePosition, local []store.Position) {
		gotRemote = remote
	}
	pool := NewPool(func(profileID string) Session { return ps }, store.NewMemStore(), reconcile, DefaultHealthPolicy(), zerolog.Nop())

	ctx := context.Background()
	_, err := ps.SubmitOrder(ctx, OrderRequest{ClientToken: "tok-1", Symbol: "EURUSD", Side: "BUY"})
	require.NoError(t, err)

	_, err = pool.Acquire(ctx, "profile-1", time.Second)
	require.NoError(t, err)
	assert.Len(t, gotRemote, 1)
}

func TestPool_AcquireRefusesAtMaxPositionsCap(t *testing.T) {
	ps := NewPaperSession()
	st := store.NewMemStore()
	require.NoError(t, st.PutProfile(context.Background(), store.Profile{ID: "profile-1", MaxPositions: 1}))
	require.NoError(t, st.InsertPosition(context.Background(), store.Position{
		Ticket: "tkt-1", ProfileID: "profile-1", Symbol: "EURUSD", Side: store.SideLong,
	}))

	pool := NewPool(func(profileID string) Session { return ps }, st, nil, DefaultHealthPolicy(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := pool.Acquire(ctx, "profile-1", time.Second)
	assert.ErrorIs(t, err, ErrPositionCapReached)
}

func TestPaperSession_DuplicateClientTokenTreatedAsSuccess(t *testing.T) {
	ps := NewPaperSession()
	ctx := context.Background()
	req := OrderRequest{ClientToken: "tok-dup", Symbol: "EURUSD", Side: "BUY"}

	r1, err := ps.SubmitOrder(ctx, req)
	require.NoError(t, err)
	r2, err := ps.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, r1.Ticket, r2.Ticket)
}
