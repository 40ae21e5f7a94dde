package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-io/gateway/internal/broker"
	"github.com/archon-io/gateway/internal/domain"
	"github.com/archon-io/gateway/internal/store"
)

var errFlaky = errors.New("flaky network error")

// flakySession fails SubmitOrder a fixed number of times before succeeding,
// used to exercise Executor's retry schedule without a real broker.
type flakySession struct {
	*broker.PaperSession
	failTimes int32
	calls     int32
}

func (f *flakySession) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return nil, errFlaky
	}
	return f.PaperSession.SubmitOrder(ctx, req)
}

func testIntent() domain.OrderIntent {
	return domain.OrderIntent{
		Signal: domain.Signal{
			SignalID: "sig-1", ProfileID: "profile-1", Symbol: "EURUSD",
			Direction: domain.DirectionBuy,
		},
		Volume: decimal.NewFromFloat(0.1),
	}
}

func newPoolWithSession(sess broker.Session) *broker.Pool {
	return broker.NewPool(func(profileID string) broker.Session { return sess }, store.NewMemStore(), nil, broker.DefaultHealthPolicy(), zerolog.Nop())
}

func TestExecutor_SucceedsOnFirstAttempt(t *testing.T) {
	pool := newPoolWithSession(broker.NewPaperSession())
	ex := New(pool, nil)

	out := ex.Submit(context.Background(), testIntent(), time.Second)
	require.NoError(t, out.Err)
	assert.Equal(t, "position.opened", out.NodeType)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecutor_RetriesNetworkFailureWithinBound(t *testing.T) {
	fs := &flakySession{PaperSession: broker.NewPaperSession(), failTimes: 2}
	pool := newPoolWithSession(fs)
	ex := New(pool, nil)
	ex.backoffs = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	out := ex.Submit(context.Background(), testIntent(), time.Second)
	require.NoError(t, out.Err)
	assert.Equal(t, "position.opened", out.NodeType)
	assert.LessOrEqual(t, out.Attempts, 4) // property 6: retry bound <= 4
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	fs := &flakySession{PaperSession: broker.NewPaperSession(), failTimes: 10}
	pool := newPoolWithSession(fs)
	ex := New(pool, nil)
	ex.backoffs = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	out := ex.Submit(context.Background(), testIntent(), time.Second)
	require.Error(t, out.Err)
	assert.Equal(t, "execution.failed", out.NodeType)
	assert.LessOrEqual(t, out.Attempts, 4)
}

func TestExecutor_MarketClosedIsTerminalNoRetry(t *testing.T) {
	fs := &flakySession{PaperSession: broker.NewPaperSession(), failTimes: 0}
	pool := newPoolWithSession(fs)
	ex := New(pool, func(err error) FailureClass { return FailureMarketClosed })
	fs.failTimes = 1 // force one failure classified as market closed

	out := ex.Submit(context.Background(), testIntent(), time.Second)
	assert.Equal(t, "execution.market_closed", out.NodeType)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecutor_DuplicateTicketTreatedAsSuccess(t *testing.T) {
	ps := broker.NewPaperSession()
	ctx := context.Background()
	intent := testIntent()
	intent.ClientToken = "preexisting-token"
	_, err := ps.SubmitOrder(ctx, broker.OrderRequest{ClientToken: intent.ClientToken, Symbol: intent.Signal.Symbol})
	require.NoError(t, err)

	fs := &flakySession{PaperSession: ps, failTimes: 0}
	pool := newPoolWithSession(fs)
	ex := New(pool, func(err error) FailureClass { return FailureDuplicateTicket })
	fs.failTimes = 1

	out := ex.Submit(ctx, intent, time.Second)
	assert.Equal(t, "execution.reconciled", out.NodeType)
	require.NotNil(t, out.Position)
}
