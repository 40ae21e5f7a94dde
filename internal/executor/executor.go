// Package executor implements Executor: turns an OrderIntent into an
// executed Position or a reported failure, within a bounded time, per
// SPEC_FULL.md §4.3.
//
// Grounded on the teacher's exchange/retry.go (WithRetry, context-aware
// exponential backoff) and exchange/binance.go's retryWithBackoff +
// isRetryableError classification idiom, but reimplemented locally with the
// fixed 1s/2s/4s schedule and per-failure-class table from spec §4.3: the
// backoff schedule itself is a spec invariant, not a tuning parameter, so a
// generic retry library's configurable factor is not a fit here (see
// SPEC_FULL.md §2.2).
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-io/gateway/internal/broker"
	"github.com/archon-io/gateway/internal/domain"
)

// FailureClass classifies a broker error into one of the five rows of spec
// §4.3's retry policy table.
type FailureClass int

const (
	FailureNetwork FailureClass = iota
	FailureBrokerReject
	FailureMarketClosed
	FailureDuplicateTicket
	FailureConnectionLost
)

// ClassifyFunc maps a raw broker error to a FailureClass. Supplied by the
// caller since the classification rules are broker-specific; DefaultClassify
// covers the paper session and common sentinel errors.
type ClassifyFunc func(err error) FailureClass

var ErrMarketClosed = errors.New("executor: market closed")
var ErrBrokerReject = errors.New("executor: broker rejected order")
var ErrConnectionLost = errors.New("executor: connection lost mid-submit")

// DefaultClassify implements the failure-class mapping used when no
// broker-specific classifier is supplied.
func DefaultClassify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrMarketClosed):
		return FailureMarketClosed
	case errors.Is(err, ErrBrokerReject):
		return FailureBrokerReject
	case errors.Is(err, ErrConnectionLost):
		return FailureConnectionLost
	default:
		return FailureNetwork
	}
}

// Outcome is the terminal result of Submit, carrying enough detail for the
// caller to write the corresponding decision node.
type Outcome struct {
	Position *PositionResult
	// NodeType mirrors the "terminal node" column of spec §4.3's table:
	// execution.failed / execution.rejected / execution.market_closed /
	// execution.reconciled.
	NodeType string
	Err      error
	Attempts int
}

// PositionResult is what Executor reports after a successful submission,
// containing everything position.opened needs (spec §4.3).
type PositionResult struct {
	Ticket      string
	FilledPrice decimal.Decimal
	ClientToken string
}

// Executor submits OrderIntents against a broker.Pool session, applying the
// retry policy table.
type Executor struct {
	pool      *broker.Pool
	classify  ClassifyFunc
	backoffs  []time.Duration
}

func New(pool *broker.Pool, classify ClassifyFunc) *Executor {
	if classify == nil {
		classify = DefaultClassify
	}
	return &Executor{
		pool:     pool,
		classify: classify,
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// Submit acquires a session for the intent's profile and applies spec
// §4.3's retry policy. Each submit carries a client-generated token so a
// reconnect-mid-submit can query the broker for that token before retrying,
// per invariant "idempotency for in-flight submits".
func (e *Executor) Submit(ctx context.Context, intent domain.OrderIntent, acquireTimeout time.Duration) Outcome {
	clientToken := intent.ClientToken
	if clientToken == "" {
		clientToken = uuid.NewString()
	}

	req := broker.OrderRequest{
		ClientToken: clientToken,
		Symbol:      intent.Signal.Symbol,
		Side:        string(intent.Signal.Direction),
		Volume:      intent.Volume,
		StopLoss:    intent.Signal.StopLoss,
		TakeProfit:  intent.Signal.TakeProfit,
	}

	sess, err := e.pool.Acquire(ctx, intent.Signal.ProfileID, acquireTimeout)
	if err != nil {
		return Outcome{NodeType: "execution.failed", Err: err, Attempts: 0}
	}

	attempts := 0
	var lastErr error

	for {
		attempts++
		result, err := sess.SubmitOrder(ctx, req)
		if err == nil {
			return Outcome{
				Position: &PositionResult{Ticket: result.Ticket, FilledPrice: result.FilledAt, ClientToken: clientToken},
				NodeType: "position.opened",
				Attempts: attempts,
			}
		}
		lastErr = err

		switch e.classify(err) {
		case FailureMarketClosed:
			return Outcome{NodeType: "execution.market_closed", Err: err, Attempts: attempts}

		case FailureBrokerReject:
			return Outcome{NodeType: "execution.rejected", Err: err, Attempts: attempts}

		case FailureDuplicateTicket:
			// Duplicate ticket: treat as success; reconcile against the
			// broker's record for this client token.
			existing, findErr := sess.FindByClientToken(ctx, clientToken)
			if findErr == nil && existing != nil {
				return Outcome{
					Position: &PositionResult{Ticket: existing.Ticket, FilledPrice: existing.FilledAt, ClientToken: clientToken},
					NodeType: "execution.reconciled",
					Attempts: attempts,
				}
			}
			return Outcome{NodeType: "execution.failed", Err: err, Attempts: attempts}

		case FailureConnectionLost:
			// Exactly one idempotent retry after a 2s backoff, per spec's
			// connection-lost-mid-submit row.
			select {
			case <-ctx.Done():
				return Outcome{NodeType: "execution.failed", Err: ctx.Err(), Attempts: attempts}
			case <-time.After(2 * time.Second):
			}
			if existing, findErr := sess.FindByClientToken(ctx, clientToken); findErr == nil && existing != nil {
				return Outcome{
					Position: &PositionResult{Ticket: existing.Ticket, FilledPrice: existing.FilledAt, ClientToken: clientToken},
					NodeType: "execution.reconciled",
					Attempts: attempts,
				}
			}
			if attempts > 1 {
				return Outcome{NodeType: "execution.failed", Err: lastErr, Attempts: attempts}
			}
			continue

		default: // FailureNetwork: retry up to 3 times, 1s/2s/4s backoff.
			if attempts > len(e.backoffs) {
				return Outcome{NodeType: "execution.failed", Err: lastErr, Attempts: attempts}
			}
			select {
			case <-ctx.Done():
				return Outcome{NodeType: "execution.failed", Err: ctx.Err(), Attempts: attempts}
			case <-time.After(e.backoffs[attempts-1]):
			}
			continue
		}
	}
}
