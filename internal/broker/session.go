// Package broker implements BrokerPool: a managed set of broker sessions
// with reconnect/health tracking and position reconciliation, per
// SPEC_FULL.md §4.4.
//
// The Session interface is grounded on the teacher's exchange.Exchange
// interface, generalized from its concrete PlaceOrder/CancelOrder/GetOrder
// shape to the seven abstract operations named in spec §6 (connect,
// disconnect, heartbeat, submit_order, close_position, list_positions,
// subscribe_ticks) so BrokerPool stays opaque to the bound vendor, per
// SPEC_FULL.md §2.2's decision to drop the teacher's concrete Binance SDK.
package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest is what Executor submits to a Session.
type OrderRequest struct {
	ClientToken string
	Symbol      string
	Side        string // BUY or SELL
	Volume      decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
}

// OrderResult is a Session's response to a successful submit_order call.
type OrderResult struct {
	Ticket     string
	FilledAt   decimal.Decimal
	ClientToken string
}

// Tick is one price update delivered by subscribe_ticks.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// RemotePosition is a broker-reported open position, used by BrokerPool's
// reconciliation pass to diff against the local StateStore view.
type RemotePosition struct {
	Ticket     string
	Symbol     string
	Side       string
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
}

// Session is the broker abstraction named in spec §6: connect, disconnect,
// heartbeat, submit_order, close_position, list_positions, subscribe_ticks.
// BrokerPool hands the same Session to every caller of a profile and does
// not serialize their use of it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Heartbeat(ctx context.Context) error
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	// FindByClientToken supports Executor's idempotent resubmission: on
	// reconnect-mid-submit, query the broker for an order already placed
	// under this token before retrying (grounded on the teacher's
	// currentSessionID/client-token bookkeeping in BinanceExchange).
	FindByClientToken(ctx context.Context, clientToken string) (*OrderResult, error)
	ClosePosition(ctx context.Context, ticket string) error
	ListPositions(ctx context.Context) ([]RemotePosition, error)
	SubscribeTicks(ctx context.Context, symbols []string) (<-chan Tick, error)
}
