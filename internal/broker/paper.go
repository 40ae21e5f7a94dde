package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperSession is an in-memory Session used for tests and the default
// development backend, grounded on the teacher's MockExchange (paper
// trading simulation of order fills against a map of orders/market prices),
// generalized to the seven-operation Session interface.
type PaperSession struct {
	mu        sync.Mutex
	connected bool
	accountID string
	prices    map[string]decimal.Decimal
	positions map[string]RemotePosition
	byToken   map[string]OrderResult
}

func NewPaperSession() *PaperSession {
	return &PaperSession{
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]RemotePosition),
		byToken:   make(map[string]OrderResult),
	}
}

// WithAccountID tags the session with the vendor account its Vault-resolved
// credentials authenticate against, so logs and reconciliation can identify
// which upstream account a paper fill stands in for.
func (p *PaperSession) WithAccountID(id string) *PaperSession {
	p.accountID = id
	return p
}

func (p *PaperSession) AccountID() string { return p.accountID }

func (p *PaperSession) SetMarketPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperSession) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *PaperSession) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *PaperSession) Heartbeat(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return fmt.Errorf("paper session: not connected")
	}
	return nil
}

func (p *PaperSession) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byToken[req.ClientToken]; ok {
		return &existing, nil // duplicate ticket: treat as success
	}

	price, ok := p.prices[req.Symbol]
	if !ok {
		price = decimal.Zero
	}
	ticket := uuid.NewString()
	result := OrderResult{Ticket: ticket, FilledAt: price, ClientToken: req.ClientToken}
	p.byToken[req.ClientToken] = result
	p.positions[ticket] = RemotePosition{
		Ticket: ticket, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume, EntryPrice: price,
	}
	return &result, nil
}

func (p *PaperSession) FindByClientToken(ctx context.Context, clientToken string) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.byToken[clientToken]; ok {
		return &r, nil
	}
	return nil, nil
}

func (p *PaperSession) ClosePosition(ctx context.Context, ticket string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, ticket)
	return nil
}

func (p *PaperSession) ListPositions(ctx context.Context) ([]RemotePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RemotePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperSession) SubscribeTicks(ctx context.Context, symbols []string) (<-chan Tick, error) {
	ch := make(chan Tick)
	close(ch) // paper session never emits live ticks; tests push prices via SetMarketPrice
	return ch, nil
}
