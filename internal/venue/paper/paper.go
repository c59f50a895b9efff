// Package paper implements an in-process, deterministic venue.Gateway used
// as the core's test collaborator (spec.md's "paper adapter as test
// double"). It fills market orders immediately at a configurable last
// price and lets a test drive ticker/funding/position state directly rather
// than over a network. Fills are not charged any fee.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
)

// Config tunes the paper adapter's simulated fills.
type Config struct {
	FeeRateBps units.Bps // stored only; CreateOrder does not charge it on fills
	Clock      model.Clock
}

// Gateway is the paper venue implementation. Safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	cfg       Config
	connected bool

	balances  map[string]model.Balance
	positions map[string]model.Position
	tickers   map[string]venue.Ticker
	funding   map[string]model.FundingRateSnapshot
	books     map[string]venue.OrderBook
	orders    map[string]venue.OrderResult

	subs map[string]venue.TickerCallback
}

// New constructs an empty paper gateway.
func New(cfg Config) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = model.SystemClock{}
	}
	return &Gateway{
		cfg:       cfg,
		balances:  map[string]model.Balance{},
		positions: map[string]model.Position{},
		tickers:   map[string]venue.Ticker{},
		funding:   map[string]model.FundingRateSnapshot{},
		books:     map[string]venue.OrderBook{},
		orders:    map[string]venue.OrderResult{},
		subs:      map[string]venue.TickerCallback{},
	}
}

// SetBalance seeds or overwrites a balance, used by tests to set up scenarios.
func (g *Gateway) SetBalance(b model.Balance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[b.Asset] = b
}

// SetPosition seeds or overwrites a position.
func (g *Gateway) SetPosition(p model.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[p.Symbol] = p
}

// SetTicker seeds or overwrites a ticker and notifies subscribers.
func (g *Gateway) SetTicker(t venue.Ticker) {
	g.mu.Lock()
	cb, subscribed := g.subs[t.Symbol]
	g.tickers[t.Symbol] = t
	g.mu.Unlock()
	if subscribed {
		cb(venue.TickerUpdate{Ticker: t, Timestamp: t.Timestamp})
	}
}

// SetFunding seeds or overwrites a funding-rate snapshot.
func (g *Gateway) SetFunding(f model.FundingRateSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funding[f.Symbol] = f
}

// SetOrderBook seeds or overwrites a depth snapshot.
func (g *Gateway) SetOrderBook(b venue.OrderBook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.books[b.Symbol] = b
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *Gateway) GetBalance(ctx context.Context, asset string) (model.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.balances[asset]
	if !ok {
		return model.Balance{Asset: asset}, nil
	}
	return b, nil
}

func (g *Gateway) GetBalances(ctx context.Context) ([]model.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Balance, 0, len(g.balances))
	for _, b := range g.balances {
		out = append(out, b)
	}
	return out, nil
}

// CreateOrder fills market orders immediately at the last known ticker
// price; limit orders are accepted but never filled (the paper adapter has
// no resting-order book), matching the teacher's dry-run simplification.
func (g *Gateway) CreateOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tickers[req.Symbol]
	if !ok {
		return venue.OrderResult{}, &venue.Error{Code: venue.ErrInvalidOrder, Message: fmt.Sprintf("no ticker for %s", req.Symbol)}
	}

	id := uuid.NewString()
	res := venue.OrderResult{ExchangeOrderID: id, Status: model.OrderCreated}

	if req.Type == model.OrderTypeMarket {
		fillPrice := t.LastPriceQuote
		res.Status = model.OrderFilled
		res.FilledQuantityBase = req.QuantityBase
		res.AvgFillPriceQuote = &fillPrice
	}

	g.orders[id] = res
	return res, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.orders[exchangeOrderID]
	if !ok {
		return &venue.Error{Code: venue.ErrOrderNotFound, Message: exchangeOrderID}
	}
	if res.Status == model.OrderFilled {
		return &venue.Error{Code: venue.ErrInvalidOrder, Message: "already filled"}
	}
	res.Status = model.OrderCanceled
	g.orders[exchangeOrderID] = res
	return nil
}

func (g *Gateway) GetOrder(ctx context.Context, exchangeOrderID string) (venue.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.orders[exchangeOrderID]
	if !ok {
		return venue.OrderResult{}, &venue.Error{Code: venue.ErrOrderNotFound, Message: exchangeOrderID}
	}
	return res, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]venue.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []venue.OrderResult
	for _, res := range g.orders {
		if res.Status != model.OrderFilled && res.Status != model.OrderCanceled && res.Status != model.OrderRejected {
			out = append(out, res)
		}
	}
	return out, nil
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*model.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (g *Gateway) GetPositions(ctx context.Context) ([]model.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p)
	}
	return out, nil
}

func (g *Gateway) GetTicker(ctx context.Context, symbol string) (venue.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickers[symbol]
	if !ok {
		return venue.Ticker{}, &venue.Error{Code: venue.ErrInvalidOrder, Message: "no ticker: " + symbol}
	}
	return t, nil
}

func (g *Gateway) GetFundingRate(ctx context.Context, symbol string) (model.FundingRateSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.funding[symbol]
	if !ok {
		return model.FundingRateSnapshot{}, &venue.Error{Code: venue.ErrInvalidOrder, Message: "no funding: " + symbol}
	}
	return f, nil
}

func (g *Gateway) GetOrderBook(ctx context.Context, symbol string, depth int) (venue.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.books[symbol]
	if !ok {
		return venue.OrderBook{Symbol: symbol}, nil
	}
	return b, nil
}

func (g *Gateway) SubscribeTicker(symbol string, cb venue.TickerCallback) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[symbol] = cb
	return nil
}

func (g *Gateway) UnsubscribeTicker(symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subs, symbol)
	return nil
}

var _ venue.Gateway = (*Gateway)(nil)

// Now is a small helper so other packages constructing paper-driven tests
// can use the same clock the gateway was configured with.
func (g *Gateway) Now() time.Time { return g.cfg.Clock.Now() }
