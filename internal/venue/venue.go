// Package venue defines the narrow contract the trading core depends on for
// every exchange interaction: connection lifecycle, account queries, order
// operations, position/market reads, and a ticker stream subscription. The
// core is polymorphic over implementations (paper, real venue adapters);
// only a paper implementation ships here (internal/venue/paper), used as a
// test collaborator. A concrete REST+stream client for a specific exchange
// is an external collaborator, not part of this module.
package venue

import (
	"context"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// ErrorCode classifies a venue-reported failure.
type ErrorCode string

const (
	ErrAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"
	ErrInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrOrderNotFound        ErrorCode = "ORDER_NOT_FOUND"
	ErrInvalidOrder         ErrorCode = "INVALID_ORDER"
	ErrNetwork              ErrorCode = "NETWORK_ERROR"
	ErrUnknown              ErrorCode = "UNKNOWN"
)

// Error is the typed error every Gateway operation fails with.
type Error struct {
	Code    ErrorCode
	Message string
	// RetryAfter is set when the venue supplied an explicit backoff hint
	// (e.g. HTTP 429's Retry-After header).
	RetryAfter *time.Duration
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// IsRetryable reports whether the request policy should retry this failure.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrRateLimited, ErrNetwork:
		return true
	default:
		return false
	}
}

// RetryAfterHint returns the venue-supplied backoff duration, if any.
func (e *Error) RetryAfterHint() (time.Duration, bool) {
	if e.RetryAfter == nil {
		return 0, false
	}
	return *e.RetryAfter, true
}

// OrderRequest is what the core submits to place an order.
type OrderRequest struct {
	Symbol   string
	Side     model.Side
	Type     model.OrderType
	QuantityBase units.Base
	PriceQuote   *units.Quote // nil for market orders
	ReduceOnly   bool
}

// OrderResult is the venue's immediate response to createOrder.
type OrderResult struct {
	ExchangeOrderID string
	Status          model.OrderStatus
	FilledQuantityBase units.Base
	AvgFillPriceQuote  *units.Quote
}

// OrderBookLevel is one side's price/size pair.
type OrderBookLevel struct {
	PriceQuote units.Quote
	SizeBase   units.Base
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
}

// Ticker is the latest traded/mark price for a symbol.
type Ticker struct {
	Symbol         string
	LastPriceQuote units.Quote
	MarkPriceQuote units.Quote
	Timestamp      time.Time
}

// TickerUpdate is delivered to stream subscribers; timestamps are
// monotonically increasing per symbol, duplicates are the caller's to filter.
type TickerUpdate struct {
	Ticker    Ticker
	Timestamp time.Time
}

// TickerCallback receives stream updates. Implementations must not block.
type TickerCallback func(TickerUpdate)

// Gateway is the full venue contract. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetBalance(ctx context.Context, asset string) (model.Balance, error)
	GetBalances(ctx context.Context) ([]model.Balance, error)

	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetOrder(ctx context.Context, exchangeOrderID string) (OrderResult, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)

	GetPosition(ctx context.Context, symbol string) (*model.Position, error)
	GetPositions(ctx context.Context) ([]model.Position, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetFundingRate(ctx context.Context, symbol string) (model.FundingRateSnapshot, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)

	SubscribeTicker(symbol string, cb TickerCallback) error
	UnsubscribeTicker(symbol string) error
}
