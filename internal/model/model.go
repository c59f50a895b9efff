// Package model defines the core entities shared across the trading
// runtime: balances, positions, orders, fills, hedge state, funding-rate
// history, risk snapshots/assessments, trading intents, and the audit
// StateTransition record. All quantities use internal/units; no field here
// is a float.
package model

import (
	"time"

	"fundingarb/internal/units"
)

// Side is a trade or position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
)

// Balance is a single-asset balance. Invariant: AvailableBase + HeldBase ==
// TotalBase (all three share the same asset's base-unit decimals).
type Balance struct {
	Asset         string
	AvailableBase units.Base
	HeldBase      units.Base
	TotalBase     units.Base
}

// Valid reports whether the balance satisfies its accounting invariant.
func (b Balance) Valid() bool {
	return b.AvailableBase.Add(b.HeldBase).Cmp(b.TotalBase) == 0
}

// Position is the venue's own view of an open perpetual position.
type Position struct {
	Symbol               string
	Side                 Side
	SizeBase             units.Base
	EntryPriceQuote      units.Quote
	MarkPriceQuote       units.Quote
	LiquidationPriceQuote *units.Quote
	UnrealizedPnlQuote    units.Quote
	LeverageBps           units.Bps
	MarginQuote           units.Quote
}

// PositionSource tags where a DerivedPosition's data came from.
type PositionSource string

const (
	SourceREST       PositionSource = "rest"
	SourceDerived    PositionSource = "derived"
	SourceReconciled PositionSource = "reconciled"
)

// EntryContext is the set of facts recorded when a hedge is opened, needed
// later by exit-signal evaluation (trend/regime reversal since entry). It is
// not part of the venue's own position record, so the execution engine
// stashes it in the state store at entry time and clears it at exit.
type EntryContext struct {
	Time           time.Time
	PriceQuote     units.Quote
	FundingRateBps units.Bps
	Trend          Trend
	Regime         Regime
}

// DerivedPosition is the enriched position view produced by internal/derive.
type DerivedPosition struct {
	Open                   bool
	Side                   *Side
	SpotQuantityBase       units.Base
	PerpQuantityBase       units.Base
	NotionalQuote          units.Quote
	EntryTime              *time.Time
	EntryPriceQuote        *units.Quote
	EntryFundingRateBps    *units.Bps
	EntryTrend             *Trend
	EntryRegime            *Regime
	MarkPriceQuote         units.Quote
	UnrealizedPnlQuote     units.Quote
	FundingAccruedQuote    units.Quote
	MarginUsedQuote        units.Quote
	MarginBufferBps        units.Bps
	LiquidationPriceQuote  *units.Quote
	LiquidationDistanceBps units.Bps
	LastUpdated            time.Time
	Source                 PositionSource
}

// OrderType mirrors the subset of venue order types the core issues.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is a node in the order state machine (internal/orderfsm).
type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderAcked     OrderStatus = "ACKED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderRejected  OrderStatus = "REJECTED"
)

// ManagedOrder is the core's own record of an order it submitted.
type ManagedOrder struct {
	ID                 string
	IntentID            string
	Symbol              string
	Side                Side
	Type                OrderType
	QuantityBase        units.Base
	FilledQuantityBase  units.Base
	PriceQuote          *units.Quote
	AvgFillPriceQuote   *units.Quote
	Status              OrderStatus
	ExchangeOrderID     *string
	SubmittedAt         *time.Time
	AckedAt             *time.Time
	CancelReason        *string
	RejectError         *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsTerminal reports whether Status is one of the terminal order states.
func (o *ManagedOrder) IsTerminal() bool {
	switch o.Status {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// RemainingQuantityBase is QuantityBase - FilledQuantityBase.
func (o *ManagedOrder) RemainingQuantityBase() units.Base {
	return o.QuantityBase.Sub(o.FilledQuantityBase)
}

// Fill is a single execution report against a ManagedOrder.
type Fill struct {
	ID              string
	OrderID         string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	QuantityBase    units.Base
	PriceQuote      units.Quote
	FeeQuote        units.Quote
	FeeAsset        string
	Timestamp       time.Time
}

// HedgePhase is a node in the hedge state machine (internal/hedgefsm).
type HedgePhase string

const (
	HedgeIdle           HedgePhase = "IDLE"
	HedgeEnteringPerp   HedgePhase = "ENTERING_PERP"
	HedgeEnteringSpot   HedgePhase = "ENTERING_SPOT"
	HedgeActive         HedgePhase = "ACTIVE"
	HedgeExitingSpot    HedgePhase = "EXITING_SPOT"
	HedgeExitingPerp    HedgePhase = "EXITING_PERP"
	HedgeClosed         HedgePhase = "CLOSED"
)

// HedgeState is the discriminated state of one multi-leg hedge job.
type HedgeState struct {
	Phase            HedgePhase
	IntentID         string
	Symbol           string
	PerpQuantityBase units.Base
	SpotQuantityBase units.Base
	RealizedPnlQuote *units.Quote // set only in the CLOSED terminal variant
}

// FundingRateSource tags the origin of a FundingRateSnapshot.
type FundingRateSource string

const (
	FundingSourceExchange  FundingRateSource = "exchange"
	FundingSourceCalculated FundingRateSource = "calculated"
)

// FundingRateSnapshot is one observation of a perpetual's funding rate.
type FundingRateSnapshot struct {
	Symbol           string
	CurrentRateBps   units.Bps
	PredictedRateBps units.Bps
	NextFundingTime  time.Time
	LastFundingTime  time.Time
	MarkPriceQuote   units.Quote
	IndexPriceQuote  units.Quote
	Timestamp        time.Time
	Source           FundingRateSource
}

// Trend classifies the direction of recent funding-rate movement.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Regime classifies the recent funding-rate environment.
type Regime string

const (
	RegimeHighStable   Regime = "high_stable"
	RegimeHighVolatile Regime = "high_volatile"
	RegimeLowStable    Regime = "low_stable"
	RegimeLowVolatile  Regime = "low_volatile"
)

// MaxFundingHistory is the bound on retained snapshots (spec: <= 48).
const MaxFundingHistory = 48

// FundingRateHistory is a bounded ordered sequence of snapshots plus the
// derived trend/regime statistics computed from it.
type FundingRateHistory struct {
	Snapshots      []FundingRateSnapshot
	AverageRateBps units.Bps
	VolatilityBps  units.Bps
	Trend          Trend
	Regime         Regime
}

// RiskSnapshot is the input to the risk engine.
type RiskSnapshot struct {
	EquityQuote     units.Quote
	MarginUsedQuote units.Quote
	Position        *DerivedPosition
	DailyPnlQuote   units.Quote
	PeakEquityQuote units.Quote
}

// RiskLevel is the qualitative risk classification produced by the risk engine.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "SAFE"
	RiskCaution RiskLevel = "CAUTION"
	RiskWarning RiskLevel = "WARNING"
	RiskDanger  RiskLevel = "DANGER"
	RiskBlocked RiskLevel = "BLOCKED"
)

// RiskAction is what the evaluator should do in response to a RiskAssessment.
type RiskAction string

const (
	ActionAllow RiskAction = "ALLOW"
	ActionPause RiskAction = "PAUSE"
	ActionExit  RiskAction = "EXIT"
	ActionBlock RiskAction = "BLOCK"
)

// RiskMetrics are the computed numeric inputs behind a RiskAssessment.
type RiskMetrics struct {
	NotionalQuote          units.Quote
	LeverageBps            units.Bps
	MarginUtilizationBps   units.Bps
	LiquidationDistanceBps units.Bps
	DailyPnlQuote          units.Quote
	DrawdownBps            units.Bps
}

// RiskAssessment is the output of the risk engine.
type RiskAssessment struct {
	Level   RiskLevel
	Action  RiskAction
	Reasons []string
	Metrics RiskMetrics
}

// Confidence is the strategy engine's confidence in an entry signal.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// IntentKind discriminates the TradingIntent tagged union.
type IntentKind string

const (
	IntentNoop       IntentKind = "NOOP"
	IntentEnterHedge IntentKind = "ENTER_HEDGE"
	IntentExitHedge  IntentKind = "EXIT_HEDGE"
)

// TradingIntent is the evaluator's tagged-union output. Exactly one of the
// Enter/Exit payload fields is meaningful, selected by Kind; callers must
// switch exhaustively on Kind rather than testing payload fields directly.
type TradingIntent struct {
	Kind IntentKind

	// valid when Kind == IntentEnterHedge
	EnterSizeQuote       units.Quote
	EnterExpectedYieldBps units.Bps
	EnterConfidence       Confidence

	// valid when Kind == IntentExitHedge
	ExitReason string
}

// NoopIntent is the canonical NOOP value.
func NoopIntent() TradingIntent { return TradingIntent{Kind: IntentNoop} }

// EnterHedgeIntent builds an ENTER_HEDGE intent.
func EnterHedgeIntent(sizeQuote units.Quote, expectedYieldBps units.Bps, confidence Confidence) TradingIntent {
	return TradingIntent{
		Kind:                  IntentEnterHedge,
		EnterSizeQuote:        sizeQuote,
		EnterExpectedYieldBps: expectedYieldBps,
		EnterConfidence:       confidence,
	}
}

// ExitHedgeIntent builds an EXIT_HEDGE intent.
func ExitHedgeIntent(reason string) TradingIntent {
	return TradingIntent{Kind: IntentExitHedge, ExitReason: reason}
}

// EntityType discriminates what a StateTransition describes.
type EntityType string

const (
	EntityOrder EntityType = "order"
	EntityHedge EntityType = "hedge"
)

// StateTransition is an append-only audit record of one accepted state
// machine transition (order or hedge).
type StateTransition struct {
	ID            string
	Timestamp     time.Time
	EntityType    EntityType
	EntityID      string
	FromState     string
	ToState       string
	Event         string
	CorrelationID string
}

// AssetConfig is the static per-symbol configuration consumed by position
// derivation and the reconciler.
type AssetConfig struct {
	PerpSymbol   string
	BaseAsset    string
	QuoteAsset   string
	BaseDecimals int
}

// Clock abstracts time.Now so tests can use a fake clock instead of sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock implementation used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
