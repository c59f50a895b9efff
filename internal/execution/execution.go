// Package execution runs the two-leg hedge enter/exit jobs of spec.md §4.K.
// Grounded on the teacher's internal/order/executor.go (submit-then-confirm
// shape, log.Printf-with-status idiom) and internal/order/async_executor.go
// (retry-with-backoff idiom, now delegated to internal/requestpolicy instead
// of hand-rolled retry loops). Exactly one job runs at a time, enforced by
// the caller (internal/queue), not by this package.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"fundingarb/internal/hedgefsm"
	"fundingarb/internal/model"
	"fundingarb/internal/orderfsm"
	"fundingarb/internal/requestpolicy"
	"fundingarb/internal/risk"
	"fundingarb/internal/statestore"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
)

// ErrSlippageExceeded is returned when the orderbook-estimated slippage for
// a leg exceeds Config.MaxSlippageBps.
var ErrSlippageExceeded = errors.New("execution: slippage exceeds maximum")

// Config is the execution engine's tunable parameters (spec.md §6
// ExecutionConfig).
type Config struct {
	MaxSlippageBps        units.Bps
	AckTimeout            time.Duration
	FillTimeout           time.Duration
	MaxPartialFillRetries int
	MaxHedgeDriftBps      units.Bps
	OrderBookDepth        int
	PollInterval          time.Duration
	BaseDecimals          int
}

// DefaultConfig mirrors spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxSlippageBps:        units.NewBps(20),
		AckTimeout:            5 * time.Second,
		FillTimeout:           30 * time.Second,
		MaxPartialFillRetries: 3,
		MaxHedgeDriftBps:      units.NewBps(50),
		OrderBookDepth:        20,
		PollInterval:          200 * time.Millisecond,
		BaseDecimals:          8,
	}
}

// BreakerConfig is the execution circuit breaker's requestpolicy.Config,
// tuned more conservatively than the request-policy's own breaker per
// spec.md §4.K: opens after 2 consecutive failures, 30s reset.
func BreakerConfig() requestpolicy.Config {
	cfg := requestpolicy.DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.ResetTimeout = 30 * time.Second
	return cfg
}

// RiskSnapshotProvider supplies a fresh RiskSnapshot for the pre-flight check.
type RiskSnapshotProvider func(ctx context.Context) (model.RiskSnapshot, error)

// Emitter receives every accepted hedge StateTransition, e.g. to append to
// internal/audit or fan out on internal/events.
type Emitter func(model.StateTransition)

// Engine runs enter/exit hedge jobs against one venue gateway.
type Engine struct {
	Gateway  venue.Gateway
	Store    *statestore.Store
	Policy   *requestpolicy.Policy
	RiskSnap RiskSnapshotProvider
	RiskCfg  risk.Config
	Config   Config
	Emit     Emitter
	Clock    model.Clock
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) emit(t model.StateTransition) {
	if e.Emit != nil {
		e.Emit(t)
	}
}

// EnterHedge implements spec.md §4.K's "Enter hedge": sell the perpetual
// leg, buy the spot leg, check drift between the two fills.
func (e *Engine) EnterHedge(ctx context.Context, intentID, symbol, perpSymbol string, sizeBase units.Base) error {
	snap, err := e.RiskSnap(ctx)
	if err != nil {
		return fmt.Errorf("execution: risk snapshot: %w", err)
	}
	if assessment := risk.Evaluate(snap, e.RiskCfg); assessment.Action != model.ActionAllow {
		log.Printf("execution: enter hedge %s aborted pre-flight, risk action=%s", intentID, assessment.Action)
		return nil
	}

	if err := e.checkSlippage(ctx, perpSymbol, sizeBase, false); err != nil {
		return err
	}

	state, transition, _ := hedgefsm.Apply(hedgefsm.New(), hedgefsm.Event{Kind: hedgefsm.EventStartEntry, IntentID: intentID, Symbol: symbol}, e.now())
	e.emit(transition)

	perpFilled, perpEntryAvg, err := e.placeLegAndConfirm(ctx, intentID, perpSymbol, model.SideSell, sizeBase)
	if err != nil {
		return fmt.Errorf("execution: perp leg: %w", err)
	}
	state, transition, _ = hedgefsm.Apply(state, hedgefsm.Event{Kind: hedgefsm.EventPerpFilled, QtyBase: perpFilled}, e.now())
	e.emit(transition)

	spotFilled, _, err := e.placeLegAndConfirm(ctx, intentID, symbol, model.SideBuy, sizeBase)
	if err != nil {
		return fmt.Errorf("execution: spot leg: %w", err)
	}
	state, transition, _ = hedgefsm.Apply(state, hedgefsm.Event{Kind: hedgefsm.EventSpotFilled, QtyBase: spotFilled}, e.now())
	e.emit(transition)

	if driftBps := hedgeDriftBps(spotFilled, perpFilled); driftBps.Cmp(e.Config.MaxHedgeDriftBps) > 0 {
		log.Printf("execution: hedge %s drift %sbps exceeds max, attempting correction", intentID, driftBps.String())
		if err := e.correctDrift(ctx, intentID, symbol, perpSymbol, spotFilled, perpFilled); err != nil {
			log.Printf("execution: hedge %s drift correction failed, escalating to exit: %v", intentID, err)
			return e.ExitHedge(ctx, intentID+"-escalated", "drift_correction_failed", symbol, perpSymbol, spotFilled, perpFilled, perpEntryAvg)
		}
	}

	_ = state
	e.refreshState(ctx, symbol, perpSymbol)
	log.Printf("execution: hedge %s entered, perp=%s spot=%s", intentID, perpFilled.String(), spotFilled.String())
	return nil
}

// ExitHedge implements spec.md §4.K's "Exit hedge": sell the spot leg,
// buy-to-close the perpetual leg, check drift on the residuals. entryPriceQuote
// is the mark price recorded when the hedge was opened (DerivedPosition's
// EntryPriceQuote); it is what lets realizedPnl value the exit against the
// entry instead of just against itself.
func (e *Engine) ExitHedge(ctx context.Context, intentID, reason, symbol, perpSymbol string, spotSizeBase, perpSizeBase units.Base, entryPriceQuote units.Quote) error {
	if err := e.checkSlippage(ctx, perpSymbol, perpSizeBase, true); err != nil {
		return err
	}

	state := model.HedgeState{Phase: model.HedgeActive, IntentID: intentID, Symbol: symbol, SpotQuantityBase: spotSizeBase, PerpQuantityBase: perpSizeBase}
	state, transition, _ := hedgefsm.Apply(state, hedgefsm.Event{Kind: hedgefsm.EventStartExit, Reason: reason}, e.now())
	e.emit(transition)

	spotSold, spotAvgPrice, err := e.placeLegAndConfirm(ctx, intentID, symbol, model.SideSell, spotSizeBase)
	if err != nil {
		return fmt.Errorf("execution: spot exit leg: %w", err)
	}
	state, transition, _ = hedgefsm.Apply(state, hedgefsm.Event{Kind: hedgefsm.EventSpotSold}, e.now())
	e.emit(transition)

	perpClosed, perpAvgPrice, err := e.placeLegAndConfirm(ctx, intentID, perpSymbol, model.SideBuy, perpSizeBase)
	if err != nil {
		return fmt.Errorf("execution: perp exit leg: %w", err)
	}
	pnl := realizedPnl(entryPriceQuote, e.Config.BaseDecimals, spotSold, spotAvgPrice, perpClosed, perpAvgPrice)
	state, transition, _ = hedgefsm.Apply(state, hedgefsm.Event{Kind: hedgefsm.EventPerpClosed, PnlQuote: pnl}, e.now())
	e.emit(transition)

	if driftBps := hedgeDriftBps(spotSold, perpClosed); driftBps.Cmp(e.Config.MaxHedgeDriftBps) > 0 {
		log.Printf("execution: hedge %s exit drift %sbps on residuals (reason=%s)", intentID, driftBps.String(), reason)
	}

	e.refreshState(ctx, symbol, perpSymbol)
	log.Printf("execution: hedge %s exited (reason=%s), perp=%s spot=%s", intentID, reason, perpClosed.String(), spotSold.String())
	return nil
}

// refreshState requests a targeted re-read of balances and the perp
// position right after a hedge job completes (spec.md §4.K step 7), rather
// than waiting for the next scheduled reconciliation pass.
func (e *Engine) refreshState(ctx context.Context, symbol, perpSymbol string) {
	if balances, err := e.Gateway.GetBalances(ctx); err == nil {
		e.Store.SetBalances(balances)
	}
	if pos, err := e.Gateway.GetPosition(ctx, perpSymbol); err == nil && pos != nil {
		e.Store.SetPosition(*pos)
	} else {
		e.Store.ClearPosition(perpSymbol)
	}
	_ = symbol
}

// checkSlippage fetches the orderbook and estimates the worst fill price to
// absorb sizeBase on the appropriate side, failing if the implied slippage
// from the best price exceeds Config.MaxSlippageBps.
func (e *Engine) checkSlippage(ctx context.Context, symbol string, sizeBase units.Base, buying bool) error {
	book, err := requestpolicy.Do(ctx, e.Policy, requestpolicy.Options{Endpoint: "orderbook", Category: requestpolicy.CategoryPublic}, func(ctx context.Context) (venue.OrderBook, error) {
		return e.Gateway.GetOrderBook(ctx, symbol, e.Config.OrderBookDepth)
	})
	if err != nil {
		return fmt.Errorf("execution: orderbook: %w", err)
	}

	levels := book.Bids
	if buying {
		levels = book.Asks
	}
	if len(levels) == 0 {
		return nil
	}

	best := levels[0].PriceQuote
	worst := worstFillPrice(levels, sizeBase)
	slippageBps := units.BpsOfQuote(worst.Sub(best).Abs(), best)
	if slippageBps.Cmp(e.Config.MaxSlippageBps) > 0 {
		return ErrSlippageExceeded
	}
	return nil
}

// worstFillPrice walks levels from the top of book until sizeBase is
// absorbed, returning the price of the last level consumed.
func worstFillPrice(levels []venue.OrderBookLevel, sizeBase units.Base) units.Quote {
	remaining := sizeBase
	last := levels[0].PriceQuote
	for _, lvl := range levels {
		last = lvl.PriceQuote
		if remaining.Cmp(lvl.SizeBase) <= 0 {
			break
		}
		remaining = remaining.Sub(lvl.SizeBase)
	}
	return last
}

// placeLegAndConfirm submits a market order for qtyBase and polls until
// filled (spec.md §4.K step 4), placing additional orders for any remainder
// up to Config.MaxPartialFillRetries. Each venue order is driven through
// internal/orderfsm under a ManagedOrder scoped to intentID's execution job
// (spec.md §3: "ManagedOrder records exist ... for the duration of one
// execution job"), so every accepted state move also yields an order
// StateTransition alongside the hedge-level ones EnterHedge/ExitHedge emit.
func (e *Engine) placeLegAndConfirm(ctx context.Context, intentID, symbol string, side model.Side, qtyBase units.Base) (units.Base, units.Quote, error) {
	filled := units.ZeroBase()
	var lastAvg units.Quote
	remaining := qtyBase

	for attempt := 0; attempt <= e.Config.MaxPartialFillRetries; attempt++ {
		if remaining.IsZero() {
			break
		}
		res, err := requestpolicy.Do(ctx, e.Policy, requestpolicy.Options{Endpoint: "order:create", Category: requestpolicy.CategoryOrders}, func(ctx context.Context) (venue.OrderResult, error) {
			return e.Gateway.CreateOrder(ctx, venue.OrderRequest{Symbol: symbol, Side: side, Type: model.OrderTypeMarket, QuantityBase: remaining})
		})
		if err != nil {
			return filled, lastAvg, err
		}

		order := &model.ManagedOrder{
			ID:           intentID + "-" + symbol + "-" + string(side) + "-" + strconv.Itoa(attempt),
			IntentID:     intentID,
			Symbol:       symbol,
			Side:         side,
			Type:         model.OrderTypeMarket,
			QuantityBase: remaining,
			Status:       model.OrderCreated,
			CreatedAt:    e.now(),
			UpdatedAt:    e.now(),
		}
		e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventSubmit}, e.now())

		confirmed, avg, err := e.confirmOrder(ctx, order, res)
		if err != nil {
			return filled, lastAvg, err
		}
		filled = filled.Add(confirmed)
		if avg.Sign() > 0 {
			lastAvg = avg
		}
		remaining = qtyBase.Sub(filled)
		if remaining.Sign() < 0 {
			remaining = units.ZeroBase()
		}
	}
	return filled, lastAvg, nil
}

// applyOrderEvent drives order through orderfsm, emits the resulting
// StateTransition, and keeps the store's open-orders view in sync: upserted
// while live, removed once the order reaches a terminal status.
func (e *Engine) applyOrderEvent(order *model.ManagedOrder, ev orderfsm.Event, now time.Time) {
	tr, err := orderfsm.Apply(order, ev, now)
	if err != nil {
		log.Printf("execution: order %s fsm event %s rejected: %v", order.ID, ev.Kind, err)
		return
	}
	e.emit(tr)
	if e.Store == nil {
		return
	}
	if order.IsTerminal() {
		e.Store.RemoveOrder(order.ID)
	} else {
		e.Store.UpsertOrder(*order)
	}
}

// confirmOrder polls an order's status until FILLED or the ack+fill deadline
// elapses, driving order through orderfsm at every observed status change. A
// deadline with no fill drives the order to CANCELED via EventTimeout rather
// than just returning an error (spec.md property 4).
func (e *Engine) confirmOrder(ctx context.Context, order *model.ManagedOrder, res venue.OrderResult) (units.Base, units.Quote, error) {
	if res.Status == model.OrderFilled {
		avg := units.ZeroQuote()
		if res.AvgFillPriceQuote != nil {
			avg = *res.AvgFillPriceQuote
		}
		e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventAck, ExchangeOrderID: res.ExchangeOrderID}, e.now())
		e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventFill, QuantityBase: res.FilledQuantityBase, AvgPriceQuote: avg}, e.now())
		return res.FilledQuantityBase, avg, nil
	}
	if res.Status == model.OrderRejected {
		e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventReject, Error: "rejected by venue"}, e.now())
		return units.ZeroBase(), units.ZeroQuote(), fmt.Errorf("execution: order %s rejected", res.ExchangeOrderID)
	}
	e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventAck, ExchangeOrderID: res.ExchangeOrderID}, e.now())

	deadline := e.now().Add(e.Config.AckTimeout + e.Config.FillTimeout)
	ticker := time.NewTicker(e.Config.PollInterval)
	defer ticker.Stop()

	lastAvg := func() units.Quote {
		if order.AvgFillPriceQuote != nil {
			return *order.AvgFillPriceQuote
		}
		return units.ZeroQuote()
	}

	for {
		select {
		case <-ctx.Done():
			return order.FilledQuantityBase, lastAvg(), ctx.Err()
		case <-ticker.C:
			updated, err := requestpolicy.Do(ctx, e.Policy, requestpolicy.Options{Endpoint: "order:get", Category: requestpolicy.CategoryOrders}, func(ctx context.Context) (venue.OrderResult, error) {
				return e.Gateway.GetOrder(ctx, res.ExchangeOrderID)
			})
			if err != nil {
				return order.FilledQuantityBase, lastAvg(), err
			}

			now := e.now()
			switch updated.Status {
			case model.OrderFilled:
				delta := updated.FilledQuantityBase.Sub(order.FilledQuantityBase)
				if delta.Sign() < 0 {
					delta = units.ZeroBase()
				}
				avg := units.ZeroQuote()
				if updated.AvgFillPriceQuote != nil {
					avg = *updated.AvgFillPriceQuote
				}
				e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventFill, QuantityBase: delta, AvgPriceQuote: avg}, now)
				return order.FilledQuantityBase, lastAvg(), nil
			case model.OrderPartial:
				delta := updated.FilledQuantityBase.Sub(order.FilledQuantityBase)
				if delta.Sign() > 0 {
					avg := units.ZeroQuote()
					if updated.AvgFillPriceQuote != nil {
						avg = *updated.AvgFillPriceQuote
					}
					e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventPartialFill, QuantityBase: delta, AvgPriceQuote: avg}, now)
				}
			case model.OrderRejected:
				e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventReject, Error: "rejected by venue"}, now)
				return order.FilledQuantityBase, lastAvg(), fmt.Errorf("execution: order %s rejected by venue", res.ExchangeOrderID)
			case model.OrderCanceled:
				e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventCancel, Reason: "venue_canceled"}, now)
				return order.FilledQuantityBase, lastAvg(), fmt.Errorf("execution: order %s canceled by venue", res.ExchangeOrderID)
			}

			if now.After(deadline) {
				e.applyOrderEvent(order, orderfsm.Event{Kind: orderfsm.EventTimeout, Reason: "Timeout: order not filled before deadline"}, now)
				return order.FilledQuantityBase, lastAvg(), fmt.Errorf("execution: order %s not filled before deadline", res.ExchangeOrderID)
			}
		}
	}
}

// correctDrift places a small corrective order to close the gap between the
// two legs. Left as a single best-effort attempt; failure is the caller's
// signal to escalate to an exit.
func (e *Engine) correctDrift(ctx context.Context, intentID, symbol, perpSymbol string, spotFilled, perpFilled units.Base) error {
	gap := spotFilled.Sub(perpFilled).Abs()
	if gap.IsZero() {
		return nil
	}
	side := model.SideSell
	target := symbol
	if spotFilled.Cmp(perpFilled) < 0 {
		side = model.SideBuy
	}
	_, _, err := e.placeLegAndConfirm(ctx, intentID, target, side, gap)
	_ = perpSymbol
	return err
}

// realizedPnl values the exit fills against the hedge's entry price: the
// short perp leg profits as price falls below entry, the long spot leg
// profits as price rises above entry (spec.md §3 "Carries ... realized P&L
// in the terminal variant").
func realizedPnl(entryPriceQuote units.Quote, baseDecimals int, spotSold units.Base, spotAvgPrice units.Quote, perpClosed units.Base, perpAvgPrice units.Quote) units.Quote {
	perpPnl := units.NotionalQuote(perpClosed, entryPriceQuote, baseDecimals).Sub(units.NotionalQuote(perpClosed, perpAvgPrice, baseDecimals))
	spotPnl := units.NotionalQuote(spotSold, spotAvgPrice, baseDecimals).Sub(units.NotionalQuote(spotSold, entryPriceQuote, baseDecimals))
	return perpPnl.Add(spotPnl)
}

// hedgeDriftBps computes |spot-perp| / max(spot,perp) in bps (spec.md §4.K
// step 6). Returns 0 when both legs are empty.
func hedgeDriftBps(spotFilled, perpFilled units.Base) units.Bps {
	maxQty := spotFilled
	if perpFilled.Cmp(maxQty) > 0 {
		maxQty = perpFilled
	}
	if maxQty.IsZero() {
		return units.ZeroBps()
	}
	return units.BpsOfBase(spotFilled.Sub(perpFilled).Abs(), maxQty)
}
