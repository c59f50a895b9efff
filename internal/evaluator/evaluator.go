// Package evaluator implements the single-tick decision procedure of
// spec.md §4.N: health check, risk check, strategy dispatch, enqueue.
package evaluator

import (
	"context"
	"log"
	"time"

	"fundingarb/internal/derive"
	"fundingarb/internal/execution"
	"fundingarb/internal/freshness"
	"fundingarb/internal/health"
	"fundingarb/internal/model"
	"fundingarb/internal/queue"
	"fundingarb/internal/risk"
	"fundingarb/internal/statestore"
	"fundingarb/internal/strategy"
	"fundingarb/internal/units"

	"github.com/google/uuid"
)

// HealthAction is the outcome of resolving a HealthSnapshot (spec.md §4.M).
type HealthAction string

const (
	HealthContinue      HealthAction = "CONTINUE"
	HealthEmergencyExit HealthAction = "EMERGENCY_EXIT"
	HealthFullPause     HealthAction = "FULL_PAUSE"
	HealthForceExit     HealthAction = "FORCE_EXIT"
	HealthPauseEntries  HealthAction = "PAUSE_ENTRIES"
	HealthReduceRisk    HealthAction = "REDUCE_RISK"
)

// positionStaleAfter is the 30s threshold spec.md §4.N's WS-stale rules use.
const positionStaleAfter = 30 * time.Second

// lowMarginBufferBps is the 500bps threshold the REST-stale rule uses.
var lowMarginBufferBps = units.NewBps(500)

// HealthSnapshot bundles the feed-freshness and position facts the health
// rules need.
type HealthSnapshot struct {
	RestFresh bool
	WsFresh   bool
	Position  *model.DerivedPosition
}

// ResolveHealthAction implements spec.md §4.M's priority-ordered rules.
func ResolveHealthAction(snap HealthSnapshot, now time.Time) (HealthAction, string) {
	open := snap.Position != nil && snap.Position.Open

	if !snap.RestFresh && !snap.WsFresh {
		if open {
			return HealthEmergencyExit, "all_feeds_down"
		}
		return HealthFullPause, ""
	}

	if !snap.WsFresh {
		if open {
			if snap.Position.EntryTime != nil && now.Sub(*snap.Position.EntryTime) > positionStaleAfter {
				return HealthForceExit, "ws_stale_with_position"
			}
			return HealthPauseEntries, ""
		}
		return HealthPauseEntries, ""
	}

	if !snap.RestFresh {
		if open {
			if snap.Position.MarginBufferBps.Cmp(lowMarginBufferBps) < 0 {
				return HealthForceExit, "rest_failing_low_margin"
			}
			return HealthReduceRisk, ""
		}
	}

	return HealthContinue, ""
}

// RiskSnapshotProvider supplies equity, margin used, daily P&L, and peak
// equity for the risk engine; the evaluator supplies the derived position.
type RiskSnapshotProvider func(ctx context.Context) (equityQuote, marginUsedQuote, dailyPnlQuote, peakEquityQuote units.Quote, err error)

// Deps bundles everything one evaluate() tick needs.
type Deps struct {
	Queue       *queue.Queue
	Store       *statestore.Store
	Health      *health.Monitor
	Execution   *execution.Engine
	Freshness   freshness.Config
	RiskCfg     risk.Config
	StrategyCfg strategy.Config
	Asset       model.AssetConfig
	RiskSnap    RiskSnapshotProvider
	Clock       model.Clock
}

func (d *Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}

// Evaluate runs one tick of spec.md §4.N's evaluate(deps) procedure.
func Evaluate(ctx context.Context, d *Deps) {
	if d.Queue.GetPendingCount() > 0 {
		log.Printf("evaluator: execution job pending, skipping tick")
		return
	}

	now := d.now()

	equity, marginUsed, dailyPnl, peakEquity, err := d.RiskSnap(ctx)
	if err != nil {
		log.Printf("evaluator: risk snapshot provider failed: %v", err)
		return
	}
	position := derivePosition(d, now, equity, marginUsed)

	healthSnap := HealthSnapshot{
		RestFresh: freshness.RestFresh(d.Freshness, d.Store.LastUpdateSnapshot(), now),
		WsFresh:   d.Health.IsHealthy("ticker_ws"),
		Position:  &position,
	}
	action, reason := ResolveHealthAction(healthSnap, now)

	switch action {
	case HealthEmergencyExit, HealthForceExit:
		if position.Open {
			enqueueExit(d, reason, position)
		}
		return
	case HealthFullPause, HealthPauseEntries:
		return
	}

	riskSnap := model.RiskSnapshot{
		EquityQuote:     equity,
		MarginUsedQuote: marginUsed,
		Position:        &position,
		DailyPnlQuote:   dailyPnl,
		PeakEquityQuote: peakEquity,
	}
	assessment := risk.Evaluate(riskSnap, d.RiskCfg)

	if assessment.Action == model.ActionExit {
		if position.Open {
			enqueueExit(d, "risk", position)
		}
		return
	}
	if assessment.Action == model.ActionBlock || assessment.Action == model.ActionPause {
		return
	}

	current, ok := d.Store.Funding()
	if !ok {
		log.Printf("evaluator: no funding snapshot available, skipping tick")
		return
	}
	history := strategy.AnalyzeFundingRateTrend(d.Store.FundingHistory(), d.StrategyCfg.Trend)

	strategyInput := strategy.Input{
		Current:         current,
		History:         history,
		Position:        &position,
		EquityQuote:     equity,
		MarginUsedQuote: marginUsed,
	}
	if position.Open {
		if ctxEntry, ok := d.Store.EntryContext(d.Asset.PerpSymbol); ok {
			strategyInput.EntryContext = &ctxEntry
			periods := int64(now.Sub(ctxEntry.Time) / (8 * time.Hour))
			strategyInput.RealizedYieldBps = strategy.RealizedYieldBps(ctxEntry.FundingRateBps, periods)
		}
	}

	intent := strategy.EvaluateStrategy(strategyInput, assessment, d.RiskCfg, d.StrategyCfg)

	switch intent.Kind {
	case model.IntentEnterHedge:
		sizeBase := units.BaseFromQuote(intent.EnterSizeQuote, position.MarkPriceQuote, d.Asset.BaseDecimals)
		intentID := uuid.NewString()
		queue.Enqueue(d.Queue, func(ctx context.Context) (struct{}, error) {
			err := d.Execution.EnterHedge(ctx, intentID, d.Asset.BaseAsset, d.Asset.PerpSymbol, sizeBase)
			if err == nil {
				d.Store.SetEntryContext(d.Asset.PerpSymbol, model.EntryContext{
					Time:           now,
					PriceQuote:     position.MarkPriceQuote,
					FundingRateBps: current.CurrentRateBps,
					Trend:          history.Trend,
					Regime:         history.Regime,
				})
			}
			return struct{}{}, err
		}, intentID)
	case model.IntentExitHedge:
		enqueueExit(d, intent.ExitReason, position)
	case model.IntentNoop:
		return
	}
}

func derivePosition(d *Deps, now time.Time, equityQuote, marginUsedQuote units.Quote) model.DerivedPosition {
	ticker, _ := d.Store.Ticker()
	var entryCtx *model.EntryContext
	if ctx, ok := d.Store.EntryContext(d.Asset.PerpSymbol); ok {
		entryCtx = &ctx
	}
	var pos *model.Position
	if p, ok := d.Store.Position(d.Asset.PerpSymbol); ok {
		pos = &p
	}
	var spot *model.Balance
	if b, ok := d.Store.Balance(d.Asset.BaseAsset); ok {
		spot = &b
	}

	return derive.Position(derive.Input{
		ExchangePosition: pos,
		SpotBalance:      spot,
		MarkPriceQuote:   ticker.MarkPriceQuote,
		Asset:            d.Asset,
		EquityQuote:      equityQuote,
		MarginUsedQuote:  marginUsedQuote,
		Now:              now,
		Source:           model.SourceDerived,
		EntryContext:     entryCtx,
	})
}

func enqueueExit(d *Deps, reason string, position model.DerivedPosition) {
	intentID := uuid.NewString()
	entryPriceQuote := units.ZeroQuote()
	if position.EntryPriceQuote != nil {
		entryPriceQuote = *position.EntryPriceQuote
	}
	queue.Enqueue(d.Queue, func(ctx context.Context) (struct{}, error) {
		err := d.Execution.ExitHedge(ctx, intentID, reason, d.Asset.BaseAsset, d.Asset.PerpSymbol, position.SpotQuantityBase, position.PerpQuantityBase, entryPriceQuote)
		if err == nil {
			d.Store.ClearEntryContext(d.Asset.PerpSymbol)
		}
		return struct{}{}, err
	}, intentID)
}
