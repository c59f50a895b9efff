// Package derive builds the enriched DerivedPosition view from an
// authoritative exchange position, a spot balance, pending fills, and
// current mark price (spec.md §4.E). Position derivation is a pure
// function: same inputs always produce the same output, which is what lets
// the evaluator and its tests reason about it without a live venue.
package derive

import (
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// Input bundles everything position derivation needs.
type Input struct {
	ExchangePosition *model.Position // nil if the venue reports no position
	SpotBalance      *model.Balance  // nil if no spot leg is held
	MarkPriceQuote   units.Quote
	PendingFills     []model.Fill
	Asset            model.AssetConfig
	EquityQuote      units.Quote
	MarginUsedQuote  units.Quote
	Now              time.Time
	Source           model.PositionSource
	EntryContext     *model.EntryContext // nil if no hedge is currently open for this symbol
}

// flat returns the canonical "no position" DerivedPosition.
func flat(cfg Input) model.DerivedPosition {
	return model.DerivedPosition{
		Open:                   false,
		MarkPriceQuote:         cfg.MarkPriceQuote,
		LiquidationDistanceBps: units.NewBps(10000),
		LastUpdated:            cfg.Now,
		Source:                 cfg.Source,
	}
}

// Position computes the DerivedPosition for cfg.
func Position(cfg Input) model.DerivedPosition {
	// Zero or negative prices are treated as a data failure: return flat so
	// the caller's freshness gate, not this function, decides whether to
	// trust the result.
	if cfg.MarkPriceQuote.Sign() <= 0 {
		return flat(cfg)
	}

	if cfg.ExchangePosition == nil && (cfg.SpotBalance == nil || cfg.SpotBalance.TotalBase.IsZero()) {
		return flat(cfg)
	}

	var perpQty units.Base
	var side *model.Side
	var entryPrice *units.Quote
	if cfg.ExchangePosition != nil {
		perpQty = cfg.ExchangePosition.SizeBase
		s := cfg.ExchangePosition.Side
		side = &s
		ep := cfg.ExchangePosition.EntryPriceQuote
		entryPrice = &ep
	}

	// Apply pending fills for this symbol: BUY increases, SELL decreases.
	for _, f := range cfg.PendingFills {
		if f.Symbol != cfg.Asset.PerpSymbol {
			continue
		}
		switch f.Side {
		case model.SideBuy:
			perpQty = perpQty.Add(f.QuantityBase)
		case model.SideSell:
			perpQty = perpQty.Sub(f.QuantityBase)
		}
	}

	open := !perpQty.IsZero()
	if !open {
		side = nil
	}

	var spotQty units.Base
	if cfg.SpotBalance != nil {
		spotQty = cfg.SpotBalance.TotalBase
	}

	notional := units.NotionalQuote(perpQty.Abs(), cfg.MarkPriceQuote, cfg.Asset.BaseDecimals)

	unrealized := units.ZeroQuote()
	if open && entryPrice != nil && side != nil {
		unrealized = unrealizedPnl(*side, perpQty.Abs(), *entryPrice, cfg.MarkPriceQuote, cfg.Asset.BaseDecimals)
	}

	marginUtil := units.BpsOfQuote(cfg.MarginUsedQuote, cfg.EquityQuote)

	liqDistance := units.NewBps(10000)
	var liqPrice *units.Quote
	if cfg.ExchangePosition != nil && cfg.ExchangePosition.LiquidationPriceQuote != nil && open && side != nil {
		liqPrice = cfg.ExchangePosition.LiquidationPriceQuote
		liqDistance = liquidationDistance(*side, cfg.MarkPriceQuote, *liqPrice)
	}

	marginBuffer := units.ClampBps(units.NewBps(10000).Sub(marginUtil))

	var entryTime *time.Time
	var entryFundingBps *units.Bps
	var entryTrend *model.Trend
	var entryRegime *model.Regime
	if open && cfg.EntryContext != nil {
		t := cfg.EntryContext.Time
		entryTime = &t
		f := cfg.EntryContext.FundingRateBps
		entryFundingBps = &f
		tr := cfg.EntryContext.Trend
		entryTrend = &tr
		rg := cfg.EntryContext.Regime
		entryRegime = &rg
	}

	return model.DerivedPosition{
		Open:                   open,
		Side:                   side,
		SpotQuantityBase:       spotQty,
		PerpQuantityBase:       perpQty,
		NotionalQuote:          notional,
		EntryTime:              entryTime,
		EntryPriceQuote:        entryPrice,
		EntryFundingRateBps:    entryFundingBps,
		EntryTrend:             entryTrend,
		EntryRegime:            entryRegime,
		MarkPriceQuote:         cfg.MarkPriceQuote,
		UnrealizedPnlQuote:     unrealized,
		FundingAccruedQuote:    units.ZeroQuote(),
		MarginUsedQuote:        cfg.MarginUsedQuote,
		MarginBufferBps:        marginBuffer,
		LiquidationPriceQuote:  liqPrice,
		LiquidationDistanceBps: units.ClampBps(liqDistance),
		LastUpdated:            cfg.Now,
		Source:                 cfg.Source,
	}
}

// unrealizedPnl computes (mark-entry)*qty for LONG, (entry-mark)*qty for SHORT.
func unrealizedPnl(side model.Side, qtyBase units.Base, entry, mark units.Quote, baseDecimals int) units.Quote {
	var diff units.Quote
	switch side {
	case model.SideLong:
		diff = mark.Sub(entry)
	case model.SideShort:
		diff = entry.Sub(mark)
	default:
		return units.ZeroQuote()
	}
	return units.NotionalQuote(qtyBase, diff, baseDecimals)
}

// liquidationDistance returns the relative gap between mark and liquidation
// price in bps, per side, clamped to [0, 10000] by the caller.
func liquidationDistance(side model.Side, mark, liq units.Quote) units.Bps {
	if mark.Sign() <= 0 {
		return units.NewBps(10000)
	}
	switch side {
	case model.SideLong:
		return units.BpsOfQuote(mark.Sub(liq), mark)
	case model.SideShort:
		return units.BpsOfQuote(liq.Sub(mark), mark)
	default:
		return units.NewBps(10000)
	}
}
