package derive

import (
	"testing"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

var testAsset = model.AssetConfig{
	PerpSymbol:   "BTCUSDT",
	BaseAsset:    "BTC",
	QuoteAsset:   "USDT",
	BaseDecimals: 8,
}

func TestPositionFlatWhenNoPositionOrBalance(t *testing.T) {
	got := Position(Input{
		MarkPriceQuote: units.NewQuote(60_000_000_000),
		Asset:          testAsset,
		Now:            time.Unix(0, 0),
		Source:         model.SourceDerived,
	})
	if got.Open {
		t.Fatalf("Position() Open = true, want false (no exchange position, no spot balance)")
	}
	if got.LiquidationDistanceBps.Int64() != 10_000 {
		t.Fatalf("flat LiquidationDistanceBps = %d, want 10000", got.LiquidationDistanceBps.Int64())
	}
}

func TestPositionFlatOnNonPositivePrice(t *testing.T) {
	pos := &model.Position{Symbol: "BTCUSDT", Side: model.SideLong, SizeBase: units.NewBase(100_000_000)}
	got := Position(Input{
		ExchangePosition: pos,
		MarkPriceQuote:   units.ZeroQuote(),
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
	})
	if got.Open {
		t.Fatalf("Position() with zero mark price Open = true, want false")
	}
}

func TestPositionOpenLongComputesNotionalAndPnl(t *testing.T) {
	entry := units.NewQuote(50_000_000_000)
	mark := units.NewQuote(60_000_000_000)
	pos := &model.Position{
		Symbol:          "BTCUSDT",
		Side:            model.SideLong,
		SizeBase:        units.NewBase(100_000_000), // 1 BTC
		EntryPriceQuote: entry,
	}
	got := Position(Input{
		ExchangePosition: pos,
		MarkPriceQuote:   mark,
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
		Source:           model.SourceREST,
	})
	if !got.Open {
		t.Fatalf("Position() Open = false, want true")
	}
	if got.NotionalQuote.Cmp(mark) != 0 {
		t.Fatalf("NotionalQuote = %s, want %s (1 BTC at mark)", got.NotionalQuote, mark)
	}
	wantPnl := mark.Sub(entry)
	if got.UnrealizedPnlQuote.Cmp(wantPnl) != 0 {
		t.Fatalf("UnrealizedPnlQuote = %s, want %s", got.UnrealizedPnlQuote, wantPnl)
	}
}

func TestPositionShortPnlIsInverted(t *testing.T) {
	entry := units.NewQuote(60_000_000_000)
	mark := units.NewQuote(50_000_000_000)
	pos := &model.Position{
		Symbol:          "BTCUSDT",
		Side:            model.SideShort,
		SizeBase:        units.NewBase(100_000_000),
		EntryPriceQuote: entry,
	}
	got := Position(Input{
		ExchangePosition: pos,
		MarkPriceQuote:   mark,
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
	})
	wantPnl := entry.Sub(mark)
	if got.UnrealizedPnlQuote.Cmp(wantPnl) != 0 {
		t.Fatalf("short UnrealizedPnlQuote = %s, want %s", got.UnrealizedPnlQuote, wantPnl)
	}
}

func TestPositionPendingFillsAdjustSize(t *testing.T) {
	pos := &model.Position{
		Symbol:          "BTCUSDT",
		Side:            model.SideLong,
		SizeBase:        units.NewBase(100_000_000),
		EntryPriceQuote: units.NewQuote(50_000_000_000),
	}
	fills := []model.Fill{
		{Symbol: "BTCUSDT", Side: model.SideSell, QuantityBase: units.NewBase(100_000_000)},
	}
	got := Position(Input{
		ExchangePosition: pos,
		PendingFills:     fills,
		MarkPriceQuote:   units.NewQuote(60_000_000_000),
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
	})
	if got.Open {
		t.Fatalf("Position() after fully-offsetting SELL fill Open = true, want false")
	}
}

func TestPositionPendingFillsIgnoredForOtherSymbols(t *testing.T) {
	pos := &model.Position{
		Symbol:          "BTCUSDT",
		Side:            model.SideLong,
		SizeBase:        units.NewBase(100_000_000),
		EntryPriceQuote: units.NewQuote(50_000_000_000),
	}
	fills := []model.Fill{
		{Symbol: "ETHUSDT", Side: model.SideSell, QuantityBase: units.NewBase(100_000_000)},
	}
	got := Position(Input{
		ExchangePosition: pos,
		PendingFills:     fills,
		MarkPriceQuote:   units.NewQuote(60_000_000_000),
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
	})
	if !got.Open || got.PerpQuantityBase.Int64() != 100_000_000 {
		t.Fatalf("fill for unrelated symbol must not affect size, got PerpQuantityBase=%s Open=%v", got.PerpQuantityBase, got.Open)
	}
}

func TestPositionLiquidationDistanceLong(t *testing.T) {
	mark := units.NewQuote(60_000_000_000)
	liq := units.NewQuote(54_000_000_000) // 10% below mark
	pos := &model.Position{
		Symbol:                "BTCUSDT",
		Side:                  model.SideLong,
		SizeBase:              units.NewBase(100_000_000),
		EntryPriceQuote:       units.NewQuote(50_000_000_000),
		LiquidationPriceQuote: &liq,
	}
	got := Position(Input{
		ExchangePosition: pos,
		MarkPriceQuote:   mark,
		Asset:            testAsset,
		Now:              time.Unix(0, 0),
	})
	if got.LiquidationDistanceBps.Int64() != 1_000 {
		t.Fatalf("LiquidationDistanceBps = %d, want 1000 (10%%)", got.LiquidationDistanceBps.Int64())
	}
}

func TestPositionEntryContextCarriedWhenOpen(t *testing.T) {
	entryTime := time.Unix(1000, 0)
	fundingBps := units.NewBps(12)
	ec := &model.EntryContext{
		Time:           entryTime,
		FundingRateBps: fundingBps,
		Trend:          model.TrendIncreasing,
		Regime:         model.RegimeHighStable,
	}
	pos := &model.Position{
		Symbol:          "BTCUSDT",
		Side:            model.SideLong,
		SizeBase:        units.NewBase(100_000_000),
		EntryPriceQuote: units.NewQuote(50_000_000_000),
	}
	got := Position(Input{
		ExchangePosition: pos,
		MarkPriceQuote:   units.NewQuote(60_000_000_000),
		Asset:            testAsset,
		Now:              time.Unix(2000, 0),
		EntryContext:     ec,
	})
	if got.EntryTime == nil || !got.EntryTime.Equal(entryTime) {
		t.Fatalf("EntryTime = %v, want %v", got.EntryTime, entryTime)
	}
	if got.EntryFundingRateBps == nil || got.EntryFundingRateBps.Int64() != 12 {
		t.Fatalf("EntryFundingRateBps = %v, want 12", got.EntryFundingRateBps)
	}
	if got.EntryTrend == nil || *got.EntryTrend != model.TrendIncreasing {
		t.Fatalf("EntryTrend = %v, want increasing", got.EntryTrend)
	}
}

func TestPositionEntryContextIgnoredWhenFlat(t *testing.T) {
	ec := &model.EntryContext{Time: time.Unix(1000, 0)}
	got := Position(Input{
		SpotBalance:  &model.Balance{Asset: "BTC", TotalBase: units.ZeroBase()},
		MarkPriceQuote: units.NewQuote(60_000_000_000),
		Asset:        testAsset,
		Now:          time.Unix(2000, 0),
		EntryContext: ec,
	})
	if got.Open {
		t.Fatalf("Position() with zero spot balance Open = true, want false")
	}
	if got.EntryTime != nil {
		t.Fatalf("EntryTime = %v, want nil when flat", got.EntryTime)
	}
}
