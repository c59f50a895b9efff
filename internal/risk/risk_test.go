package risk

import (
	"testing"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

func flatSnapshot(equity int64) model.RiskSnapshot {
	return model.RiskSnapshot{
		EquityQuote:     units.NewQuote(equity),
		MarginUsedQuote: units.ZeroQuote(),
		PeakEquityQuote: units.NewQuote(equity),
		Position:        &model.DerivedPosition{Open: false},
	}
}

func TestEvaluateAllowsFlatHealthyAccount(t *testing.T) {
	got := Evaluate(flatSnapshot(10_000*1_000_000), DefaultConfig())
	if got.Level != model.RiskSafe || got.Action != model.ActionAllow {
		t.Fatalf("Evaluate(flat healthy) = %+v, want SAFE/ALLOW", got)
	}
}

func TestEvaluateBlocksOversizedNotional(t *testing.T) {
	cfg := DefaultConfig()
	snap := flatSnapshot(10_000 * 1_000_000)
	snap.Position = &model.DerivedPosition{
		Open:          false,
		NotionalQuote: cfg.MaxPositionSizeQuote.Add(units.NewQuote(1)),
	}
	got := Evaluate(snap, cfg)
	if got.Level != model.RiskBlocked || got.Action != model.ActionBlock {
		t.Fatalf("Evaluate(oversized notional, flat) = %+v, want BLOCKED/BLOCK", got)
	}
}

func TestEvaluateBlockedBecomesExitWhenOpen(t *testing.T) {
	cfg := DefaultConfig()
	snap := flatSnapshot(10_000 * 1_000_000)
	snap.Position = &model.DerivedPosition{
		Open:          true,
		NotionalQuote: cfg.MaxPositionSizeQuote.Add(units.NewQuote(1)),
	}
	got := Evaluate(snap, cfg)
	if got.Level != model.RiskBlocked || got.Action != model.ActionExit {
		t.Fatalf("Evaluate(oversized notional, open) = %+v, want BLOCKED/EXIT (force-close instead of reject)", got)
	}
}

func TestEvaluateExitsOnLowLiquidationBuffer(t *testing.T) {
	cfg := DefaultConfig()
	snap := flatSnapshot(10_000 * 1_000_000)
	// Below WarningLiquidationBufferBps (1000) but above MinLiquidationBufferBps (500):
	// should be EXIT via the danger branch, not BLOCK via the hard-limit branch.
	snap.Position = &model.DerivedPosition{
		Open:                   true,
		LiquidationDistanceBps: units.NewBps(700),
	}
	got := Evaluate(snap, cfg)
	if got.Level != model.RiskDanger || got.Action != model.ActionExit {
		t.Fatalf("Evaluate(low liq buffer) = %+v, want DANGER/EXIT", got)
	}
}

func TestEvaluateDailyLossCapForcesExit(t *testing.T) {
	cfg := DefaultConfig()
	snap := flatSnapshot(10_000 * 1_000_000)
	snap.Position = &model.DerivedPosition{Open: true, LiquidationDistanceBps: units.NewBps(10_000)}
	snap.DailyPnlQuote = cfg.MaxDailyLossQuote.Neg()
	got := Evaluate(snap, cfg)
	if got.Action != model.ActionExit {
		t.Fatalf("Evaluate(daily loss cap hit) action = %v, want EXIT", got.Action)
	}
}

func TestEvaluateWarningLevelRequiresTwoWarningBreaches(t *testing.T) {
	cfg := DefaultConfig()
	snap := flatSnapshot(10_000 * 1_000_000)
	snap.Position = &model.DerivedPosition{
		Open:          false,
		NotionalQuote: cfg.WarningPositionSizeQuote.Add(units.NewQuote(1)),
	}
	got := Evaluate(snap, cfg)
	if got.Level != model.RiskCaution || got.Action != model.ActionPause {
		t.Fatalf("Evaluate(one warning breach) = %+v, want CAUTION/PAUSE", got)
	}

	// Add a second, independent warning breach (margin utilization).
	snap.MarginUsedQuote = snap.EquityQuote.MulBps(cfg.WarningMarginUtilizationBps.Add(units.NewBps(100)))
	got = Evaluate(snap, cfg)
	if got.Level != model.RiskWarning || got.Action != model.ActionPause {
		t.Fatalf("Evaluate(two warning breaches) = %+v, want WARNING/PAUSE", got)
	}
}

func TestMaxPositionSizeQuoteCapsAtConfigLimit(t *testing.T) {
	cfg := DefaultConfig()
	got := MaxPositionSizeQuote(units.NewQuote(1_000_000_000_000), units.ZeroQuote(), cfg)
	if got.Cmp(cfg.MaxPositionSizeQuote) != 0 {
		t.Fatalf("MaxPositionSizeQuote(huge equity) = %s, want capped at %s", got, cfg.MaxPositionSizeQuote)
	}
}

func TestMaxPositionSizeQuoteNegativeHeadroomIsZero(t *testing.T) {
	cfg := DefaultConfig()
	got := MaxPositionSizeQuote(units.NewQuote(100), units.NewQuote(200), cfg)
	if !got.IsZero() {
		t.Fatalf("MaxPositionSizeQuote(marginUsed > equity) = %s, want 0", got)
	}
}
