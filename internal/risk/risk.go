// Package risk implements the risk engine: a pure function that turns a
// RiskSnapshot and a RiskConfig into a RiskAssessment. All state the
// decision depends on is supplied by the caller (the evaluator); this
// package holds none itself, per spec.md's "pure function" design -
// adapted from the teacher's risk.Manager decision-order structure
// (global checks before strategy checks, first-match-wins) but without the
// teacher's DB-backed config/metrics persistence, since there is only one
// account and one symbol in scope here.
package risk

import (
	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// Config is the risk engine's tunable limits (spec.md §6 RiskConfig).
type Config struct {
	MaxPositionSizeQuote    units.Quote
	MaxLeverageBps          units.Bps
	MaxDailyLossQuote       units.Quote
	MaxDrawdownBps          units.Bps
	MinLiquidationBufferBps units.Bps
	MaxMarginUtilizationBps units.Bps

	// Warning* mirrors trigger PAUSE/CAUTION before the hard limits above
	// are reached; they must be less restrictive than their hard counterpart.
	WarningPositionSizeQuote    units.Quote
	WarningLeverageBps          units.Bps
	WarningMarginUtilizationBps units.Bps
	WarningDrawdownBps          units.Bps
	WarningLiquidationBufferBps units.Bps // buffer above MinLiquidationBufferBps that triggers EXIT before BLOCK
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositionSizeQuote:        units.NewQuote(10_000 * 1_000_000),
		MaxLeverageBps:              units.NewBps(30_000),
		MaxDailyLossQuote:           units.NewQuote(500 * 1_000_000),
		MaxDrawdownBps:              units.NewBps(2_000),
		MinLiquidationBufferBps:     units.NewBps(500),
		MaxMarginUtilizationBps:     units.NewBps(8_000),
		WarningPositionSizeQuote:    units.NewQuote(8_000 * 1_000_000),
		WarningLeverageBps:          units.NewBps(20_000),
		WarningMarginUtilizationBps: units.NewBps(6_000),
		WarningDrawdownBps:          units.NewBps(1_000),
		WarningLiquidationBufferBps: units.NewBps(1_000),
	}
}

// computeMetrics derives the numeric inputs to the decision rules from the
// snapshot.
func computeMetrics(snap model.RiskSnapshot) model.RiskMetrics {
	var notional units.Quote
	var liqDistance units.Bps = units.NewBps(10000)
	if snap.Position != nil {
		notional = snap.Position.NotionalQuote
		if snap.Position.Open {
			liqDistance = snap.Position.LiquidationDistanceBps
		}
	}

	leverage := units.BpsOfQuote(notional, snap.EquityQuote)
	marginUtil := units.BpsOfQuote(snap.MarginUsedQuote, snap.EquityQuote)

	drawdown := units.ZeroBps()
	if snap.PeakEquityQuote.Sign() > 0 {
		drawdown = units.ClampBps(units.BpsOfQuote(snap.PeakEquityQuote.Sub(snap.EquityQuote), snap.PeakEquityQuote))
	}

	return model.RiskMetrics{
		NotionalQuote:          notional,
		LeverageBps:            leverage,
		MarginUtilizationBps:   marginUtil,
		LiquidationDistanceBps: liqDistance,
		DailyPnlQuote:          snap.DailyPnlQuote,
		DrawdownBps:            drawdown,
	}
}

// Evaluate is the risk engine's single entry point.
func Evaluate(snap model.RiskSnapshot, cfg Config) model.RiskAssessment {
	m := computeMetrics(snap)
	open := snap.Position != nil && snap.Position.Open

	// 1. BLOCK — reject entries outright; force-exit if open.
	var blockReasons []string
	if m.NotionalQuote.Cmp(cfg.MaxPositionSizeQuote) > 0 {
		blockReasons = append(blockReasons, "notional exceeds max position size")
	}
	if m.LeverageBps.Cmp(cfg.MaxLeverageBps) > 0 {
		blockReasons = append(blockReasons, "leverage exceeds max leverage")
	}
	if m.MarginUtilizationBps.Cmp(cfg.MaxMarginUtilizationBps) > 0 {
		blockReasons = append(blockReasons, "margin utilization exceeds max")
	}
	if m.DrawdownBps.Cmp(cfg.MaxDrawdownBps) > 0 {
		blockReasons = append(blockReasons, "drawdown exceeds max")
	}
	if open && m.LiquidationDistanceBps.Cmp(cfg.MinLiquidationBufferBps) < 0 {
		blockReasons = append(blockReasons, "liquidation buffer below minimum")
	}
	if len(blockReasons) > 0 {
		action := model.ActionBlock
		if open {
			action = model.ActionExit
		}
		return model.RiskAssessment{Level: model.RiskBlocked, Action: action, Reasons: blockReasons, Metrics: m}
	}

	// 2. EXIT — open position and a critical-but-not-yet-hard condition.
	var exitReasons []string
	if open && m.LiquidationDistanceBps.Cmp(cfg.WarningLiquidationBufferBps) < 0 {
		exitReasons = append(exitReasons, "liquidation buffer critically low")
	}
	if m.DailyPnlQuote.Sign() < 0 && m.DailyPnlQuote.Abs().Cmp(cfg.MaxDailyLossQuote) >= 0 {
		exitReasons = append(exitReasons, "daily loss cap hit")
	}
	if open && len(exitReasons) > 0 {
		return model.RiskAssessment{Level: model.RiskDanger, Action: model.ActionExit, Reasons: exitReasons, Metrics: m}
	}

	// 3. PAUSE — soft (warning) limits exceeded.
	var warnReasons []string
	if m.NotionalQuote.Cmp(cfg.WarningPositionSizeQuote) > 0 {
		warnReasons = append(warnReasons, "notional above warning threshold")
	}
	if m.LeverageBps.Cmp(cfg.WarningLeverageBps) > 0 {
		warnReasons = append(warnReasons, "leverage above warning threshold")
	}
	if m.MarginUtilizationBps.Cmp(cfg.WarningMarginUtilizationBps) > 0 {
		warnReasons = append(warnReasons, "margin utilization above warning threshold")
	}
	if m.DrawdownBps.Cmp(cfg.WarningDrawdownBps) > 0 {
		warnReasons = append(warnReasons, "drawdown above warning threshold")
	}
	if len(warnReasons) >= 2 {
		return model.RiskAssessment{Level: model.RiskWarning, Action: model.ActionPause, Reasons: warnReasons, Metrics: m}
	}
	if len(warnReasons) == 1 {
		return model.RiskAssessment{Level: model.RiskCaution, Action: model.ActionPause, Reasons: warnReasons, Metrics: m}
	}

	// 4. ALLOW.
	return model.RiskAssessment{Level: model.RiskSafe, Action: model.ActionAllow, Metrics: m}
}

// MaxPositionSizeQuote is the sizing helper spec.md §4.I requires:
// min(maxPositionSize, (equity-marginUsed) * maxLeverageBps / 10000).
func MaxPositionSizeQuote(equityQuote, marginUsedQuote units.Quote, cfg Config) units.Quote {
	headroom := equityQuote.Sub(marginUsedQuote)
	if headroom.Sign() < 0 {
		headroom = units.ZeroQuote()
	}
	leveraged := headroom.MulBps(cfg.MaxLeverageBps)
	if leveraged.Cmp(cfg.MaxPositionSizeQuote) < 0 {
		return leveraged
	}
	return cfg.MaxPositionSizeQuote
}
