// Package strategy turns funding-rate history and a risk assessment into a
// TradingIntent (spec.md §4.J). Every function here is pure: no I/O, no
// shared state, same inputs always produce the same output.
package strategy

import (
	"math/big"

	"fundingarb/internal/model"
	"fundingarb/internal/risk"
	"fundingarb/internal/units"
)

// Config is the strategy engine's tunable thresholds.
type Config struct {
	MinFundingRateBps    units.Bps
	MinPredictedRateBps  units.Bps
	ExitFundingRateBps   units.Bps
	TargetYieldBps       units.Bps
	Trend                TrendConfig
}

// DefaultConfig mirrors spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		MinFundingRateBps:   units.NewBps(10),
		MinPredictedRateBps: units.NewBps(8),
		ExitFundingRateBps:  units.NewBps(3),
		TargetYieldBps:      units.NewBps(50),
		Trend:               DefaultTrendConfig(),
	}
}

// Input bundles everything evaluateStrategy needs beyond the risk assessment.
type Input struct {
	Current          model.FundingRateSnapshot
	History          model.FundingRateHistory
	Position         *model.DerivedPosition // nil or !Open if flat
	EntryContext     *model.EntryContext    // nil if flat
	RealizedYieldBps units.Bps              // accrued yield on the open position so far, in bps of notional
	EquityQuote      units.Quote
	MarginUsedQuote  units.Quote
}

// EvaluateStrategy is the top-level dispatch of spec.md §4.J: risk verdict
// first, then entry/exit signals, first-match-wins.
func EvaluateStrategy(in Input, riskAssessment model.RiskAssessment, riskCfg risk.Config, cfg Config) model.TradingIntent {
	open := in.Position != nil && in.Position.Open

	if riskAssessment.Action == model.ActionBlock {
		return model.NoopIntent()
	}

	if riskAssessment.Action == model.ActionExit {
		if !open {
			return model.NoopIntent()
		}
		return model.ExitHedgeIntent("risk")
	}

	if !open && riskAssessment.Action == model.ActionAllow {
		if signal := EvaluateEntrySignal(in.Current, in.History, cfg); signal != nil {
			sizeQuote := risk.MaxPositionSizeQuote(in.EquityQuote, in.MarginUsedQuote, riskCfg)
			return model.EnterHedgeIntent(sizeQuote, signal.ExpectedYieldBps, signal.Confidence)
		}
	}

	if open {
		entry := model.EntryContext{}
		if in.EntryContext != nil {
			entry = *in.EntryContext
		}
		if signal := EvaluateExitSignal(in.Current, in.History, entry, in.RealizedYieldBps, cfg); signal != nil {
			return model.ExitHedgeIntent(signal.Reason)
		}
	}

	return model.NoopIntent()
}

// RealizedYieldBps computes the realized-yield-so-far figure the exit
// signal's target_reached rule compares against targetYieldBps: entry
// funding rate times the number of completed 8h funding periods since entry,
// expressed in bps (spec.md §4.J: "size × entry-rate × completed 8h periods,
// divided by 10000" — the size factor cancels out of both sides of the bps
// comparison, so this returns the rate-only figure and callers compare it
// directly against targetYieldBps).
func RealizedYieldBps(entryRateBps units.Bps, completedFundingPeriods int64) units.Bps {
	n := new(big.Int).Mul(entryRateBps.Int(), big.NewInt(completedFundingPeriods))
	return units.BpsFromBig(n)
}
