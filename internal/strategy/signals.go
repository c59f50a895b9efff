package strategy

import (
	"strings"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// EntrySignal is the non-null result of evaluateEntrySignal.
type EntrySignal struct {
	Confidence       model.Confidence
	Reasons          []string
	FundingRate      model.FundingRateSnapshot
	History          model.FundingRateHistory
	ExpectedYieldBps units.Bps
}

// ExitSignal is the non-null result of evaluateExitSignal.
type ExitSignal struct {
	Reason string
}

// downgrade steps a confidence one notch toward LOW. HIGH->MEDIUM->LOW->LOW.
func downgrade(c model.Confidence) model.Confidence {
	switch c {
	case model.ConfidenceHigh:
		return model.ConfidenceMedium
	case model.ConfidenceMedium:
		return model.ConfidenceLow
	default:
		return model.ConfidenceLow
	}
}

// EvaluateEntrySignal implements spec.md §4.J's entry-signal algorithm. It is
// a pure function of its three inputs (testable property 9).
func EvaluateEntrySignal(current model.FundingRateSnapshot, history model.FundingRateHistory, cfg Config) *EntrySignal {
	if current.CurrentRateBps.Cmp(cfg.MinFundingRateBps) < 0 {
		return nil
	}
	if history.Regime == model.RegimeLowStable || history.Regime == model.RegimeLowVolatile {
		return nil
	}

	var confidence model.Confidence
	switch history.Regime {
	case model.RegimeHighStable:
		confidence = model.ConfidenceHigh
	case model.RegimeHighVolatile:
		confidence = model.ConfidenceMedium
	default:
		return nil
	}

	var reasons []string
	if history.Trend == model.TrendDecreasing {
		confidence = downgrade(confidence)
		reasons = append(reasons, "trend decreasing")
	}
	if current.PredictedRateBps.Cmp(current.CurrentRateBps) < 0 {
		confidence = downgrade(confidence)
		reasons = append(reasons, "predicted rate below current")
	}
	if current.PredictedRateBps.Cmp(cfg.MinPredictedRateBps) < 0 {
		confidence = downgrade(confidence)
		reasons = append(reasons, "predicted rate below minimum")
	}

	return &EntrySignal{
		Confidence:       confidence,
		Reasons:          reasons,
		FundingRate:      current,
		History:          history,
		ExpectedYieldBps: current.PredictedRateBps,
	}
}

// EvaluateExitSignal implements spec.md §4.J's exit-signal priority order:
// first match wins. entry carries the facts recorded when the hedge now open
// was opened; realizedYieldBps is the accrued yield on the position so far,
// already expressed relative to its notional in bps.
func EvaluateExitSignal(current model.FundingRateSnapshot, history model.FundingRateHistory, entry model.EntryContext, realizedYieldBps units.Bps, cfg Config) *ExitSignal {
	if current.PredictedRateBps.Cmp(cfg.ExitFundingRateBps) < 0 {
		return &ExitSignal{Reason: "rate_drop"}
	}
	if entry.Trend != model.TrendDecreasing && history.Trend == model.TrendDecreasing {
		return &ExitSignal{Reason: "trend_change"}
	}
	if strings.HasPrefix(string(entry.Regime), "high_") && strings.HasPrefix(string(history.Regime), "low_") {
		return &ExitSignal{Reason: "regime_change"}
	}
	if realizedYieldBps.Cmp(cfg.TargetYieldBps) >= 0 {
		return &ExitSignal{Reason: "target_reached"}
	}
	return nil
}
