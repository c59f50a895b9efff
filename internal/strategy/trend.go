package strategy

import (
	"math/big"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// TrendConfig bounds the trend/regime analysis window and thresholds.
type TrendConfig struct {
	Window               int // trailing snapshot count, default 24
	TrendThresholdBps     units.Bps // dead-band around 0 for increasing/decreasing
	VolatilityThresholdBps units.Bps // volatility above this is "volatile"
	HighRateThresholdBps   units.Bps // average above this is "high"
}

// DefaultTrendConfig mirrors spec.md §4.J's stated defaults.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Window:                  24,
		TrendThresholdBps:       units.NewBps(5),
		VolatilityThresholdBps:  units.NewBps(5),
		HighRateThresholdBps:    units.NewBps(10),
	}
}

// AnalyzeFundingRateTrend is a pure function of its inputs (testable
// property 9): same snapshots and config always produce the same history.
// All statistics are computed directly over big.Int — population standard
// deviation via big.Int's exact integer Sqrt, not a floating-point
// approximation — so no floating point appears anywhere in this package.
func AnalyzeFundingRateTrend(snapshots []model.FundingRateSnapshot, cfg TrendConfig) model.FundingRateHistory {
	window := snapshots
	if len(window) > cfg.Window {
		window = window[len(window)-cfg.Window:]
	}
	if len(window) > model.MaxFundingHistory {
		window = window[len(window)-model.MaxFundingHistory:]
	}

	history := model.FundingRateHistory{Snapshots: append([]model.FundingRateSnapshot{}, window...)}
	if len(window) == 0 {
		history.Trend = model.TrendStable
		history.Regime = model.RegimeLowStable
		return history
	}

	avg := meanBps(window)
	vol := populationStdDevBps(window, avg)
	history.AverageRateBps = avg
	history.VolatilityBps = vol
	history.Trend = classifyTrend(window, cfg.TrendThresholdBps)
	history.Regime = classifyRegime(avg, vol, cfg)
	return history
}

func meanBps(snapshots []model.FundingRateSnapshot) units.Bps {
	sum := big.NewInt(0)
	for _, s := range snapshots {
		sum.Add(sum, s.CurrentRateBps.Int())
	}
	sum.Quo(sum, big.NewInt(int64(len(snapshots))))
	return units.BpsFromBig(sum)
}

// populationStdDevBps computes sqrt(mean((x-avg)^2)) using big.Int
// arithmetic throughout. avg is meanBps' truncated mean, the mean of the
// squared deviations is truncated by integer division, and the square root
// is truncated toward zero.
func populationStdDevBps(snapshots []model.FundingRateSnapshot, avg units.Bps) units.Bps {
	sumSq := big.NewInt(0)
	avgBig := avg.Int()
	for _, s := range snapshots {
		diff := new(big.Int).Sub(s.CurrentRateBps.Int(), avgBig)
		sq := new(big.Int).Mul(diff, diff)
		sumSq.Add(sumSq, sq)
	}
	variance := new(big.Int).Quo(sumSq, big.NewInt(int64(len(snapshots))))
	sd := new(big.Int).Sqrt(variance)
	return units.BpsFromBig(sd)
}

func classifyTrend(snapshots []model.FundingRateSnapshot, deadBandBps units.Bps) model.Trend {
	if len(snapshots) < 2 {
		return model.TrendStable
	}
	mid := len(snapshots) / 2
	firstHalf := meanBps(snapshots[:mid])
	secondHalf := meanBps(snapshots[mid:])
	delta := secondHalf.Sub(firstHalf)
	if delta.Cmp(deadBandBps) > 0 {
		return model.TrendIncreasing
	}
	if delta.Cmp(deadBandBps.Neg()) < 0 {
		return model.TrendDecreasing
	}
	return model.TrendStable
}

func classifyRegime(avg, vol units.Bps, cfg TrendConfig) model.Regime {
	high := avg.Cmp(cfg.HighRateThresholdBps) > 0
	volatile := vol.Cmp(cfg.VolatilityThresholdBps) > 0
	switch {
	case high && volatile:
		return model.RegimeHighVolatile
	case high && !volatile:
		return model.RegimeHighStable
	case !high && volatile:
		return model.RegimeLowVolatile
	default:
		return model.RegimeLowStable
	}
}
