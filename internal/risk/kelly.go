package risk

import "slowhand/internal/market"

// avgLoss guard keeps the win/loss ratio finite for strategies that have
// never lost.
const minAvgLoss = 1e-9

// KellyFraction computes the raw Kelly bet fraction f = (p*b - q) / b with
// b = avgWin/avgLoss. Pure function: identical stats always produce the
// identical fraction.
func KellyFraction(stats StrategyStats) float64 {
	p := clamp(stats.WinRate, 0, 1)
	q := 1 - p
	loss := stats.AvgLoss
	if loss < minAvgLoss {
		loss = minAvgLoss
	}
	b := stats.AvgWin / loss
	if b <= 0 {
		return 0
	}
	f := (p*b - q) / b
	if f < 0 {
		return 0
	}
	return f
}

// ConfidenceMultiplier is the tiered step function of signal confidence.
func ConfidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.8:
		return 1.2
	case confidence >= 0.7:
		return 1.0
	case confidence >= 0.6:
		return 0.8
	default:
		return 0.5
	}
}

// RegimeMultiplier scales size by market regime, with a volatility-tier
// penalty on top.
func RegimeMultiplier(regime market.Regime, tier market.VolatilityTier) float64 {
	mult := 1.0
	switch regime {
	case market.RegimeTrendingUp, market.RegimeTrendingDown:
		mult = 1.1
	case market.RegimeSideways:
		mult = 0.9
	case market.RegimeVolatile:
		mult = 0.7
	case market.RegimeCalm:
		mult = 1.0
	}
	switch tier {
	case market.TierHigh:
		mult *= 0.8
	case market.TierExtreme:
		mult *= 0.5
	}
	return mult
}

// PerformanceMultiplier rewards a healthy profit factor and Sharpe-like
// ratio, bounded to [0.7, 1.3].
func PerformanceMultiplier(stats StrategyStats) float64 {
	mult := 1.0
	switch {
	case stats.ProfitFactor >= 1.5:
		mult += 0.15
	case stats.ProfitFactor > 0 && stats.ProfitFactor < 1.0:
		mult -= 0.15
	}
	switch {
	case stats.Sharpe >= 1.0:
		mult += 0.15
	case stats.Sharpe < 0:
		mult -= 0.15
	}
	return clamp(mult, 0.7, 1.3)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
