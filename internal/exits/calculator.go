package exits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"slowhand/internal/gateway/exchange"
)

// Config tunes the exit-level derivation.
type Config struct {
	MinRewardRisk float64 // target must pay at least this multiple of the stop distance
	VolWidening   float64 // target widening per unit of ATR/price
	TrendWidening float64 // target widening at full trend strength
	SnapMarginPct float64 // fraction used when snapping to a support/resistance level
}

func DefaultConfig() Config {
	return Config{
		MinRewardRisk: 1.5,
		VolWidening:   0.5,
		TrendWidening: 0.3,
		SnapMarginPct: 0.002,
	}
}

// Input is everything one derivation needs. The calculator holds no state,
// so identical inputs always produce identical levels.
type Input struct {
	Side          exchange.Side
	Entry         float64
	Volatility    float64 // true-range-style absolute move
	Raw           Distances
	TrendStrength float64 // [0, 1]
	Supports      []float64
	Resistances   []float64
}

type Levels struct {
	Stop   float64
	Target float64
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.MinRewardRisk <= 0 {
		cfg.MinRewardRisk = 1.5
	}
	if cfg.SnapMarginPct <= 0 {
		cfg.SnapMarginPct = 0.002
	}
	return &Calculator{cfg: cfg}
}

// Compute derives stop and target from the predictor's raw distances,
// widened by volatility and trend, snapped around nearby levels, with the
// minimum reward:risk ratio enforced last so it always holds.
func (c *Calculator) Compute(in Input) (Levels, error) {
	if in.Entry <= 0 {
		return Levels{}, fmt.Errorf("exit calc: entry price must be positive")
	}
	if in.Side != exchange.SideBuy && in.Side != exchange.SideSell {
		return Levels{}, fmt.Errorf("exit calc: invalid side %q", in.Side)
	}

	fav := in.Raw.Favorable
	adv := in.Raw.Adverse
	floor := in.Volatility
	if floor <= 0 {
		floor = in.Entry * 0.005
	}
	// A predictor returning zero distance is degenerate, not fatal.
	if fav <= 0 {
		fav = floor
	}
	if adv <= 0 {
		adv = floor
	}

	trend := clamp01(in.TrendStrength)
	widen := 1 + c.cfg.VolWidening*(in.Volatility/in.Entry) + c.cfg.TrendWidening*trend
	fav *= widen

	long := in.Side == exchange.SideBuy

	var stop, target float64
	if long {
		target = in.Entry + fav
		if r, ok := nearestAbove(in.Resistances, in.Entry, target); ok {
			target = snapInside(r, c.cfg.SnapMarginPct, true)
		}
		stop = in.Entry - adv
		if s, ok := nearestBelow(in.Supports, stop, in.Entry); ok {
			stop = snapOutside(s, c.cfg.SnapMarginPct, true)
		}
		if stop <= 0 || stop >= in.Entry {
			stop = in.Entry - adv
		}
		if stop <= 0 {
			stop = in.Entry * 0.5
		}
		if minTarget := in.Entry + c.cfg.MinRewardRisk*(in.Entry-stop); target < minTarget {
			target = minTarget
		}
	} else {
		target = in.Entry - fav
		if target <= 0 {
			target = in.Entry * 0.5
		}
		if s, ok := nearestBelow(in.Supports, target, in.Entry); ok {
			target = snapInside(s, c.cfg.SnapMarginPct, false)
		}
		stop = in.Entry + adv
		if r, ok := nearestAbove(in.Resistances, in.Entry, stop); ok {
			stop = snapOutside(r, c.cfg.SnapMarginPct, false)
		}
		if stop <= in.Entry {
			stop = in.Entry + adv
		}
		if minTarget := in.Entry - c.cfg.MinRewardRisk*(stop-in.Entry); target > minTarget {
			target = minTarget
		}
		if target <= 0 {
			// An unpayable reward:risk at these levels means the stop is
			// too wide for the price; tighten it instead of emitting a
			// negative target.
			stop = in.Entry + in.Entry/(2*c.cfg.MinRewardRisk)
			target = in.Entry - c.cfg.MinRewardRisk*(stop-in.Entry)
		}
	}

	return Levels{Stop: stop, Target: target}, nil
}

// nearestAbove picks the lowest level strictly inside (lo, hi).
func nearestAbove(levels []float64, lo, hi float64) (float64, bool) {
	best, found := 0.0, false
	for _, lvl := range levels {
		if lvl > lo && lvl < hi && (!found || lvl < best) {
			best, found = lvl, true
		}
	}
	return best, found
}

// nearestBelow picks the highest level strictly inside (lo, hi).
func nearestBelow(levels []float64, lo, hi float64) (float64, bool) {
	best, found := 0.0, false
	for _, lvl := range levels {
		if lvl > lo && lvl < hi && (!found || lvl > best) {
			best, found = lvl, true
		}
	}
	return best, found
}

// snapInside places the level just on our side of a barrier: below a
// resistance for longs, above a support for shorts.
func snapInside(level, marginPct float64, long bool) float64 {
	margin := decimal.NewFromFloat(marginPct)
	lvl := decimal.NewFromFloat(level)
	if long {
		return decToFloat(lvl.Mul(decimal.NewFromInt(1).Sub(margin)))
	}
	return decToFloat(lvl.Mul(decimal.NewFromInt(1).Add(margin)))
}

// snapOutside places the stop just past the barrier on the adverse side:
// below a support for longs, above a resistance for shorts.
func snapOutside(level, marginPct float64, long bool) float64 {
	margin := decimal.NewFromFloat(marginPct)
	lvl := decimal.NewFromFloat(level)
	if long {
		return decToFloat(lvl.Mul(decimal.NewFromInt(1).Sub(margin)))
	}
	return decToFloat(lvl.Mul(decimal.NewFromInt(1).Add(margin)))
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
