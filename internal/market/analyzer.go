package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"

	"slowhand/internal/logger"
)

// CandleSource supplies recent OHLCV bars for a symbol, newest last.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// AnalyzerConfig tunes the indicator windows behind context classification.
type AnalyzerConfig struct {
	Lookback     int     // candles fetched per snapshot
	ATRPeriod    int     // true-range window
	FastPeriod   int     // fast SMA for trend detection
	SlowPeriod   int     // slow SMA for trend detection
	VolumeWindow int     // average-volume window for the volume ratio
	SwingWindow  int     // neighbourhood size for swing high/low detection
	HighVolPct   float64 // ATR/price ratio above which tier=high
	ExtremeVol   float64 // ATR/price ratio above which tier=extreme
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Lookback:     120,
		ATRPeriod:    14,
		FastPeriod:   20,
		SlowPeriod:   50,
		VolumeWindow: 20,
		SwingWindow:  3,
		HighVolPct:   0.03,
		ExtremeVol:   0.06,
	}
}

// Analyzer condenses raw candles into a Context using plain indicator math.
type Analyzer struct {
	source CandleSource
	cfg    AnalyzerConfig
}

func NewAnalyzer(source CandleSource, cfg AnalyzerConfig) *Analyzer {
	if cfg.Lookback <= 0 {
		cfg = DefaultAnalyzerConfig()
	}
	return &Analyzer{source: source, cfg: cfg}
}

var _ ContextProvider = (*Analyzer)(nil)

func (a *Analyzer) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	candles, err := a.source.FetchCandles(ctx, symbol, a.cfg.Lookback)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}
	return Snapshot{Symbol: symbol, Candles: candles, UpdatedAt: time.Now()}, nil
}

func (a *Analyzer) Context(ctx context.Context, symbol string) (Context, error) {
	snap, err := a.Snapshot(ctx, symbol)
	if err != nil {
		return Context{}, err
	}
	return a.Condense(snap)
}

// Condense computes the context figures from an already fetched snapshot.
func (a *Analyzer) Condense(snap Snapshot) (Context, error) {
	need := a.cfg.SlowPeriod + 1
	if len(snap.Candles) < need {
		return Context{}, fmt.Errorf("%s: need at least %d candles, have %d", snap.Symbol, need, len(snap.Candles))
	}

	closes := snap.Closes()
	highs := snap.Highs()
	lows := snap.Lows()
	volumes := snap.Volumes()
	price := closes[len(closes)-1]
	if price <= 0 {
		return Context{}, fmt.Errorf("%s: last close is not positive", snap.Symbol)
	}

	atrSeries := talib.Atr(highs, lows, closes, a.cfg.ATRPeriod)
	atr := lastValid(atrSeries)

	fast := lastValid(talib.Sma(closes, a.cfg.FastPeriod))
	slow := lastValid(talib.Sma(closes, a.cfg.SlowPeriod))

	volRatio := 1.0
	if avg := tailAverage(volumes, a.cfg.VolumeWindow); avg > 0 {
		volRatio = volumes[len(volumes)-1] / avg
	}

	atrPct := atr / price
	tier := TierNormal
	switch {
	case atrPct >= a.cfg.ExtremeVol:
		tier = TierExtreme
	case atrPct >= a.cfg.HighVolPct:
		tier = TierHigh
	}

	trendStrength := 0.0
	if slow > 0 {
		trendStrength = math.Abs(fast-slow) / slow * 20
		if trendStrength > 1 {
			trendStrength = 1
		}
	}

	regime := classifyRegime(fast, slow, trendStrength, tier)
	supports, resistances := swingLevels(snap.Candles, price, a.cfg.SwingWindow)

	mctx := Context{
		Symbol:        snap.Symbol,
		Price:         price,
		Volatility:    atr,
		Tier:          tier,
		Regime:        regime,
		TrendStrength: trendStrength,
		VolumeRatio:   volRatio,
		Supports:      supports,
		Resistances:   resistances,
		UpdatedAt:     snap.UpdatedAt,
	}
	logger.Debugf("market: %s price=%.4f atr=%.4f tier=%s regime=%s trend=%.2f vol_ratio=%.2f",
		snap.Symbol, price, atr, tier, regime, trendStrength, volRatio)
	return mctx, nil
}

func classifyRegime(fast, slow, trendStrength float64, tier VolatilityTier) Regime {
	if tier == TierExtreme || tier == TierHigh {
		return RegimeVolatile
	}
	const trendFloor = 0.15
	switch {
	case trendStrength < trendFloor && tier == TierNormal:
		if trendStrength < 0.05 {
			return RegimeCalm
		}
		return RegimeSideways
	case fast > slow:
		return RegimeTrendingUp
	default:
		return RegimeTrendingDown
	}
}

// swingLevels extracts recent swing lows below price (supports) and swing
// highs above price (resistances), nearest first.
func swingLevels(candles []Candle, price float64, window int) (supports, resistances []float64) {
	if window < 1 {
		window = 1
	}
	for i := window; i < len(candles)-window; i++ {
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh && candles[i].High > price {
			resistances = append(resistances, candles[i].High)
		}
		if isLow && candles[i].Low < price && candles[i].Low > 0 {
			supports = append(supports, candles[i].Low)
		}
	}
	sort.Slice(resistances, func(i, j int) bool { return resistances[i] < resistances[j] })
	sort.Sort(sort.Reverse(sort.Float64Slice(supports)))
	return supports, resistances
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0 {
			return v
		}
	}
	return 0
}

func tailAverage(values []float64, window int) float64 {
	if len(values) == 0 || window <= 0 {
		return 0
	}
	start := len(values) - window
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, v := range values[start:] {
		sum += v
	}
	return sum / float64(len(values)-start)
}
