package market

import (
	"context"
	"time"
)

// Regime is a coarse classification of current market behaviour, used by the
// risk gate to scale position size.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeSideways     Regime = "sideways"
	RegimeVolatile     Regime = "volatile"
	RegimeCalm         Regime = "calm"
)

// VolatilityTier buckets the ATR-to-price ratio.
type VolatilityTier string

const (
	TierNormal  VolatilityTier = "normal"
	TierHigh    VolatilityTier = "high"
	TierExtreme VolatilityTier = "extreme"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Snapshot is the raw series handed to strategy providers.
type Snapshot struct {
	Symbol    string
	Candles   []Candle
	UpdatedAt time.Time
}

func (s Snapshot) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

func (s Snapshot) Highs() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.High
	}
	return out
}

func (s Snapshot) Lows() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Low
	}
	return out
}

func (s Snapshot) Volumes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Volume
	}
	return out
}

// Context condenses a snapshot into the figures the risk gate and exit
// calculator consume.
type Context struct {
	Symbol        string
	Price         float64
	Volatility    float64 // ATR-style absolute move
	Tier          VolatilityTier
	Regime        Regime
	TrendStrength float64 // [0, 1]
	VolumeRatio   float64 // last volume vs. recent average
	Supports      []float64
	Resistances   []float64
	UpdatedAt     time.Time
}

// ContextProvider supplies snapshots and condensed contexts per symbol.
type ContextProvider interface {
	Snapshot(ctx context.Context, symbol string) (Snapshot, error)
	Context(ctx context.Context, symbol string) (Context, error)
}
