package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	candles []Candle
	err     error
}

func (s sliceSource) FetchCandles(context.Context, string, int) ([]Candle, error) {
	return s.candles, s.err
}

func flatCandles(n int, close float64) []Candle {
	out := make([]Candle, n)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Open:      close,
			High:      close + 0.5,
			Low:       close - 0.5,
			Close:     close,
			Volume:    10,
		}
	}
	return out
}

func risingCandles(n int, start float64) []Candle {
	out := make([]Candle, n)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := start + float64(i)
		out[i] = Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Open:      c - 1,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func TestCondenseFlatSeriesIsCalm(t *testing.T) {
	a := NewAnalyzer(sliceSource{candles: flatCandles(120, 100)}, DefaultAnalyzerConfig())

	mctx, err := a.Context(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", mctx.Symbol)
	assert.Equal(t, 100.0, mctx.Price)
	assert.InDelta(t, 1.0, mctx.Volatility, 0.05, "ATR of a constant 1.0 range converges to 1")
	assert.Equal(t, TierNormal, mctx.Tier)
	assert.Equal(t, RegimeCalm, mctx.Regime)
	assert.InDelta(t, 0.0, mctx.TrendStrength, 1e-9)
	assert.InDelta(t, 1.0, mctx.VolumeRatio, 1e-9)
	assert.Empty(t, mctx.Supports, "a flat series has no swing points")
	assert.Empty(t, mctx.Resistances)
}

func TestCondenseRisingSeriesTrendsUp(t *testing.T) {
	a := NewAnalyzer(sliceSource{candles: risingCandles(120, 100)}, DefaultAnalyzerConfig())

	mctx, err := a.Context(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, RegimeTrendingUp, mctx.Regime)
	assert.Equal(t, TierNormal, mctx.Tier)
	assert.InDelta(t, 1.0, mctx.TrendStrength, 1e-9, "a steady climb saturates trend strength")
	assert.Equal(t, 219.0, mctx.Price)
}

func TestCondenseExtractsSwingLevels(t *testing.T) {
	candles := flatCandles(120, 100)
	candles[60].High = 110 // isolated swing high above price
	candles[80].Low = 90   // isolated swing low below price

	a := NewAnalyzer(sliceSource{candles: candles}, DefaultAnalyzerConfig())
	mctx, err := a.Context(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Contains(t, mctx.Resistances, 110.0)
	assert.Contains(t, mctx.Supports, 90.0)
}

func TestCondenseVolatileTier(t *testing.T) {
	candles := flatCandles(120, 100)
	for i := range candles {
		candles[i].High = 104
		candles[i].Low = 96 // 8% range, past the extreme threshold
	}
	a := NewAnalyzer(sliceSource{candles: candles}, DefaultAnalyzerConfig())

	mctx, err := a.Context(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, TierExtreme, mctx.Tier)
	assert.Equal(t, RegimeVolatile, mctx.Regime)
}

func TestCondenseRejectsShortSeries(t *testing.T) {
	a := NewAnalyzer(sliceSource{candles: flatCandles(10, 100)}, DefaultAnalyzerConfig())
	_, err := a.Context(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestContextPropagatesSourceError(t *testing.T) {
	boom := errors.New("rate limited")
	a := NewAnalyzer(sliceSource{err: boom}, DefaultAnalyzerConfig())
	_, err := a.Context(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, boom)
}
