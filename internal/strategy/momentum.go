package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"slowhand/internal/market"
)

// MomentumConfig tunes the built-in EMA-cross + RSI provider.
type MomentumConfig struct {
	FastPeriod int
	SlowPeriod int
	RSIPeriod  int
	Oversold   float64
	Overbought float64
}

func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		FastPeriod: 12,
		SlowPeriod: 26,
		RSIPeriod:  14,
		Oversold:   30,
		Overbought: 70,
	}
}

// Momentum is the built-in reference provider: EMA cross gated by RSI.
// Production deployments usually register their own providers instead.
type Momentum struct {
	cfg MomentumConfig
	id  string
}

func NewMomentum(id string, cfg MomentumConfig) *Momentum {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		cfg = DefaultMomentumConfig()
	}
	if id == "" {
		id = "momentum"
	}
	return &Momentum{cfg: cfg, id: id}
}

var _ Provider = (*Momentum)(nil)

func (m *Momentum) Evaluate(ctx context.Context, symbol string, snap market.Snapshot) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Wait(), err
	}
	closes := snap.Closes()
	need := m.cfg.SlowPeriod + 2
	if len(closes) < need {
		return Wait(), fmt.Errorf("momentum %s: need %d closes, have %d", symbol, need, len(closes))
	}

	fast := talib.Ema(closes, m.cfg.FastPeriod)
	slow := talib.Ema(closes, m.cfg.SlowPeriod)
	rsi := talib.Rsi(closes, m.cfg.RSIPeriod)

	n := len(closes) - 1
	price := closes[n]
	if price <= 0 {
		return Wait(), fmt.Errorf("momentum %s: last close is not positive", symbol)
	}

	crossedUp := fast[n] > slow[n] && fast[n-1] <= slow[n-1]
	crossedDown := fast[n] < slow[n] && fast[n-1] >= slow[n-1]
	lastRSI := rsi[n]

	var action Action
	switch {
	case crossedUp && lastRSI < m.cfg.Overbought:
		action = ActionBuy
	case crossedDown && lastRSI > m.cfg.Oversold:
		action = ActionSell
	default:
		return Wait(), nil
	}

	// Confidence leans on how decisive the cross is and how far RSI sits
	// from its exhaustion band.
	spread := math.Abs(fast[n]-slow[n]) / price
	confidence := 0.55 + math.Min(spread*40, 0.3)
	if action == ActionBuy && lastRSI < 50 {
		confidence += 0.1
	}
	if action == ActionSell && lastRSI > 50 {
		confidence += 0.1
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Act(Signal{
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		Price:      price,
		StrategyID: m.id,
		IssuedAt:   time.Now(),
	}), nil
}
