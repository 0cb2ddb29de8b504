package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/market"
	"slowhand/internal/strategy"
)

func gateConfig() Config {
	return Config{
		MinFraction:          0.01,
		MaxFraction:          0.25,
		Conservatism:         0.25,
		MaxPositionPct:       0.20,
		MaxOpenPositions:     3,
		MaxDailyLossPct:      0.05,
		MaxDrawdownPct:       0.15,
		MinConfidence:        0.6,
		CorrelationThreshold: 0.8,
		VolatilityCeiling:    0.08,
	}
}

func neutralStats() StaticStats {
	// Profit factor and Sharpe chosen so the performance multiplier is 1.0.
	return StaticStats{
		"trend": {WinRate: 0.55, AvgWin: 150, AvgLoss: 100, ProfitFactor: 1.2, Sharpe: 0.5, Trades: 40},
	}
}

func buySignal() strategy.Signal {
	return strategy.Signal{
		Symbol:     "SOLUSDT",
		Action:     strategy.ActionBuy,
		Confidence: 0.75, // multiplier 1.0 tier
		Price:      125,
		StrategyID: "trend",
	}
}

func calmMarket() market.Context {
	return market.Context{
		Symbol:     "SOLUSDT",
		Price:      125,
		Volatility: 1.0,
		Tier:       market.TierNormal,
		Regime:     market.RegimeCalm,
	}
}

func TestGateSizingScenario(t *testing.T) {
	// balance=10000, p=0.55, avgWin=150, avgLoss=100:
	// raw Kelly 0.25, clipped 0.25, x0.25 conservatism = 0.0625,
	// neutral multipliers => position value 625.
	g := NewGate(gateConfig(), neutralStats())

	v := g.Evaluate(Input{
		Signal:  buySignal(),
		Market:  calmMarket(),
		Balance: 10000,
	})
	require.True(t, v.Approved, "detail=%s", v.Detail)

	assert.InDelta(t, 0.25, v.Intent.Rationale.KellyRaw, 1e-9)
	assert.InDelta(t, 0.0625, v.Intent.Rationale.FinalFraction, 1e-9)
	assert.InDelta(t, 625.0, v.Intent.Rationale.PositionValue, 1e-6)
	assert.InDelta(t, 625.0/125.0, v.Intent.Quantity, 1e-9)
	assert.Equal(t, exchange.SideBuy, v.Intent.Side)
	assert.NotEmpty(t, v.Intent.ID)
}

func TestGateApprovedValueRespectsCaps(t *testing.T) {
	cfg := gateConfig()
	cfg.MaxPositionPct = 0.03 // tighter than the Kelly outcome
	g := NewGate(cfg, neutralStats())

	v := g.Evaluate(Input{Signal: buySignal(), Market: calmMarket(), Balance: 10000})
	require.True(t, v.Approved)
	assert.InDelta(t, 300.0, v.Intent.Quantity*v.Intent.Price, 1e-6,
		"quantity*price must not exceed balance*maxPositionPct")
}

func TestGateDailyLossCap(t *testing.T) {
	// 4.9% of the 5% daily budget already burned: what remains cannot fund
	// a minimum-fraction position, so every new signal is rejected.
	g := NewGate(gateConfig(), neutralStats())

	v := g.Evaluate(Input{
		Signal:  buySignal(),
		Market:  calmMarket(),
		Balance: 10000,
		Budget:  BudgetSnapshot{DailyLossUsed: 490},
	})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonDailyLossCap, v.Reason)
}

func TestGatePositionCap(t *testing.T) {
	g := NewGate(gateConfig(), neutralStats())

	v := g.Evaluate(Input{
		Signal:      buySignal(),
		Market:      calmMarket(),
		Balance:     10000,
		OpenSymbols: []string{"ADAUSDT", "DOGEUSDT", "LINKUSDT"},
	})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonPositionCap, v.Reason)
}

func TestGateCorrelatedExposure(t *testing.T) {
	g := NewGate(gateConfig(), neutralStats())

	v := g.Evaluate(Input{
		Signal:      buySignal(),
		Market:      calmMarket(),
		Balance:     10000,
		OpenSymbols: []string{"SOL/USDT"}, // same base asset, different notation
	})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonCorrelated, v.Reason)
}

func TestGateVolatilityCeiling(t *testing.T) {
	g := NewGate(gateConfig(), neutralStats())

	m := calmMarket()
	m.Volatility = 12.5 // 10% of price, above the 8% ceiling

	v := g.Evaluate(Input{Signal: buySignal(), Market: m, Balance: 10000})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonVolatility, v.Reason)
}

func TestGateLowConfidence(t *testing.T) {
	g := NewGate(gateConfig(), neutralStats())

	sig := buySignal()
	sig.Confidence = 0.5

	v := g.Evaluate(Input{Signal: sig, Market: calmMarket(), Balance: 10000})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonLowConfidence, v.Reason)
}

func TestGateUnknownStrategySizesAtFloor(t *testing.T) {
	g := NewGate(gateConfig(), StaticStats{})

	v := g.Evaluate(Input{Signal: buySignal(), Market: calmMarket(), Balance: 10000})
	require.True(t, v.Approved)
	assert.InDelta(t, 0.01, v.Intent.Rationale.KellyClipped, 1e-9,
		"no history clips the fraction to the floor")
}
