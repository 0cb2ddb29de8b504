package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/logger"
	"slowhand/internal/market"
	"slowhand/internal/strategy"
)

// Reason is a machine-readable rejection cause. Rejection is a normal
// outcome, not an error.
type Reason string

const (
	ReasonDailyLossCap  Reason = "daily_loss_cap"
	ReasonDrawdownCap   Reason = "drawdown_cap"
	ReasonPositionCap   Reason = "position_cap"
	ReasonCorrelated    Reason = "correlated_exposure"
	ReasonVolatility    Reason = "volatility_ceiling"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonNoEdge        Reason = "no_edge"
)

// Config is the gate's sizing and rejection surface.
type Config struct {
	MinFraction          float64 // Kelly clip floor, e.g. 0.01
	MaxFraction          float64 // Kelly clip ceiling, e.g. 0.25
	Conservatism         float64 // post-clip scale, e.g. 0.25
	MaxPositionPct       float64 // position value cap as balance fraction
	MaxOpenPositions     int
	MaxDailyLossPct      float64 // daily loss cap as balance fraction
	MaxDrawdownPct       float64
	MinConfidence        float64
	CorrelationThreshold float64
	VolatilityCeiling    float64 // ATR/price emergency ceiling
}

// SizingRationale records every factor that shaped the final quantity.
type SizingRationale struct {
	KellyRaw        float64 `json:"kelly_raw"`
	KellyClipped    float64 `json:"kelly_clipped"`
	Conservatism    float64 `json:"conservatism"`
	ConfidenceMult  float64 `json:"confidence_mult"`
	RegimeMult      float64 `json:"regime_mult"`
	PerformanceMult float64 `json:"performance_mult"`
	FinalFraction   float64 `json:"final_fraction"`
	PositionValue   float64 `json:"position_value"`
}

// SizedOrderIntent is a gate-approved, quantity-resolved order awaiting
// placement. It lives only between approval and submission.
type SizedOrderIntent struct {
	ID         string
	Symbol     string
	Side       exchange.Side
	Quantity   float64
	Price      float64
	Stop       float64
	Target     float64
	StrategyID string
	Rationale  SizingRationale
	CreatedAt  time.Time
}

// Input bundles everything one evaluation needs. The gate holds no mutable
// state of its own, so identical inputs yield identical verdicts.
type Input struct {
	Signal      strategy.Signal
	Market      market.Context
	Balance     float64
	OpenSymbols []string
	Budget      BudgetSnapshot
}

type Verdict struct {
	Approved bool
	Intent   SizedOrderIntent
	Reason   Reason
	Detail   string
}

func rejected(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

type Gate struct {
	cfg   Config
	stats StatsProvider
}

func NewGate(cfg Config, stats StatsProvider) *Gate {
	return &Gate{cfg: cfg, stats: stats}
}

// Evaluate applies the rejection rules and, if none fire, sizes the order.
func (g *Gate) Evaluate(in Input) Verdict {
	sig := in.Signal
	if err := sig.Validate(); err != nil {
		return rejected(ReasonNoEdge, err.Error())
	}

	if sig.Confidence < g.cfg.MinConfidence {
		return rejected(ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, g.cfg.MinConfidence))
	}

	// The day's budget is spent once what remains cannot fund even a
	// minimum-fraction position.
	maxDailyLoss := in.Balance * g.cfg.MaxDailyLossPct
	if g.cfg.MaxDailyLossPct > 0 {
		remaining := maxDailyLoss - in.Budget.DailyLossUsed
		if remaining <= 0 || remaining < in.Balance*g.cfg.MinFraction {
			return rejected(ReasonDailyLossCap,
				fmt.Sprintf("daily loss %.2f leaves %.2f of cap %.2f", in.Budget.DailyLossUsed, remaining, maxDailyLoss))
		}
	}

	if g.cfg.MaxDrawdownPct > 0 && in.Budget.Drawdown >= g.cfg.MaxDrawdownPct {
		return rejected(ReasonDrawdownCap,
			fmt.Sprintf("drawdown %.2f%% at cap %.2f%%", in.Budget.Drawdown*100, g.cfg.MaxDrawdownPct*100))
	}

	if g.cfg.MaxOpenPositions > 0 && len(in.OpenSymbols) >= g.cfg.MaxOpenPositions {
		return rejected(ReasonPositionCap,
			fmt.Sprintf("%d open positions at cap %d", len(in.OpenSymbols), g.cfg.MaxOpenPositions))
	}

	if g.cfg.CorrelationThreshold > 0 {
		for _, open := range in.OpenSymbols {
			if corr := EstimateCorrelation(sig.Symbol, open); corr > g.cfg.CorrelationThreshold {
				return rejected(ReasonCorrelated,
					fmt.Sprintf("correlation %.2f with %s above %.2f", corr, open, g.cfg.CorrelationThreshold))
			}
		}
	}

	if g.cfg.VolatilityCeiling > 0 && in.Market.Price > 0 {
		if ratio := in.Market.Volatility / in.Market.Price; ratio > g.cfg.VolatilityCeiling {
			return rejected(ReasonVolatility,
				fmt.Sprintf("volatility %.4f above ceiling %.4f", ratio, g.cfg.VolatilityCeiling))
		}
	}

	stats, ok := g.statsFor(sig.StrategyID)
	if !ok {
		logger.Debugf("risk: no stats for strategy %s, sizing at floor", sig.StrategyID)
	}

	raw := KellyFraction(stats)
	clipped := clamp(raw, g.cfg.MinFraction, g.cfg.MaxFraction)
	confMult := ConfidenceMultiplier(sig.Confidence)
	regimeMult := RegimeMultiplier(in.Market.Regime, in.Market.Tier)
	perfMult := PerformanceMultiplier(stats)

	fraction := clipped * g.cfg.Conservatism * confMult * regimeMult * perfMult
	value := in.Balance * fraction
	if limit := in.Balance * g.cfg.MaxPositionPct; g.cfg.MaxPositionPct > 0 && value > limit {
		value = limit
	}
	if g.cfg.MaxDailyLossPct > 0 {
		if remaining := maxDailyLoss - in.Budget.DailyLossUsed; value > remaining {
			value = remaining
		}
	}
	if value <= 0 {
		return rejected(ReasonNoEdge, "sized position value is zero")
	}

	// The reference price comes from the signal; quantity conversion never
	// falls back to a placeholder price.
	quantity := value / sig.Price

	side := exchange.SideBuy
	if sig.Action == strategy.ActionSell {
		side = exchange.SideSell
	}

	return Verdict{
		Approved: true,
		Intent: SizedOrderIntent{
			ID:         uuid.NewString(),
			Symbol:     sig.Symbol,
			Side:       side,
			Quantity:   quantity,
			Price:      sig.Price,
			Stop:       sig.Stop,
			Target:     sig.Target,
			StrategyID: sig.StrategyID,
			Rationale: SizingRationale{
				KellyRaw:        raw,
				KellyClipped:    clipped,
				Conservatism:    g.cfg.Conservatism,
				ConfidenceMult:  confMult,
				RegimeMult:      regimeMult,
				PerformanceMult: perfMult,
				FinalFraction:   fraction,
				PositionValue:   value,
			},
			CreatedAt: time.Now(),
		},
	}
}

func (g *Gate) statsFor(strategyID string) (StrategyStats, bool) {
	if g.stats == nil {
		return StrategyStats{}, false
	}
	stats, ok := g.stats.StrategyStats(strategyID)
	if !ok || stats.Trades == 0 {
		return StrategyStats{}, false
	}
	return stats, ok
}
