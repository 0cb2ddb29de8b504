package risk

// StrategyStats summarises historical performance for one strategy.
// AvgWin/AvgLoss are positive magnitudes in quote currency.
type StrategyStats struct {
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
	Sharpe       float64
	Trades       int
}

// StatsProvider is a read-only view over realised trade history. The gate
// never mutates it.
type StatsProvider interface {
	StrategyStats(strategyID string) (StrategyStats, bool)
}

// StaticStats is a fixed StatsProvider, used in tests and as a bootstrap
// before any history exists.
type StaticStats map[string]StrategyStats

func (s StaticStats) StrategyStats(strategyID string) (StrategyStats, bool) {
	stats, ok := s[strategyID]
	return stats, ok
}
