package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowhand/internal/exits"
	"slowhand/internal/gateway/exchange"
	"slowhand/internal/gateway/notifier"
	"slowhand/internal/market"
	"slowhand/internal/position"
	"slowhand/internal/risk"
	"slowhand/internal/strategy"
	"slowhand/internal/store"
)

type stubGateway struct {
	mu     sync.Mutex
	orders []exchange.OrderRequest
	balErr error
}

func (g *stubGateway) FetchBalance(context.Context) (exchange.Balance, error) {
	if g.balErr != nil {
		return exchange.Balance{}, g.balErr
	}
	return exchange.Balance{Total: 10000, Available: 10000, Currency: "USDT"}, nil
}

func (g *stubGateway) FetchTicker(_ context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, Price: 100, At: time.Now()}, nil
}

func (g *stubGateway) FetchCandles(context.Context, string, int) ([]market.Candle, error) {
	return nil, nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	g.orders = append(g.orders, req)
	g.mu.Unlock()
	return exchange.OrderResult{OrderID: "1", FilledQty: req.Quantity, AvgPrice: req.Price}, nil
}

func (g *stubGateway) CancelOrder(context.Context, string, string) error { return nil }

func (g *stubGateway) FetchOpenPositions(context.Context) ([]exchange.Position, error) {
	return nil, nil
}

func (g *stubGateway) orderSymbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, o.Symbol)
	}
	return out
}

type stubMarkets struct{}

func (stubMarkets) Snapshot(_ context.Context, symbol string) (market.Snapshot, error) {
	return market.Snapshot{Symbol: symbol, UpdatedAt: time.Now()}, nil
}

func (stubMarkets) Context(_ context.Context, symbol string) (market.Context, error) {
	return market.Context{
		Symbol:        symbol,
		Price:         100,
		Volatility:    2,
		Tier:          market.TierNormal,
		Regime:        market.RegimeTrendingUp,
		TrendStrength: 0.5,
		UpdatedAt:     time.Now(),
	}, nil
}

type scriptedProvider struct {
	mu    sync.Mutex
	calls []string
	evals map[string]strategy.Evaluation
	errs  map[string]error
}

func (p *scriptedProvider) Evaluate(_ context.Context, symbol string, _ market.Snapshot) (strategy.Evaluation, error) {
	p.mu.Lock()
	p.calls = append(p.calls, symbol)
	p.mu.Unlock()
	if err, ok := p.errs[symbol]; ok {
		return strategy.Evaluation{}, err
	}
	if eval, ok := p.evals[symbol]; ok {
		return eval, nil
	}
	return strategy.Wait(), nil
}

func (p *scriptedProvider) callCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == symbol {
			n++
		}
	}
	return n
}

type captureSink struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (s *captureSink) Send(evt notifier.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) byType(typ notifier.EventType) []notifier.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notifier.Event
	for _, evt := range s.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

type memStore struct{ store.Store }

func (memStore) SavePosition(context.Context, store.PositionRecord) error { return nil }
func (memStore) DeletePosition(context.Context, string) error             { return nil }
func (memStore) ArchiveTrade(context.Context, store.TradeRecord) error    { return nil }

func buySignal(symbol string, confidence float64) strategy.Evaluation {
	return strategy.Act(strategy.Signal{
		Symbol:     symbol,
		Action:     strategy.ActionBuy,
		Confidence: confidence,
		Price:      100,
		StrategyID: strategy.DefaultID,
		IssuedAt:   time.Now(),
	})
}

func gateConfig() risk.Config {
	return risk.Config{
		MinFraction:      0.01,
		MaxFraction:      0.25,
		Conservatism:     0.25,
		MaxPositionPct:   0.10,
		MaxOpenPositions: 5,
		MaxDailyLossPct:  0.05,
		MaxDrawdownPct:   0.20,
		MinConfidence:    0.60,
	}
}

func newTestPipeline(gw *stubGateway, provider *scriptedProvider, sink notifier.Sink, pairs []string) (*Pipeline, *position.Manager) {
	registry := strategy.NewRegistry()
	registry.Register(strategy.DefaultID, provider)

	budget := risk.NewBudget()
	gate := risk.NewGate(gateConfig(), nil)
	calc := exits.NewCalculator(exits.DefaultConfig())
	predictor := exits.ATRPredictor{FavorableMult: 2, AdverseMult: 1}

	mgr := position.NewManager(gw, memStore{}, nil, nil, budget,
		position.Config{OrderRetries: 1, CloseTimeout: time.Second})

	p := New(gw, stubMarkets{}, registry, gate, budget, predictor, calc, mgr, sink,
		Config{Pairs: pairs, Concurrency: 2})
	return p, mgr
}

func TestCycleOpensPositionWithExitLevels(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{evals: map[string]strategy.Evaluation{
		"BTCUSDT": buySignal("BTCUSDT", 0.8),
	}}
	p, mgr := newTestPipeline(gw, provider, nil, []string{"BTCUSDT"})

	require.NoError(t, p.Cycle(context.Background()))

	require.True(t, mgr.HasLive("BTCUSDT"))
	require.Len(t, gw.orderSymbols(), 1)
	require.Equal(t, []string{"BTCUSDT"}, mgr.LiveSymbols())
}

func TestCycleSkipsSymbolsWithLivePositions(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{evals: map[string]strategy.Evaluation{
		"BTCUSDT": buySignal("BTCUSDT", 0.8),
		"ETHUSDT": buySignal("ETHUSDT", 0.8),
	}}
	p, mgr := newTestPipeline(gw, provider, nil, []string{"BTCUSDT", "ETHUSDT"})

	require.NoError(t, p.Cycle(context.Background()))
	require.True(t, mgr.HasLive("BTCUSDT"))

	// Second cycle: BTCUSDT is occupied, its provider is not even consulted.
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, 1, provider.callCount("BTCUSDT"))
	assert.Equal(t, 2, provider.callCount("ETHUSDT"))
}

func TestCycleHonorsPositionCapAcrossConcurrentSymbols(t *testing.T) {
	gw := &stubGateway{}
	pairs := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	provider := &scriptedProvider{evals: map[string]strategy.Evaluation{
		"BTCUSDT": buySignal("BTCUSDT", 0.8),
		"ETHUSDT": buySignal("ETHUSDT", 0.8),
		"SOLUSDT": buySignal("SOLUSDT", 0.8),
	}}
	registry := strategy.NewRegistry()
	registry.Register(strategy.DefaultID, provider)

	budget := risk.NewBudget()
	cfg := gateConfig()
	cfg.MaxOpenPositions = 1
	gate := risk.NewGate(cfg, nil)

	mgr := position.NewManager(gw, memStore{}, nil, nil, budget,
		position.Config{OrderRetries: 1, CloseTimeout: time.Second, MaxOpen: cfg.MaxOpenPositions})
	p := New(gw, stubMarkets{}, registry, gate, budget, exits.ATRPredictor{FavorableMult: 2, AdverseMult: 1},
		exits.NewCalculator(exits.DefaultConfig()), mgr, nil,
		Config{Pairs: pairs, Concurrency: len(pairs)})

	require.NoError(t, p.Cycle(context.Background()))

	assert.Equal(t, 1, mgr.LiveCount(), "concurrent evaluations must not overshoot the cap")
	assert.Len(t, gw.orderSymbols(), 1)
}

func TestCycleEmitsRejectionEvent(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{evals: map[string]strategy.Evaluation{
		"BTCUSDT": buySignal("BTCUSDT", 0.3), // below the 0.6 confidence floor
	}}
	sink := &captureSink{}
	p, mgr := newTestPipeline(gw, provider, sink, []string{"BTCUSDT"})

	require.NoError(t, p.Cycle(context.Background()))

	assert.False(t, mgr.HasLive("BTCUSDT"))
	assert.Empty(t, gw.orderSymbols(), "a rejected signal must not reach the exchange")
	events := sink.byType(notifier.EventRiskRejected)
	require.Len(t, events, 1)
	assert.Equal(t, "low_confidence", events[0].Fields["reason"])
}

func TestCycleIsolatesPerSymbolFailures(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{
		evals: map[string]strategy.Evaluation{
			"ETHUSDT": buySignal("ETHUSDT", 0.8),
		},
		errs: map[string]error{
			"BTCUSDT": errors.New("model timeout"),
		},
	}
	p, mgr := newTestPipeline(gw, provider, nil, []string{"BTCUSDT", "ETHUSDT"})

	require.NoError(t, p.Cycle(context.Background()), "one failing symbol must not fail the cycle")
	assert.True(t, mgr.HasLive("ETHUSDT"))
	assert.False(t, mgr.HasLive("BTCUSDT"))
}

func TestCycleWaitMeansNoAction(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{} // everything waits
	p, mgr := newTestPipeline(gw, provider, nil, []string{"BTCUSDT", "ETHUSDT"})

	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, 0, mgr.LiveCount())
	assert.Empty(t, gw.orderSymbols())
}

func TestSetPairsTakesEffectNextCycle(t *testing.T) {
	gw := &stubGateway{}
	provider := &scriptedProvider{evals: map[string]strategy.Evaluation{
		"SOLUSDT": buySignal("SOLUSDT", 0.8),
	}}
	p, mgr := newTestPipeline(gw, provider, nil, []string{"BTCUSDT"})

	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, 0, provider.callCount("SOLUSDT"))

	p.SetPairs([]string{"SOLUSDT"})
	require.NoError(t, p.Cycle(context.Background()))
	assert.Equal(t, 1, provider.callCount("SOLUSDT"))
	assert.Equal(t, 1, provider.callCount("BTCUSDT"), "replaced pairs are no longer evaluated")
	assert.True(t, mgr.HasLive("SOLUSDT"))
}

func TestCycleFailsWhenBalanceUnavailable(t *testing.T) {
	gw := &stubGateway{balErr: exchange.ErrUnreachable}
	provider := &scriptedProvider{}
	p, _ := newTestPipeline(gw, provider, nil, []string{"BTCUSDT"})

	err := p.Cycle(context.Background())
	require.ErrorIs(t, err, exchange.ErrUnreachable)
}
