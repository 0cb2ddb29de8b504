package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/market"
	"slowhand/internal/position"
	"slowhand/internal/risk"
	"slowhand/internal/store"
)

type stubGateway struct {
	mu      sync.Mutex
	balErr  error
	balGate chan struct{} // when set, FetchBalance blocks until a receive succeeds
}

func (g *stubGateway) setBalanceErr(err error) {
	g.mu.Lock()
	g.balErr = err
	g.mu.Unlock()
}

func (g *stubGateway) FetchBalance(context.Context) (exchange.Balance, error) {
	g.mu.Lock()
	gate, err := g.balGate, g.balErr
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return exchange.Balance{}, err
	}
	return exchange.Balance{Total: 10000, Currency: "USDT"}, nil
}

func (g *stubGateway) FetchTicker(_ context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, Price: 100, At: time.Now()}, nil
}

func (g *stubGateway) FetchCandles(context.Context, string, int) ([]market.Candle, error) {
	return nil, nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{OrderID: "1", FilledQty: req.Quantity, AvgPrice: req.Price}, nil
}

func (g *stubGateway) CancelOrder(context.Context, string, string) error { return nil }

func (g *stubGateway) FetchOpenPositions(context.Context) ([]exchange.Position, error) {
	return nil, nil
}

type memStore struct {
	mu       sync.Mutex
	runState store.RunStateRecord
	saved    bool
}

func (s *memStore) LoadOpenPositions(context.Context) ([]store.PositionRecord, error) {
	return nil, nil
}
func (s *memStore) SavePosition(context.Context, store.PositionRecord) error { return nil }
func (s *memStore) DeletePosition(context.Context, string) error             { return nil }
func (s *memStore) ArchiveTrade(context.Context, store.TradeRecord) error    { return nil }
func (s *memStore) LoadRunState(context.Context) (store.RunStateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runState, s.saved, nil
}
func (s *memStore) UpdateRunState(_ context.Context, rec store.RunStateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState, s.saved = rec, true
	return nil
}
func (s *memStore) Close() error { return nil }

type scriptedCycler struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *scriptedCycler) Cycle(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *scriptedCycler) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *scriptedCycler) cycleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func fastConfig() Config {
	return Config{
		CycleInterval:          5 * time.Millisecond,
		GraceTimeout:           2 * time.Second,
		ConnectAttempts:        2,
		ConnectBackoff:         time.Millisecond,
		MaxConsecutiveFailures: 3,
		FallbackPause:          time.Millisecond,
		RestartPause:           time.Millisecond,
	}
}

func newTestOrchestrator(gw *stubGateway, cycler Cycler) (*Orchestrator, *position.Manager, *memStore) {
	st := &memStore{}
	mgr := position.NewManager(gw, st, nil, nil, risk.NewBudget(),
		position.Config{OrderRetries: 1, CloseTimeout: time.Second})
	o := New(fastConfig(), gw, cycler, mgr, st, nil, nil)
	return o, mgr, st
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	gw := &stubGateway{}
	o, _, _ := newTestOrchestrator(gw, &scriptedCycler{})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	require.ErrorIs(t, o.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, StateRunning, o.State())
}

func TestStopWhenStoppedIsNoOp(t *testing.T) {
	o, _, _ := newTestOrchestrator(&stubGateway{}, &scriptedCycler{})
	require.ErrorIs(t, o.Stop(context.Background()), ErrNotRunning)
	assert.Equal(t, StateStopped, o.State())
}

func TestInvalidConfigStaysStopped(t *testing.T) {
	gw := &stubGateway{}
	st := &memStore{}
	mgr := position.NewManager(gw, st, nil, nil, nil, position.Config{})
	cfg := fastConfig()
	cfg.CycleInterval = 0
	o := New(cfg, gw, &scriptedCycler{}, mgr, st, nil, nil)

	require.Error(t, o.Start(context.Background()))
	assert.Equal(t, StateStopped, o.State(), "a config failure must have no side effects")
	assert.False(t, st.saved, "nothing persisted before the loop exists")
}

func TestNegativeConfigFieldRejected(t *testing.T) {
	gw := &stubGateway{}
	st := &memStore{}
	mgr := position.NewManager(gw, st, nil, nil, nil, position.Config{})
	cfg := fastConfig()
	cfg.ConnectAttempts = -1
	o := New(cfg, gw, &scriptedCycler{}, mgr, st, nil, nil)

	require.Error(t, o.Start(context.Background()))
	assert.Equal(t, StateStopped, o.State())
	assert.False(t, st.saved)
}

func TestZeroOptionalConfigFieldsGetDefaults(t *testing.T) {
	gw := &stubGateway{}
	st := &memStore{}
	mgr := position.NewManager(gw, st, nil, nil, nil, position.Config{})
	// Only the cycle interval is set; every other knob defaults in New.
	o := New(Config{CycleInterval: 5 * time.Millisecond}, gw, &scriptedCycler{}, mgr, st, nil, nil)

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Stop(context.Background()))
}

func TestStopDuringStartupAbortsStart(t *testing.T) {
	gate := make(chan struct{})
	gw := &stubGateway{balGate: gate}
	cycler := &scriptedCycler{}
	o, _, _ := newTestOrchestrator(gw, cycler)

	startErr := make(chan error, 1)
	go func() { startErr <- o.Start(context.Background()) }()
	require.Eventually(t, func() bool { return o.State() == StateStarting },
		time.Second, time.Millisecond, "startup is parked in the exchange probe")

	// Stop wins the race while Start is still probing.
	require.NoError(t, o.Stop(context.Background()))
	close(gate)

	err := <-startErr
	require.Error(t, err, "the overtaken start must not report success")
	assert.Equal(t, StateStopped, o.State())
	assert.Equal(t, 0, cycler.cycleCount(), "no orphaned loop was spawned")
}

func TestUnreachableExchangeEscalatesToError(t *testing.T) {
	gw := &stubGateway{}
	gw.setBalanceErr(exchange.ErrUnreachable)
	o, _, _ := newTestOrchestrator(gw, &scriptedCycler{})

	err := o.Start(context.Background())
	require.ErrorIs(t, err, exchange.ErrUnreachable)
	assert.Equal(t, StateError, o.State())

	// Forced cleanup through Stop brings Error back to Stopped.
	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())
}

func TestRunLoopCyclesAndStops(t *testing.T) {
	gw := &stubGateway{}
	cycler := &scriptedCycler{}
	o, _, st := newTestOrchestrator(gw, cycler)

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return cycler.cycleCount() >= 3 },
		2*time.Second, 5*time.Millisecond, "loop keeps cycling while running")

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.True(t, st.saved)
	assert.False(t, st.runState.Running)
	assert.Equal(t, "stopped", st.runState.State)
}

func TestConsecutiveCycleFailuresEscalate(t *testing.T) {
	gw := &stubGateway{}
	cycler := &scriptedCycler{}
	cycler.setErr(errors.New("feed broken"))
	o, _, _ := newTestOrchestrator(gw, cycler)

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == StateError },
		2*time.Second, 5*time.Millisecond, "three consecutive failures park the bot in Error")
	assert.GreaterOrEqual(t, cycler.cycleCount(), 3)
}

func TestSingleFailureDoesNotEscalate(t *testing.T) {
	gw := &stubGateway{}
	st := &memStore{}
	mgr := position.NewManager(gw, st, nil, nil, risk.NewBudget(),
		position.Config{OrderRetries: 1, CloseTimeout: time.Second})
	cycler := &scriptedCycler{}
	cycler.setErr(errors.New("transient"))

	cfg := fastConfig()
	cfg.FallbackPause = 300 * time.Millisecond // room to recover before strike two
	o := New(cfg, gw, cycler, mgr, st, nil, nil)

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return cycler.cycleCount() >= 1 },
		time.Second, time.Millisecond)
	cycler.setErr(nil)

	require.Eventually(t, func() bool { return cycler.cycleCount() >= 4 },
		3*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Stop(context.Background()))
}

func TestStopClosesOpenPositions(t *testing.T) {
	gw := &stubGateway{}
	o, mgr, _ := newTestOrchestrator(gw, &scriptedCycler{})

	require.NoError(t, o.Start(context.Background()))
	_, err := mgr.Open(context.Background(), risk.SizedOrderIntent{
		ID: "i1", Symbol: "BTCUSDT", Side: exchange.SideBuy,
		Quantity: 0.1, Price: 100, Stop: 95, Target: 110, StrategyID: "default",
	})
	require.NoError(t, err)
	require.Equal(t, 1, mgr.LiveCount())

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, 0, mgr.LiveCount(), "shutdown flattens open positions")
}

func TestRestart(t *testing.T) {
	gw := &stubGateway{}
	cycler := &scriptedCycler{}
	o, _, _ := newTestOrchestrator(gw, cycler)

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Restart(context.Background()))
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Stop(context.Background()))

	// Restart from cold is just a start.
	require.NoError(t, o.Restart(context.Background()))
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Stop(context.Background()))
}
