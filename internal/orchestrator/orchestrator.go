package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/gateway/notifier"
	"slowhand/internal/logger"
	"slowhand/internal/pacing"
	"slowhand/internal/pkg/circuit"
	"slowhand/internal/position"
	"slowhand/internal/store"
)

// RunState is the orchestrator's lifecycle phase. Transitions only move
// along Stopped -> Starting -> Running -> Stopping -> Stopped; any state
// may jump to Error on unrecoverable failure, and Error returns to Stopped
// only through forced cleanup in Stop.
type RunState int32

const (
	StateStopped RunState = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRunning = errors.New("orchestrator already running")
	ErrNotRunning     = errors.New("orchestrator not running")
)

// breakerReopenTimeout is the half-open probe delay. The run loop escalates
// the moment the breaker opens, so this only has to outlast the check that
// follows RecordFailure.
const breakerReopenTimeout = time.Minute

type Config struct {
	CycleInterval          time.Duration
	GraceTimeout           time.Duration // quiescence + close-all bound during Stop
	ConnectAttempts        int
	ConnectBackoff         time.Duration
	MaxConsecutiveFailures int
	FallbackPause          time.Duration // after a failed iteration
	RestartPause           time.Duration
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:          3 * time.Minute,
		GraceTimeout:           30 * time.Second,
		ConnectAttempts:        3,
		ConnectBackoff:         2 * time.Second,
		MaxConsecutiveFailures: 3,
		FallbackPause:          10 * time.Second,
		RestartPause:           2 * time.Second,
	}
}

// normalize fills unset optional knobs from DefaultConfig. Zero means
// "not set"; anything explicitly out of range is left for validate to
// reject rather than silently rewritten.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.GraceTimeout == 0 {
		c.GraceTimeout = d.GraceTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = d.ConnectAttempts
	}
	if c.ConnectBackoff == 0 {
		c.ConnectBackoff = d.ConnectBackoff
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.FallbackPause == 0 {
		c.FallbackPause = d.FallbackPause
	}
	if c.RestartPause == 0 {
		c.RestartPause = d.RestartPause
	}
}

func (c Config) validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive, got %s", c.CycleInterval)
	}
	if c.GraceTimeout < 0 {
		return fmt.Errorf("grace timeout must not be negative, got %s", c.GraceTimeout)
	}
	if c.ConnectAttempts < 0 {
		return fmt.Errorf("connect attempts must not be negative, got %d", c.ConnectAttempts)
	}
	if c.ConnectBackoff < 0 {
		return fmt.Errorf("connect backoff must not be negative, got %s", c.ConnectBackoff)
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures must not be negative, got %d", c.MaxConsecutiveFailures)
	}
	if c.FallbackPause < 0 {
		return fmt.Errorf("fallback pause must not be negative, got %s", c.FallbackPause)
	}
	if c.RestartPause < 0 {
		return fmt.Errorf("restart pause must not be negative, got %s", c.RestartPause)
	}
	return nil
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	State            RunState
	StartedAt        time.Time
	CyclesTotal      int64
	TradesOpened     int64
	TradesClosed     int64
	CumulativeProfit float64
	OpenPositions    int
}

// Cycler runs one evaluation cycle. The signal pipeline implements it;
// tests substitute scripted ones.
type Cycler interface {
	Cycle(ctx context.Context) error
}

// Orchestrator owns the run lifecycle: it brings the bot up, drives the
// cycle loop and tears everything down in order.
type Orchestrator struct {
	cfg       Config
	gateway   exchange.Gateway
	pipe      Cycler
	positions *position.Manager
	store     store.Store
	sink      notifier.Sink
	policy    pacing.Policy
	breaker   *circuit.Breaker

	mu        sync.Mutex
	state     RunState
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	cycles    int64
}

func New(
	cfg Config,
	gw exchange.Gateway,
	pipe Cycler,
	positions *position.Manager,
	st store.Store,
	sink notifier.Sink,
	policy pacing.Policy,
) *Orchestrator {
	if sink == nil {
		sink = notifier.Null{}
	}
	if policy == nil {
		policy = pacing.Noop{}
	}
	cfg.normalize()
	return &Orchestrator{
		cfg:       cfg,
		gateway:   gw,
		pipe:      pipe,
		positions: positions,
		store:     st,
		sink:      sink,
		policy:    policy,
		breaker:   circuit.NewBreaker("run-loop", cfg.MaxConsecutiveFailures, breakerReopenTimeout),
		state:     StateStopped,
	}
}

func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	state, startedAt, cycles := o.state, o.startedAt, o.cycles
	o.mu.Unlock()

	tally := o.positions.Tally()
	return Status{
		State:            state,
		StartedAt:        startedAt,
		CyclesTotal:      cycles,
		TradesOpened:     tally.Opened,
		TradesClosed:     tally.Closed,
		CumulativeProfit: tally.TotalProfit,
		OpenPositions:    o.positions.LiveCount(),
	}
}

// Start brings the bot from Stopped to Running. Failures before the run
// loop spawns roll back to Stopped; a dead exchange after the bounded
// connection attempts lands in Error. ctx bounds startup only; the run
// loop gets its own cancellable context.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStarting || o.state == StateRunning {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := o.cfg.validate(); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("start: %w", err)
	}
	o.state = StateStarting
	o.mu.Unlock()

	if err := o.probeExchange(ctx); err != nil {
		o.setState(StateError)
		o.persistRunState(ctx)
		return fmt.Errorf("start: %w", err)
	}

	recs, err := o.store.LoadOpenPositions(ctx)
	if err != nil {
		o.setState(StateStopped)
		return fmt.Errorf("start: load positions: %w", err)
	}
	o.positions.Hydrate(recs)

	if err := o.positions.Reconcile(ctx); err != nil {
		logger.Warnf("orchestrator: startup reconcile failed: %v", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	o.mu.Lock()
	// A Stop racing in during the unlocked probe/hydrate phase wins: the
	// state is no longer Starting and the loop must not spawn.
	if o.state != StateStarting {
		interrupted := o.state
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("start aborted: state changed to %s during startup", interrupted)
	}
	o.cancel = cancel
	o.done = make(chan struct{})
	o.startedAt = now
	o.state = StateRunning
	// Fresh failure counting for the new loop.
	o.breaker = circuit.NewBreaker("run-loop", o.cfg.MaxConsecutiveFailures, breakerReopenTimeout)
	done := o.done
	o.mu.Unlock()

	go o.run(loopCtx, done)

	o.persistRunState(ctx)
	o.notify(notifier.EventBotStarted, map[string]any{
		"positions": o.positions.LiveCount(),
	})
	logger.Infof("orchestrator: running, %d positions restored", o.positions.LiveCount())
	return nil
}

// Stop winds the bot down: cancel the loop, wait for quiescence up to the
// grace timeout, then best-effort close of whatever is still open.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped || o.state == StateStopping {
		o.mu.Unlock()
		return ErrNotRunning
	}
	fromError := o.state == StateError
	o.state = StateStopping
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(o.cfg.GraceTimeout):
			logger.Warnf("orchestrator: run loop did not quiesce within %s, forcing shutdown", o.cfg.GraceTimeout)
		}
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), o.cfg.GraceTimeout)
	defer cancelClose()
	if n := o.positions.CloseAll(closeCtx, "shutdown"); n > 0 {
		logger.Infof("orchestrator: closed %d positions on shutdown", n)
	}

	o.setState(StateStopped)
	o.persistRunState(ctx)
	o.notify(notifier.EventBotStopped, map[string]any{
		"from_error": fromError,
	})
	logger.Infof("orchestrator: stopped")
	return nil
}

// Restart is Stop then Start with a short settling pause. A Stop failure
// aborts the restart; an already-stopped bot just starts.
func (o *Orchestrator) Restart(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return fmt.Errorf("restart: %w", err)
	}
	if o.cfg.RestartPause > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.RestartPause):
		}
	}
	return o.Start(ctx)
}

// probeExchange verifies reachability with bounded attempts before any
// state is touched.
func (o *Orchestrator) probeExchange(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.ConnectAttempts; attempt++ {
		_, err := o.gateway.FetchBalance(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warnf("orchestrator: exchange probe %d/%d failed: %v", attempt, o.cfg.ConnectAttempts, err)
		if attempt == o.cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.ConnectBackoff):
		}
	}
	return fmt.Errorf("exchange unreachable after %d attempts: %w", o.cfg.ConnectAttempts, lastErr)
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != s {
		logger.Infof("orchestrator: state %s -> %s", o.state, s)
		o.state = s
	}
}

func (o *Orchestrator) persistRunState(ctx context.Context) {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	state, cycles := o.state, o.cycles
	startedAt := o.startedAt
	o.mu.Unlock()

	tally := o.positions.Tally()
	rec := store.RunStateRecord{
		Running:          state == StateRunning,
		State:            state.String(),
		CyclesTotal:      cycles,
		TradesOpened:     tally.Opened,
		TradesClosed:     tally.Closed,
		CumulativeProfit: tally.TotalProfit,
	}
	if !startedAt.IsZero() {
		t := startedAt
		rec.StartedAt = &t
	}
	if state == StateStopped || state == StateError {
		now := time.Now()
		rec.StoppedAt = &now
	}
	if err := o.store.UpdateRunState(ctx, rec); err != nil {
		logger.Warnf("orchestrator: persist run state failed: %v", err)
	}
}

func (o *Orchestrator) notify(typ notifier.EventType, fields map[string]any) {
	if err := o.sink.Send(notifier.NewEvent(typ, fields)); err != nil {
		logger.Warnf("orchestrator: notify %s failed: %v", typ, err)
	}
}
