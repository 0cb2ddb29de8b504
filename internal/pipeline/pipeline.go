package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"slowhand/internal/exits"
	"slowhand/internal/gateway/exchange"
	"slowhand/internal/gateway/notifier"
	"slowhand/internal/logger"
	"slowhand/internal/market"
	"slowhand/internal/position"
	"slowhand/internal/risk"
	"slowhand/internal/strategy"
)

type Config struct {
	Pairs       []string
	StrategyID  string // provider id, falls back to the registry default
	Concurrency int    // symbols evaluated in parallel per cycle
}

// Pipeline runs one evaluation cycle: for every enabled pair it asks the
// strategy provider for an opinion, pushes actionable signals through the
// risk gate, attaches exit levels and hands the sized intent to the
// position manager. Each symbol is isolated: one failing evaluation never
// poisons the rest of the cycle.
type Pipeline struct {
	gateway   exchange.Gateway
	markets   market.ContextProvider
	registry  *strategy.Registry
	gate      *risk.Gate
	budget    *risk.Budget
	predictor exits.Predictor
	calc      *exits.Calculator
	positions *position.Manager
	sink      notifier.Sink

	mu  sync.RWMutex
	cfg Config
}

func New(
	gw exchange.Gateway,
	markets market.ContextProvider,
	registry *strategy.Registry,
	gate *risk.Gate,
	budget *risk.Budget,
	predictor exits.Predictor,
	calc *exits.Calculator,
	positions *position.Manager,
	sink notifier.Sink,
	cfg Config,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.StrategyID == "" {
		cfg.StrategyID = strategy.DefaultID
	}
	if sink == nil {
		sink = notifier.Null{}
	}
	return &Pipeline{
		gateway:   gw,
		markets:   markets,
		registry:  registry,
		gate:      gate,
		budget:    budget,
		predictor: predictor,
		calc:      calc,
		positions: positions,
		sink:      sink,
		cfg:       cfg,
	}
}

// Cycle evaluates every enabled pair once. The returned error covers only
// cycle-level failures (balance unavailable, context cancelled); per-symbol
// failures are logged and swallowed.
func (p *Pipeline) Cycle(ctx context.Context) error {
	balance, err := p.gateway.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("cycle: balance fetch: %w", err)
	}
	if p.budget != nil {
		p.budget.SeedBalance(balance.Total)
	}

	openSymbols := p.positions.LiveSymbols()
	pairs, concurrency := p.activePairs()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, symbol := range pairs {
		if p.positions.HasLive(symbol) {
			logger.Debugf("pipeline: %s holds a live position, skipping", symbol)
			continue
		}
		symbol := symbol
		group.Go(func() error {
			if err := p.evaluate(gctx, symbol, balance.Total, openSymbols); err != nil {
				logger.Warnf("pipeline: %s evaluation failed: %v", symbol, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SetPairs swaps the enabled pair list; the next cycle picks it up. Used
// by the config hot-reload path.
func (p *Pipeline) SetPairs(pairs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Pairs = append([]string(nil), pairs...)
	logger.Infof("pipeline: pair list updated, %d pairs", len(pairs))
}

func (p *Pipeline) activePairs() ([]string, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.cfg.Pairs...), p.cfg.Concurrency
}

func (p *Pipeline) strategyID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.StrategyID
}

// evaluate runs one symbol through provider, gate, exit calculator and
// position manager. At most one submission per symbol per cycle.
func (p *Pipeline) evaluate(ctx context.Context, symbol string, balance float64, openSymbols []string) error {
	id := p.strategyID()
	provider, ok := p.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("no provider registered for %q", id)
	}

	snap, err := p.markets.Snapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	eval, err := provider.Evaluate(ctx, symbol, snap)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	sig, actionable := eval.Signal()
	if !actionable {
		logger.Debugf("pipeline: %s wait", symbol)
		return nil
	}

	mctx, err := p.markets.Context(ctx, symbol)
	if err != nil {
		return fmt.Errorf("market context: %w", err)
	}

	verdict := p.gate.Evaluate(risk.Input{
		Signal:      sig,
		Market:      mctx,
		Balance:     balance,
		OpenSymbols: openSymbols,
		Budget:      p.budgetSnapshot(),
	})
	if !verdict.Approved {
		logger.Infof("pipeline: %s rejected (%s): %s", symbol, verdict.Reason, verdict.Detail)
		p.notifyRejection(sig, verdict)
		return nil
	}

	intent := verdict.Intent
	levels, err := p.calc.Compute(exits.Input{
		Side:          intent.Side,
		Entry:         sig.Price,
		Volatility:    mctx.Volatility,
		Raw:           p.predictor.Predict(mctx),
		TrendStrength: mctx.TrendStrength,
		Supports:      mctx.Supports,
		Resistances:   mctx.Resistances,
	})
	if err != nil {
		return fmt.Errorf("exit levels: %w", err)
	}
	intent.Stop = levels.Stop
	intent.Target = levels.Target

	_, err = p.positions.Open(ctx, intent)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, position.ErrHesitated),
		errors.Is(err, position.ErrDuplicatePosition),
		errors.Is(err, position.ErrPositionCapReached):
		logger.Infof("pipeline: %s not opened: %v", symbol, err)
		return nil
	default:
		return err
	}
}

func (p *Pipeline) budgetSnapshot() risk.BudgetSnapshot {
	if p.budget == nil {
		return risk.BudgetSnapshot{}
	}
	return p.budget.Snapshot()
}

func (p *Pipeline) notifyRejection(sig strategy.Signal, verdict risk.Verdict) {
	evt := notifier.NewEvent(notifier.EventRiskRejected, map[string]any{
		"symbol": sig.Symbol,
		"side":   string(sig.Action),
		"reason": string(verdict.Reason),
		"detail": verdict.Detail,
	})
	if err := p.sink.Send(evt); err != nil {
		logger.Warnf("pipeline: rejection notify failed: %v", err)
	}
}
