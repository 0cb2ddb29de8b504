package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/gateway/notifier"
	"slowhand/internal/logger"
	"slowhand/internal/pacing"
	"slowhand/internal/risk"
	"slowhand/internal/store"
)

var (
	// ErrDuplicatePosition means the symbol already holds a live position.
	ErrDuplicatePosition = errors.New("position already open for symbol")
	// ErrPositionCapReached means the total live-position cap is exhausted.
	ErrPositionCapReached = errors.New("open position cap reached")
	// ErrHesitated means the pacing policy abandoned the submission. A
	// normal outcome, not a failure.
	ErrHesitated = errors.New("submission abandoned by pacing policy")
)

type Config struct {
	OrderRetries int           // bounded placement attempts per order
	CloseTimeout time.Duration // per-position bound inside CloseAll
	MaxOpen      int           // total live-position cap, 0 means unlimited
}

func DefaultConfig() Config {
	return Config{
		OrderRetries: 3,
		CloseTimeout: 20 * time.Second,
	}
}

// Manager owns the authoritative open-position set. It serialises
// mutations per symbol; distinct symbols proceed concurrently and share
// nothing but the risk budget, which locks itself.
type Manager struct {
	gateway exchange.Gateway
	store   store.Store
	sink    notifier.Sink
	policy  pacing.Policy
	budget  *risk.Budget
	cfg     Config

	mu        sync.RWMutex
	positions map[string]*Position
	locks     map[string]*sync.Mutex
	tally     Tally
}

// Tally accumulates lifetime counters for run statistics.
type Tally struct {
	Opened      int64
	Closed      int64
	TotalProfit float64
}

func NewManager(gw exchange.Gateway, st store.Store, sink notifier.Sink, policy pacing.Policy, budget *risk.Budget, cfg Config) *Manager {
	if cfg.OrderRetries <= 0 {
		cfg.OrderRetries = 1
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 20 * time.Second
	}
	if sink == nil {
		sink = notifier.Null{}
	}
	if policy == nil {
		policy = pacing.Noop{}
	}
	return &Manager{
		gateway:   gw,
		store:     st,
		sink:      sink,
		policy:    policy,
		budget:    budget,
		cfg:       cfg,
		positions: make(map[string]*Position),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Hydrate loads persisted positions into the live set at startup.
func (m *Manager) Hydrate(recs []store.PositionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		pos := fromRecord(rec)
		if !pos.State.Live() {
			continue
		}
		m.positions[pos.Symbol] = pos
	}
	logger.Infof("positions: hydrated %d live positions from store", len(m.positions))
}

// Open places the order behind an approved intent and creates the Position
// atomically: a placement failure leaves no trace. The symbol slot and the
// total cap are reserved before the order goes out, so concurrent opens on
// distinct symbols cannot overshoot the cap.
func (m *Manager) Open(ctx context.Context, intent risk.SizedOrderIntent) (*Position, error) {
	lock := m.symbolLock(intent.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if err := m.reserve(intent.Symbol); err != nil {
		return nil, err
	}

	if m.policy.Hesitate() {
		m.release(intent.Symbol)
		logger.Infof("positions: hesitated, dropping intent %s %s", intent.Side, intent.Symbol)
		return nil, ErrHesitated
	}

	qty := m.policy.HumanizeQuantity(intent.Quantity)
	if qty <= 0 {
		m.release(intent.Symbol)
		return nil, fmt.Errorf("%s: humanized quantity is zero", intent.Symbol)
	}

	if err := m.policy.Pause(ctx, pacing.ActionPlaceOrder); err != nil {
		m.release(intent.Symbol)
		return nil, err
	}

	res, err := m.placeWithRetry(ctx, exchange.OrderRequest{
		ClientID: intent.ID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: qty,
		Price:    intent.Price,
	})
	if err != nil {
		m.release(intent.Symbol)
		return nil, fmt.Errorf("open %s: %w", intent.Symbol, err)
	}

	entry := res.AvgPrice
	if entry <= 0 {
		entry = intent.Price
	}
	filled := res.FilledQty
	if filled <= 0 {
		filled = qty
	}

	pos := &Position{
		ID:         uuid.NewString(),
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		EntryPrice: entry,
		Quantity:   filled,
		Stop:       intent.Stop,
		Target:     intent.Target,
		StrategyID: intent.StrategyID,
		Rationale:  intent.Rationale,
		State:      StateOpen,
		OpenedAt:   time.Now(),
	}

	m.mu.Lock()
	m.positions[pos.Symbol] = pos
	m.tally.Opened++
	m.mu.Unlock()

	m.persist(ctx, pos)
	m.notify(notifier.EventTradeOpened, map[string]any{
		"symbol":   pos.Symbol,
		"side":     pos.Side,
		"qty":      pos.Quantity,
		"price":    pos.EntryPrice,
		"strategy": pos.StrategyID,
	})
	logger.Infof("positions: opened %s %s qty=%.6f entry=%.4f stop=%.4f target=%.4f",
		pos.Side, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.Stop, pos.Target)
	return pos, nil
}

// reserve claims the symbol slot with a Pending placeholder under one
// critical section, so the duplicate check and the total cap are enforced
// atomically against concurrent opens.
func (m *Manager) reserve(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok && pos.State.Live() {
		return fmt.Errorf("%s: %w", symbol, ErrDuplicatePosition)
	}
	if live := m.liveCountLocked(); m.cfg.MaxOpen > 0 && live >= m.cfg.MaxOpen {
		return fmt.Errorf("%d live positions at cap %d: %w", live, m.cfg.MaxOpen, ErrPositionCapReached)
	}
	m.positions[symbol] = &Position{Symbol: symbol, State: StatePending}
	return nil
}

// release drops a reservation that never became a position.
func (m *Manager) release(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok && pos.State == StatePending {
		delete(m.positions, symbol)
	}
}

// placeWithRetry attempts the order a bounded number of times with a paced
// pause between attempts.
func (m *Manager) placeWithRetry(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.OrderRetries; attempt++ {
		res, err := m.gateway.PlaceOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logger.Warnf("positions: order attempt %d/%d failed for %s: %v", attempt, m.cfg.OrderRetries, req.Symbol, err)
		if attempt == m.cfg.OrderRetries {
			break
		}
		if perr := m.policy.Pause(ctx, pacing.ActionStatusCheck); perr != nil {
			return exchange.OrderResult{}, perr
		}
	}
	return exchange.OrderResult{}, lastErr
}

// MonitorTick checks every open position against its stop and target, and
// re-attempts any close that previously exhausted its retries. It runs on
// its own cadence so exits are never held hostage to the signal pipeline.
func (m *Manager) MonitorTick(ctx context.Context) {
	for _, pos := range m.snapshotLive() {
		if ctx.Err() != nil {
			return
		}
		if pos.State == StateClosing {
			reason := pos.CloseReason
			if reason == "" {
				reason = "close_retry"
			}
			logger.Warnf("positions: %s stuck in closing, retrying (%s)", pos.Symbol, reason)
			if err := m.Close(ctx, pos.Symbol, reason); err != nil {
				logger.Errorf("positions: close retry failed for %s: %v", pos.Symbol, err)
			}
			continue
		}
		if pos.State != StateOpen {
			continue
		}
		if err := m.policy.Pause(ctx, pacing.ActionStatusCheck); err != nil {
			return
		}
		ticker, err := m.gateway.FetchTicker(ctx, pos.Symbol)
		if err != nil {
			logger.Warnf("positions: ticker fetch failed for %s: %v", pos.Symbol, err)
			continue
		}
		if reason, hit := breach(pos, ticker.Price); hit {
			logger.Infof("positions: %s breached %s at %.4f (stop=%.4f target=%.4f)",
				pos.Symbol, reason, ticker.Price, pos.Stop, pos.Target)
			if err := m.Close(ctx, pos.Symbol, reason); err != nil {
				logger.Errorf("positions: close failed for %s: %v", pos.Symbol, err)
			}
		}
	}
}

func breach(pos Position, price float64) (string, bool) {
	if price <= 0 {
		return "", false
	}
	if pos.Side == exchange.SideBuy {
		if pos.Stop > 0 && price <= pos.Stop {
			return "stop_loss", true
		}
		if pos.Target > 0 && price >= pos.Target {
			return "take_profit", true
		}
		return "", false
	}
	if pos.Stop > 0 && price >= pos.Stop {
		return "stop_loss", true
	}
	if pos.Target > 0 && price <= pos.Target {
		return "take_profit", true
	}
	return "", false
}

// Close flattens one position. Safe to call concurrently; the symbol lock
// serialises racing closes.
func (m *Manager) Close(ctx context.Context, symbol, reason string) error {
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok || !pos.State.Live() {
		m.mu.Unlock()
		return nil
	}
	pos.State = StateClosing
	pos.CloseReason = reason
	m.mu.Unlock()
	m.persist(ctx, pos)

	if err := m.policy.Pause(ctx, pacing.ActionPlaceOrder); err != nil {
		return err
	}
	res, err := m.placeWithRetry(ctx, exchange.OrderRequest{
		ClientID: uuid.NewString(),
		Symbol:   pos.Symbol,
		Side:     pos.Side.Opposite(),
		Quantity: pos.Quantity,
	})
	if err != nil {
		// Leave it in Closing; the next monitor pass retries the close.
		return fmt.Errorf("close %s: %w", symbol, err)
	}

	exit := res.AvgPrice
	if exit <= 0 {
		exit = pos.EntryPrice
	}
	m.finalizeClose(ctx, pos, exit, reason)
	return nil
}

// finalizeClose books the realised result: P&L, budget counters, archive,
// notification.
func (m *Manager) finalizeClose(ctx context.Context, pos *Position, exitPrice float64, reason string) {
	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.Side == exchange.SideSell {
		pnl = -pnl
	}
	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Quantity; notional > 0 {
		pnlPct = pnl / notional * 100
	}

	m.mu.Lock()
	pos.State = StateClosed
	pos.ClosedAt = time.Now()
	pos.RealizedPnL = pnl
	pos.CloseReason = reason
	delete(m.positions, pos.Symbol)
	m.tally.Closed++
	m.tally.TotalProfit += pnl
	m.mu.Unlock()

	if m.budget != nil {
		// A zero balance tells the budget "unavailable": the loss still
		// counts, the drawdown measurement waits for the next good fetch.
		balance := 0.0
		if bal, err := m.gateway.FetchBalance(ctx); err == nil {
			balance = bal.Total
		}
		m.budget.RecordClose(pnl, balance)
	}

	m.archive(ctx, pos, exitPrice)
	m.notify(notifier.EventTradeClosed, map[string]any{
		"symbol":         pos.Symbol,
		"profit":         pnl,
		"profit_percent": pnlPct,
		"reason":         reason,
	})
	logger.Infof("positions: closed %s reason=%s pnl=%.4f (%.2f%%)", pos.Symbol, reason, pnl, pnlPct)
}

// CloseAll flattens every live position best effort. Each close is bounded
// by its own timeout so one unresponsive exchange call cannot stall the
// rest, and the whole pass gives up when ctx does.
func (m *Manager) CloseAll(ctx context.Context, reason string) int {
	live := m.snapshotLive()
	if len(live) == 0 {
		return 0
	}

	type result struct {
		symbol string
		err    error
	}
	results := make(chan result, len(live))

	for _, pos := range live {
		go func(symbol string) {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CloseTimeout)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- m.Close(cctx, symbol, reason) }()
			select {
			case err := <-done:
				results <- result{symbol: symbol, err: err}
			case <-cctx.Done():
				results <- result{symbol: symbol, err: cctx.Err()}
			}
		}(pos.Symbol)
	}

	closed := 0
	for range live {
		select {
		case res := <-results:
			if res.err != nil {
				logger.Warnf("positions: close-all %s failed: %v", res.symbol, res.err)
			} else {
				closed++
			}
		case <-ctx.Done():
			logger.Warnf("positions: close-all interrupted with %d/%d closed: %v", closed, len(live), ctx.Err())
			return closed
		}
	}
	return closed
}

// HasLive reports whether the symbol currently holds a Pending/Open/
// Closing position.
func (m *Manager) HasLive(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	return ok && pos.State.Live()
}

// LiveSymbols lists symbols with a live position.
func (m *Manager) LiveSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for sym, pos := range m.positions {
		if pos.State.Live() {
			out = append(out, sym)
		}
	}
	return out
}

// Tally returns lifetime open/close counters.
func (m *Manager) Tally() Tally {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tally
}

func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveCountLocked()
}

func (m *Manager) liveCountLocked() int {
	n := 0
	for _, pos := range m.positions {
		if pos.State.Live() {
			n++
		}
	}
	return n
}

// snapshotLive copies the live positions by value, so callers read a
// consistent view without holding the map lock across I/O and without
// racing the mutations Close makes under it.
func (m *Manager) snapshotLive() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		if pos.State.Live() {
			out = append(out, *pos)
		}
	}
	return out
}

// lookup returns the canonical pointer for a tracked symbol, or nil.
func (m *Manager) lookup(symbol string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol]
}

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[symbol] = lock
	}
	return lock
}

func (m *Manager) persist(ctx context.Context, pos *Position) {
	if m.store == nil {
		return
	}
	if err := m.store.SavePosition(ctx, pos.record()); err != nil {
		logger.Warnf("positions: persist failed for %s: %v", pos.Symbol, err)
	}
}

func (m *Manager) archive(ctx context.Context, pos *Position, exitPrice float64) {
	if m.store == nil {
		return
	}
	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Quantity; notional > 0 {
		pnlPct = pos.RealizedPnL / notional * 100
	}
	rationale, _ := json.Marshal(pos.Rationale)
	rec := store.TradeRecord{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		Profit:     pos.RealizedPnL,
		ProfitPct:  pnlPct,
		Reason:     pos.CloseReason,
		StrategyID: pos.StrategyID,
		Rationale:  rationale,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   pos.ClosedAt,
	}
	if err := m.store.ArchiveTrade(ctx, rec); err != nil {
		logger.Warnf("positions: archive failed for %s: %v", pos.Symbol, err)
	}
	if err := m.store.DeletePosition(ctx, pos.ID); err != nil {
		logger.Warnf("positions: delete live record failed for %s: %v", pos.Symbol, err)
	}
}

func (m *Manager) notify(typ notifier.EventType, fields map[string]any) {
	if err := m.sink.Send(notifier.NewEvent(typ, fields)); err != nil {
		logger.Warnf("positions: notify %s failed: %v", typ, err)
	}
}
