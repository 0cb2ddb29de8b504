package position

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/logger"
)

// Reconcile compares local state with the exchange and corrects local state
// to match. The exchange is authoritative: a position it no longer reports
// is treated as closed out-of-band, and one it reports that we do not track
// is adopted so the monitor covers it.
func (m *Manager) Reconcile(ctx context.Context) error {
	remote, err := m.gateway.FetchOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	bySymbol := make(map[string]exchange.Position, len(remote))
	for _, rp := range remote {
		if rp.Quantity != 0 {
			bySymbol[rp.Symbol] = rp
		}
	}

	for _, snap := range m.snapshotLive() {
		rp, ok := bySymbol[snap.Symbol]
		if !ok {
			logger.Warnf("positions: %s missing on exchange, closing locally", snap.Symbol)
			exit := snap.EntryPrice
			if t, err := m.gateway.FetchTicker(ctx, snap.Symbol); err == nil && t.Price > 0 {
				exit = t.Price
			}
			if pos := m.lookup(snap.Symbol); pos != nil {
				m.finalizeClose(ctx, pos, exit, "reconciled_external_close")
			}
			continue
		}
		delete(bySymbol, snap.Symbol)

		if qty := math.Abs(rp.Quantity); math.Abs(qty-snap.Quantity) > snap.Quantity*0.001 {
			logger.Warnf("positions: %s quantity drift local=%.6f exchange=%.6f, adopting exchange value",
				snap.Symbol, snap.Quantity, qty)
			m.mu.Lock()
			pos, tracked := m.positions[snap.Symbol]
			if tracked {
				pos.Quantity = qty
			}
			m.mu.Unlock()
			if tracked {
				m.persist(ctx, pos)
			}
		}
	}

	for _, rp := range bySymbol {
		logger.Warnf("positions: untracked %s %s position on exchange qty=%.6f, adopting",
			rp.Side, rp.Symbol, rp.Quantity)
		m.adopt(ctx, rp)
	}
	return nil
}

// adopt tracks an exchange position the bot has no record of. Stops and
// targets are unknown, so only manual intervention or close-all flattens it
// until the next protective levels are attached.
func (m *Manager) adopt(ctx context.Context, rp exchange.Position) {
	pos := &Position{
		ID:         uuid.NewString(),
		Symbol:     rp.Symbol,
		Side:       rp.Side,
		EntryPrice: rp.EntryPrice,
		Quantity:   math.Abs(rp.Quantity),
		State:      StateOpen,
		OpenedAt:   rp.UpdatedAt,
	}

	m.mu.Lock()
	if existing, ok := m.positions[pos.Symbol]; ok && existing.State.Live() {
		m.mu.Unlock()
		return
	}
	m.positions[pos.Symbol] = pos
	m.mu.Unlock()

	m.persist(ctx, pos)
}
