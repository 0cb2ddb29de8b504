package risk

import (
	"sync"
	"time"
)

// Budget tracks the per-run-day risk counters. Only the position lifecycle
// manager writes to it (on position close); everything else reads
// snapshots. Counters reset at the UTC day boundary.
type Budget struct {
	mu          sync.Mutex
	day         time.Time
	dailyLoss   float64 // positive magnitude
	dailyTrades int
	peakBalance float64
	drawdown    float64

	nowFn func() time.Time
}

// BudgetSnapshot is an immutable copy of the counters.
type BudgetSnapshot struct {
	DailyLossUsed float64
	DailyTrades   int
	Drawdown      float64
	PeakBalance   float64
}

func NewBudget() *Budget {
	return &Budget{nowFn: time.Now}
}

// RecordClose books one realised close: pnl (signed) and the resulting
// account balance. A non-positive balance means the balance could not be
// fetched at close time; the loss counters still advance but the peak and
// drawdown are left alone rather than measured against nothing.
func (b *Budget) RecordClose(pnl, balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()

	b.dailyTrades++
	if pnl < 0 {
		b.dailyLoss += -pnl
	}
	if balance <= 0 {
		return
	}
	if balance > b.peakBalance {
		b.peakBalance = balance
	}
	if b.peakBalance > 0 {
		b.drawdown = (b.peakBalance - balance) / b.peakBalance
		if b.drawdown < 0 {
			b.drawdown = 0
		}
	}
}

// SeedBalance initialises the peak balance at startup so drawdown is
// measured against something sensible before the first close.
func (b *Budget) SeedBalance(balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if balance > b.peakBalance {
		b.peakBalance = balance
	}
}

func (b *Budget) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	return BudgetSnapshot{
		DailyLossUsed: b.dailyLoss,
		DailyTrades:   b.dailyTrades,
		Drawdown:      b.drawdown,
		PeakBalance:   b.peakBalance,
	}
}

func (b *Budget) rolloverLocked() {
	today := b.nowFn().UTC().Truncate(24 * time.Hour)
	if b.day.Equal(today) {
		return
	}
	b.day = today
	b.dailyLoss = 0
	b.dailyTrades = 0
}
