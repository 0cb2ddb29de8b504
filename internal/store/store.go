package store

import (
	"context"
	"time"
)

// RunStateRecord is the minimum persisted to resume safely after a restart.
type RunStateRecord struct {
	Running          bool
	State            string
	StartedAt        *time.Time
	StoppedAt        *time.Time
	CyclesTotal      int64
	TradesOpened     int64
	TradesClosed     int64
	CumulativeProfit float64
}

// PositionRecord mirrors a live position. One row per open position.
type PositionRecord struct {
	ID         string
	Symbol     string
	Side       string
	EntryPrice float64
	Quantity   float64
	Stop       float64
	Target     float64
	State      string
	StrategyID string
	OpenedAt   time.Time
	UpdatedAt  time.Time
}

// TradeRecord archives one completed round trip.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Profit     float64
	ProfitPct  float64
	Reason     string
	StrategyID string
	Rationale  []byte // sizing rationale, JSON
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Store is the core's persistence boundary. Schema details stay behind it.
type Store interface {
	LoadOpenPositions(ctx context.Context) ([]PositionRecord, error)
	SavePosition(ctx context.Context, rec PositionRecord) error
	DeletePosition(ctx context.Context, id string) error
	ArchiveTrade(ctx context.Context, rec TradeRecord) error
	LoadRunState(ctx context.Context) (RunStateRecord, bool, error)
	UpdateRunState(ctx context.Context, rec RunStateRecord) error
	Close() error
}
