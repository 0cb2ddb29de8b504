package position

import (
	"time"

	"slowhand/internal/gateway/exchange"
	"slowhand/internal/risk"
	"slowhand/internal/store"
)

// State is a position's lifecycle phase. Pending/Open/Closing are "live":
// the symbol is occupied and the pipeline must skip it.
type State string

const (
	StatePending   State = "pending"
	StateOpen      State = "open"
	StateClosing   State = "closing"
	StateClosed    State = "closed"
	StateCancelled State = "cancelled"
)

func (s State) Live() bool {
	return s == StatePending || s == StateOpen || s == StateClosing
}

// Position is one held exposure. At most one live Position exists per
// symbol; only the Manager mutates it.
type Position struct {
	ID          string
	Symbol      string
	Side        exchange.Side
	EntryPrice  float64
	Quantity    float64
	Stop        float64
	Target      float64
	StrategyID  string
	Rationale   risk.SizingRationale
	State       State
	OpenedAt    time.Time
	ClosedAt    time.Time
	RealizedPnL float64
	CloseReason string
}

func (p *Position) record() store.PositionRecord {
	return store.PositionRecord{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		EntryPrice: p.EntryPrice,
		Quantity:   p.Quantity,
		Stop:       p.Stop,
		Target:     p.Target,
		State:      string(p.State),
		StrategyID: p.StrategyID,
		OpenedAt:   p.OpenedAt,
	}
}

func fromRecord(rec store.PositionRecord) *Position {
	return &Position{
		ID:         rec.ID,
		Symbol:     rec.Symbol,
		Side:       exchange.Side(rec.Side),
		EntryPrice: rec.EntryPrice,
		Quantity:   rec.Quantity,
		Stop:       rec.Stop,
		Target:     rec.Target,
		State:      State(rec.State),
		StrategyID: rec.StrategyID,
		OpenedAt:   rec.OpenedAt,
	}
}
