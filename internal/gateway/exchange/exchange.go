package exchange

import (
	"context"
	"errors"
	"time"

	"slowhand/internal/market"
)

// ErrUnreachable marks connectivity failures so callers can distinguish a
// down exchange from a rejected request.
var ErrUnreachable = errors.New("exchange unreachable")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing side for an entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type Balance struct {
	Total     float64
	Available float64
	Currency  string
	UpdatedAt time.Time
}

type Ticker struct {
	Symbol string
	Price  float64
	At     time.Time
}

// OrderRequest is a market order the bot wants filled.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Side     Side
	Quantity float64
	// Price is advisory (reference at submission time); execution is at
	// market.
	Price float64
}

type OrderResult struct {
	OrderID   string
	FilledQty float64
	AvgPrice  float64
	At        time.Time
}

// Position is an exchange-reported open position, the authoritative record
// during reconciliation.
type Position struct {
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	MarkPrice  float64
	UpdatedAt  time.Time
}

// Gateway is the bot's only door to the exchange.
type Gateway interface {
	FetchBalance(ctx context.Context) (Balance, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchCandles(ctx context.Context, symbol string, limit int) ([]market.Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOpenPositions(ctx context.Context) ([]Position, error)
}
