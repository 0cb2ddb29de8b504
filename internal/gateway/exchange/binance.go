package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"slowhand/internal/market"
)

const maxKlineLimit = 1500

// BinanceConfig configures the futures-backed gateway.
type BinanceConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string // override for testnets, empty for production
	Interval    string // kline interval, e.g. "1h"
	HTTPTimeout time.Duration
}

// Binance implements Gateway on top of the go-binance futures client.
type Binance struct {
	cfg    BinanceConfig
	client *futures.Client
}

func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	client := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &Binance{cfg: cfg, client: client}
}

var _ Gateway = (*Binance)(nil)

func (b *Binance) FetchBalance(ctx context.Context) (Balance, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return Balance{}, wrapConnectivity("fetch balance", err)
	}
	for _, bal := range balances {
		if bal == nil || bal.Asset != "USDT" {
			continue
		}
		return Balance{
			Total:     parseFloat(bal.Balance),
			Available: parseFloat(bal.AvailableBalance),
			Currency:  bal.Asset,
			UpdatedAt: time.Now(),
		}, nil
	}
	return Balance{Currency: "USDT", UpdatedAt: time.Now()}, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	symbol = cleanSymbol(symbol)
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Ticker{}, wrapConnectivity("fetch ticker "+symbol, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return Ticker{}, fmt.Errorf("fetch ticker %s: empty response", symbol)
	}
	return Ticker{
		Symbol: symbol,
		Price:  parseFloat(prices[0].Price),
		At:     time.Now(),
	}, nil
}

func (b *Binance) FetchCandles(ctx context.Context, symbol string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	symbol = cleanSymbol(symbol)
	kls, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(b.cfg.Interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapConnectivity("fetch candles "+symbol, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  time.UnixMilli(kl.OpenTime),
			CloseTime: time.UnixMilli(kl.CloseTime),
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("place order %s: quantity must be positive", req.Symbol)
	}
	side := futures.SideTypeBuy
	if req.Side == SideSell {
		side = futures.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, wrapConnectivity("place order "+req.Symbol, err)
	}
	return OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		FilledQty: parseFloat(resp.ExecutedQuantity),
		AvgPrice:  parseFloat(resp.AvgPrice),
		At:        time.Now(),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("cancel order %s: bad order id %q", symbol, orderID)
	}
	_, err = b.client.NewCancelOrderService().
		Symbol(cleanSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return wrapConnectivity("cancel order "+symbol, err)
	}
	return nil
}

func (b *Binance) FetchOpenPositions(ctx context.Context) ([]Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrapConnectivity("fetch positions", err)
	}
	out := make([]Position, 0, len(risks))
	now := time.Now()
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := SideBuy
		qty := amt
		if amt < 0 {
			side = SideSell
			qty = -amt
		}
		out = append(out, Position{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   qty,
			EntryPrice: parseFloat(r.EntryPrice),
			MarkPrice:  parseFloat(r.MarkPrice),
			UpdatedAt:  now,
		})
	}
	return out, nil
}

// cleanSymbol drops the slash notation ("ETH/USDT" -> "ETHUSDT") the way
// Binance expects.
func cleanSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func parseFloat(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return val
}

// wrapConnectivity tags transport-level failures with ErrUnreachable. An
// APIError means the exchange answered and rejected the request, which is a
// different failure class.
func wrapConnectivity(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
}
