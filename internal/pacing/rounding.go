package pacing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Humans do not submit 0.0234857 of anything. Quantities are snapped to two
// significant figures, prices to four, which matches the granularity a
// person typing into an order form would plausibly use.
const (
	quantitySigFigs = 2
	priceSigFigs    = 4
)

func (h *Human) HumanizeQuantity(qty float64) float64 {
	if !h.cfg.Enabled {
		return qty
	}
	return roundSignificant(qty, quantitySigFigs)
}

func (h *Human) HumanizePrice(price float64) float64 {
	if !h.cfg.Enabled {
		return price
	}
	return roundSignificant(price, priceSigFigs)
}

func roundSignificant(v float64, figures int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	neg := v < 0
	abs := math.Abs(v)

	// Exponent of the leading digit; decimal keeps the rounding exact where
	// float math would drift.
	exp := int32(math.Floor(math.Log10(abs)))
	places := int32(figures-1) - exp

	rounded, _ := decimal.NewFromFloat(abs).Round(places).Float64()
	if neg {
		return -rounded
	}
	return rounded
}
