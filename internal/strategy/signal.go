package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Action is a provider's recommended direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Signal is an actionable recommendation issued by a strategy provider.
// It is immutable once issued and consumed exactly once by the pipeline.
type Signal struct {
	Symbol     string
	Action     Action
	Confidence float64 // [0, 1]
	Price      float64 // reference price at evaluation time
	Stop       float64 // proposed stop, 0 when the provider has no opinion
	Target     float64 // proposed target, 0 when the provider has no opinion
	StrategyID string
	IssuedAt   time.Time
}

func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("signal %s: invalid action %q", s.Symbol, s.Action)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %.3f outside [0,1]", s.Symbol, s.Confidence)
	}
	if s.Price <= 0 {
		return fmt.Errorf("signal %s: reference price must be positive", s.Symbol)
	}
	return nil
}

// Evaluation is the tagged result of one provider call: either Wait or an
// actionable Signal. The pipeline can never mistake a zero-valued Signal for
// an instruction to trade.
type Evaluation struct {
	actionable bool
	signal     Signal
}

// Wait means the provider sees nothing to do for this symbol this cycle.
func Wait() Evaluation { return Evaluation{} }

// Act wraps an actionable signal.
func Act(sig Signal) Evaluation { return Evaluation{actionable: true, signal: sig} }

func (e Evaluation) IsWait() bool { return !e.actionable }

// Signal returns the wrapped signal; ok is false for Wait evaluations.
func (e Evaluation) Signal() (Signal, bool) {
	return e.signal, e.actionable
}
