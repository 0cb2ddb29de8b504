package strategy

import (
	"context"

	"slowhand/internal/market"
)

// Provider evaluates one symbol against a market snapshot and recommends an
// action. Implementations are black boxes to the pipeline: they may call out
// to models, remote services or plain indicator math, and may block until
// ctx is done.
type Provider interface {
	Evaluate(ctx context.Context, symbol string, snap market.Snapshot) (Evaluation, error)
}

// Registry maps strategy ids to providers. Lookup misses fall back to the
// default provider when one is registered under DefaultID.
type Registry struct {
	providers map[string]Provider
}

const DefaultID = "default"

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(id string, p Provider) {
	if id == "" || p == nil {
		return
	}
	r.providers[id] = p
}

func (r *Registry) Lookup(id string) (Provider, bool) {
	if p, ok := r.providers[id]; ok {
		return p, true
	}
	if p, ok := r.providers[DefaultID]; ok {
		return p, true
	}
	return nil, false
}
