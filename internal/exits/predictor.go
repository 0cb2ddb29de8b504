package exits

import "slowhand/internal/market"

// Distances are a predictor's raw opinion: how far price should travel in
// our favour before taking profit and how much adverse movement to absorb
// before stopping out. Both are absolute price distances, never negative.
type Distances struct {
	Favorable float64
	Adverse   float64
}

// Predictor estimates exit distances from market context. Implementations
// must be pure: no side effects, same context in, same distances out.
type Predictor interface {
	Predict(mctx market.Context) Distances
}

// ATRPredictor is the baseline: exits as fixed multiples of the volatility
// measure.
type ATRPredictor struct {
	FavorableMult float64
	AdverseMult   float64
}

func (p ATRPredictor) Predict(mctx market.Context) Distances {
	fav, adv := p.FavorableMult, p.AdverseMult
	if fav <= 0 {
		fav = 2.0
	}
	if adv <= 0 {
		adv = 1.0
	}
	return Distances{
		Favorable: mctx.Volatility * fav,
		Adverse:   mctx.Volatility * adv,
	}
}

type weightedPredictor struct {
	predictor Predictor
	weight    float64
}

// Ensemble combines several predictors by weighted vote. It satisfies
// Predictor itself so callers cannot tell one model from many.
type Ensemble struct {
	members []weightedPredictor
}

func NewEnsemble() *Ensemble { return &Ensemble{} }

func (e *Ensemble) Add(p Predictor, weight float64) *Ensemble {
	if p != nil && weight > 0 {
		e.members = append(e.members, weightedPredictor{predictor: p, weight: weight})
	}
	return e
}

var _ Predictor = (*Ensemble)(nil)

func (e *Ensemble) Predict(mctx market.Context) Distances {
	var favSum, advSum, total float64
	for _, m := range e.members {
		d := m.predictor.Predict(mctx)
		favSum += d.Favorable * m.weight
		advSum += d.Adverse * m.weight
		total += m.weight
	}
	if total == 0 {
		return Distances{}
	}
	return Distances{Favorable: favSum / total, Adverse: advSum / total}
}
