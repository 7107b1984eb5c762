// Package pathgen is a reference implementation of the stochastic
// underlying-path generator the core engine treats as an external
// collaborator (spec.md §1). It is a direct Go port of
// original_source/underlying.cpp's advance_step: an up or down jump
// chosen by a uniform draw against up_move_probability, plus Gaussian
// noise, floored at zero and rounded to the cent.
//
// Reproducibility requires a seedable generator (spec.md §9 Design
// Notes); Generator wraps its own seeded rand.Source rather than drawing from
// distuv's package-level default source.
package pathgen

import (
	"github.com/atmx/lattice-mm/internal/model"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Generator produces new Underlying valuations and decrements Option
// expiries, seeded for reproducible simulation runs.
type Generator struct {
	uniform distuv.Uniform
	normal  distuv.Normal
}

// New returns a Generator seeded from seed. The same seed always produces
// the same sequence of draws.
func New(seed int64) *Generator {
	src := rand.NewSource(uint64(seed))
	return &Generator{
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: src},
		normal:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// AdvanceUnderlying draws u's next valuation: an up-move of UpStep with
// probability UpProb, else a down-move of DownStep, plus
// Normal(0, NoiseStdDev) noise, floored at 0 and rounded to 0.01.
func (g *Generator) AdvanceUnderlying(u *model.Underlying) *model.Underlying {
	var next float64
	if g.uniform.Rand() < u.UpProb {
		next = u.Valuation + u.UpStep
	} else {
		next = u.Valuation - u.DownStep
	}

	next += g.normal.Rand() * u.NoiseStdDev
	return u.WithValuation(roundCents(next))
}

// AdvanceUnderlyings maps AdvanceUnderlying over a full underlying set.
func (g *Generator) AdvanceUnderlyings(underlyings []*model.Underlying) []*model.Underlying {
	next := make([]*model.Underlying, len(underlyings))
	for i, u := range underlyings {
		next[i] = g.AdvanceUnderlying(u)
	}
	return next
}

// AdvanceOptions decrements every option's steps-to-expiry by one step
// (floored at zero), matching option.cpp's advance_step. Pure and
// stateless; kept on Generator only to mirror the underlying side's API.
func (g *Generator) AdvanceOptions(options []*model.Option) []*model.Option {
	next := make([]*model.Option, len(options))
	for i, o := range options {
		next[i] = o.AdvanceStep()
	}
	return next
}

func roundCents(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return float64(int64(v*100+0.5)) / 100
}
