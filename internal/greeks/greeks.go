// Package greeks computes option delta and gamma via finite differences
// on bumped underlyings, the same stateless-function style as the lattice
// package — no caching, no memory of prior calls. internal/pricecache
// layers memoization on top of these pure computations.
package greeks

import (
	"math"

	"github.com/atmx/lattice-mm/internal/lattice"
	"github.com/atmx/lattice-mm/internal/model"
)

// bumpSize returns the finite-difference step, capped at 1.0, per the
// specification: min(1.0, u*0.1).
func bumpSize(u *model.Underlying) float64 {
	return math.Min(1.0, u.UpStep*0.1)
}

// Delta computes the forward finite-difference delta: the option is
// priced on a bumped underlying whose valuation is max(0, S+bump), with
// every other parameter held fixed, and compared against basePrice.
//
// basePrice must be the caller's already-computed price at the unbumped
// underlying — Delta does not recompute it, to avoid a redundant lattice
// pass when the caller already has it (as internal/pricecache does).
func Delta(opt *model.Option, u *model.Underlying, basePrice float64) float64 {
	bump := bumpSize(u)
	bumped := u.WithValuation(u.Valuation + bump)
	return (lattice.Price(opt, bumped) - basePrice) / bump
}

// Gamma computes the symmetric second difference. Unlike Delta, Gamma
// recomputes the base price itself rather than accepting it from the
// caller — this is intentional and must be preserved for numerical
// reproducibility: the central term is P(S), freshly lattice-priced, not
// whatever base price the caller happened to pass elsewhere.
func Gamma(opt *model.Option, u *model.Underlying) float64 {
	bump := bumpSize(u)
	up := u.WithValuation(u.Valuation + bump)
	down := u.WithValuation(u.Valuation - bump)

	pUp := lattice.Price(opt, up)
	pMid := lattice.Price(opt, u)
	pDown := lattice.Price(opt, down)

	return (pUp - 2*pMid + pDown) / (bump * bump)
}

// Compute returns (price, delta, gamma) computed entirely from scratch —
// five lattice passes (base and up for Delta, then up, base and down again
// inside Gamma). This is the "full recompute"
// path the specification requires price_cache to fall back to whenever
// no usable cache entry or Taylor extrapolation is available.
func Compute(opt *model.Option, u *model.Underlying) (price, delta, gamma float64) {
	price = lattice.Price(opt, u)
	delta = Delta(opt, u, price)
	gamma = Gamma(opt, u)
	return price, delta, gamma
}
