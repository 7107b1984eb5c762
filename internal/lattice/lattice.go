// Package lattice implements additive Cox-Ross-Rubinstein binomial option
// valuation on absolute price steps — not log-returns. The recursion is
// stateless and pure, mirroring the teacher repository's stateless LMSR
// cost function: given an Option and an Underlying, it returns a price
// with no package-level state to manage.
//
// No discounting is applied; the effective risk-free rate is 0. This is
// deliberate per the specification: the lattice's drift-free construction
// (enforced at Underlying construction, see internal/model) already makes
// the tree a risk-neutral martingale without a discount factor.
package lattice

import (
	"math"

	"github.com/atmx/lattice-mm/internal/model"
)

// Price computes the fair, risk-neutral, drift-free lattice price of opt
// against u.
//
// n = opt.StepsToExpiry. An array of n+1 terminal payoffs is built from
// the absolute up/down step sizes, then backward-induced one step at a
// time: T[i] <- pu*T[i+1] + pd*T[i]. At n=0 the terminal payoff is the
// answer directly — no induction needed.
func Price(opt *model.Option, u *model.Underlying) float64 {
	n := opt.StepsToExpiry
	S := u.Valuation

	terminal := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		Si := math.Max(0, S+float64(i)*u.UpStep-float64(n-i)*u.DownStep)
		terminal[i] = opt.ExpiryPayoff(Si)
	}

	for step := n; step >= 1; step-- {
		for i := 0; i < step; i++ {
			terminal[i] = u.UpProb*terminal[i+1] + u.DownProb*terminal[i]
		}
	}

	return terminal[0]
}
