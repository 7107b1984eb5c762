// Package portfolio aggregates option and underlying positions into a
// mark-to-market portfolio value and per-underlying residual delta. Like
// internal/lattice and internal/greeks, it holds no state of its own —
// every function takes the engine's current state explicitly, mirroring
// the teacher's trade.Service.GetPortfolio handler, which recomputes P&L
// and exposure from the store on every call rather than caching it.
package portfolio

import (
	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/pricecache"
)

// Value computes the mark-to-market portfolio value: realized P&L, plus
// each non-zero option position times its cached fair value, plus each
// non-zero underlying share position times its current valuation.
//
// An option or underlying missing from underlyingByID is a soft
// MissingUnderlying failure (spec.md §7): it contributes 0, it does not
// error.
func Value(
	realizedPnL float64,
	activeOptions []*model.Option,
	underlyingByID map[int]*model.Underlying,
	position *model.Position,
	cache *pricecache.Cache,
) float64 {
	total := realizedPnL

	for _, opt := range activeOptions {
		qty, ok := position.Options[opt.ID]
		if !ok || qty == 0 {
			continue
		}
		u, ok := underlyingByID[opt.UnderlyingID]
		if !ok {
			continue
		}
		total += float64(qty) * cache.PriceOption(opt, u)
	}

	for uid, qty := range position.Underlyings {
		if qty == 0 {
			continue
		}
		u, ok := underlyingByID[uid]
		if !ok {
			continue
		}
		total += qty * u.Valuation
	}

	return total
}

// Delta computes the residual directional exposure in underlying uid: the
// sum of position*delta across every active option written on uid, minus
// whatever the hedge ledger already holds against it. Returns 0.0 if uid
// is missing from underlyingByID (MissingUnderlying soft failure).
func Delta(
	uid int,
	activeOptions []*model.Option,
	underlyingByID map[int]*model.Underlying,
	position *model.Position,
	cache *pricecache.Cache,
	hedgeLedger map[int]float64,
) float64 {
	u, ok := underlyingByID[uid]
	if !ok {
		return 0.0
	}

	var net float64
	for _, opt := range activeOptions {
		if opt.UnderlyingID != uid {
			continue
		}
		qty, ok := position.Options[opt.ID]
		if !ok || qty == 0 {
			continue
		}
		_, delta, _ := cache.GetGreeks(opt, u)
		net += float64(qty) * delta
	}

	net -= hedgeLedger[uid]
	return net
}
