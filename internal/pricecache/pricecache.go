// Package pricecache memoizes (option, underlying-price) -> (price, delta,
// gamma) lookups for the lattice engine, with a Taylor-extrapolation fast
// path for small underlying moves and active-set pruning on step advance.
//
// The cache is not internally synchronized — per the specification the
// whole engine is single-threaded and synchronous; callers (internal/
// engine) are responsible for serializing access the same way they
// serialize every other entry point.
package pricecache

import (
	"math"

	"github.com/atmx/lattice-mm/internal/greeks"
	"github.com/atmx/lattice-mm/internal/model"
)

// pruneCeiling and pruneDrop implement the crude ceiling in spec.md §4.4:
// once pruning by active option id still leaves more than pruneCeiling
// entries, drop pruneDrop of them in iteration order to make progress.
const (
	pruneCeiling = 100_000
	pruneDrop    = 50_000
)

// triple is the cached (price, delta, gamma) value.
type triple struct {
	price, delta, gamma float64
}

// key is a composite cache key: an option id paired with the exact
// bit-pattern of the underlying valuation. Keying on the bit pattern
// (rather than string concatenation, as the original implementation did)
// makes the common case — underlying prices rounded to 0.01 at
// generation — hit reliably, while never coalescing two distinct floats
// that happen to format the same.
type key struct {
	optionID int
	bits     uint64
}

func keyOf(optionID int, price float64) key {
	return key{optionID: optionID, bits: math.Float64bits(price)}
}

// Cache is the price/Greeks memoization table plus the last-observed
// underlying valuation per underlying id, used for Taylor extrapolation.
type Cache struct {
	entries    map[key]triple
	lastPrices map[int]float64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries:    make(map[key]triple),
		lastPrices: make(map[int]float64),
	}
}

// LastPrice returns the most recently observed valuation for underlyingID,
// and whether one has been recorded yet.
func (c *Cache) LastPrice(underlyingID int) (float64, bool) {
	p, ok := c.lastPrices[underlyingID]
	return p, ok
}

// SetLastPrice overwrites the last-observed valuation for underlyingID.
// Used by internal/engine to refresh LastUnderlyingPrices with the new
// state's valuations at the end of on_step_advance, independent of
// whatever PriceOption happened to observe during the step.
func (c *Cache) SetLastPrice(underlyingID int, price float64) {
	c.lastPrices[underlyingID] = price
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// PriceOption returns the fair value of opt against u, following the
// lookup order in spec.md §4.4: bypass-at-expiry, exact cache hit, Taylor
// extrapolation from a nearby observed price, then full lattice recompute.
func (c *Cache) PriceOption(opt *model.Option, u *model.Underlying) float64 {
	if opt.StepsToExpiry == 0 {
		return opt.ExpiryPayoff(u.Valuation)
	}

	S := u.Valuation
	k := keyOf(opt.ID, S)
	if t, ok := c.entries[k]; ok {
		return t.price
	}

	if sPrev, ok := c.lastPrices[u.ID]; ok && sPrev != S {
		dS := S - sPrev
		if math.Abs(dS) < u.UpStep*0.1 {
			if prev, ok := c.entries[keyOf(opt.ID, sPrev)]; ok {
				extrapolated := prev.price + prev.delta*dS + 0.5*prev.gamma*dS*dS
				delta := greeks.Delta(opt, u, extrapolated)
				gamma := greeks.Gamma(opt, u)
				c.entries[k] = triple{price: extrapolated, delta: delta, gamma: gamma}
				return extrapolated
			}
		}
	}

	price, delta, gamma := greeks.Compute(opt, u)
	c.entries[k] = triple{price: price, delta: delta, gamma: gamma}
	c.lastPrices[u.ID] = S
	return price
}

// GetGreeks returns (price, delta, gamma) for opt against u. Unlike
// PriceOption, this never extrapolates: it either hits the exact cache
// entry or computes everything from scratch via a full lattice pass.
func (c *Cache) GetGreeks(opt *model.Option, u *model.Underlying) (price, delta, gamma float64) {
	k := keyOf(opt.ID, u.Valuation)
	if t, ok := c.entries[k]; ok {
		return t.price, t.delta, t.gamma
	}

	price, delta, gamma = greeks.Compute(opt, u)
	c.entries[k] = triple{price: price, delta: delta, gamma: gamma}
	return price, delta, gamma
}

// PruneToActiveSet drops every entry whose option id is not present in
// activeIDs, then — if the table is still oversized — drops pruneDrop
// entries in (unspecified) iteration order to bound memory.
func (c *Cache) PruneToActiveSet(activeIDs map[int]struct{}) {
	for k := range c.entries {
		if _, ok := activeIDs[k.optionID]; !ok {
			delete(c.entries, k)
		}
	}

	if len(c.entries) <= pruneCeiling {
		return
	}

	dropped := 0
	for k := range c.entries {
		if dropped >= pruneDrop {
			break
		}
		delete(c.entries, k)
		dropped++
	}
}
