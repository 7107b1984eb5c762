// Package quote assembles two-sided quotes from fair value, spread
// shaping, and inventory skew — the logic spec.md §4.3 describes,
// expressed the way the teacher's trade.Service composes a response from
// several independently-computed pieces (fair value, Greeks, limits)
// rather than one monolithic formula.
package quote

import (
	"math"

	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/pricecache"
)

// MaxPositions is the inventory limit above which a quote refuses to add
// to the position on that side.
const MaxPositions = 50

// SentinelBid and SentinelAsk are the do-not-trade quote emitted when the
// option's underlying cannot be found in engine state.
const (
	SentinelBid = 0.01
	SentinelAsk = 99_999_999.0
)

// Build computes the bid/ask for opt, applying spread shaping from
// gamma, time-to-expiry, and the caller's current signed position in
// opt, per spec.md §4.3. Returns the sentinel quote if opt's underlying
// is absent from underlyingByID.
func Build(opt *model.Option, underlyingByID map[int]*model.Underlying, cache *pricecache.Cache, positionQty int) (bid, ask float64) {
	u, ok := underlyingByID[opt.UnderlyingID]
	if !ok {
		return SentinelBid, SentinelAsk
	}

	fair := cache.PriceOption(opt, u)
	_, _, gamma := cache.GetGreeks(opt, u)

	baseSpread := math.Max(0.01, fair*0.02)
	gammaAdj := math.Min(0.5, math.Abs(gamma)*u.Valuation*0.1)

	var timeAdj float64
	switch {
	case opt.StepsToExpiry <= 2:
		timeAdj = 2.0
	case opt.StepsToExpiry <= 5:
		timeAdj = 1.3
	default:
		timeAdj = 1.0
	}

	spread := baseSpread * timeAdj * (1 + gammaAdj)

	bid = math.Max(0, fair-spread/2)
	ask = fair + spread/2

	if positionQty > MaxPositions {
		bid = 0.01
	}
	if positionQty < -MaxPositions {
		ask *= 10
	}

	return bid, ask
}
