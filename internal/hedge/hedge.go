// Package hedge implements the post-trade and per-step delta-neutralizing
// controller. It owns the HedgeLedger (spec.md §3) and drives the
// external trade callback, swallowing callback failures inside both
// hedge loops per spec.md §7 — mirroring how the teacher's trade.Service
// treats a failed broadcast as non-fatal to the trade it is reporting.
//
// The post-trade path and the per-step path use opposite sign
// conventions for a given net delta; this is preserved faithfully from
// the source system rather than "fixed" (see DESIGN.md, Open Question).
package hedge

import (
	"math"

	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/portfolio"
	"github.com/atmx/lattice-mm/internal/pricecache"
)

const (
	// MinHedge is the minimum trade size the post-trade path emits.
	MinHedge = 0.05
	// HedgeTH is the residual delta above which either path rehedges.
	HedgeTH = 0.03
	// GammaScalpTH is the minimum underlying move per step that makes
	// the per-step path reconsider hedging that underlying at all.
	GammaScalpTH = 0.005
)

// TradeFunc executes a signed trade in the underlying. Positive quantity
// buys, negative sells. A returned error is treated as "trade rejected":
// both hedge loops swallow it and leave the ledger untouched.
type TradeFunc func(underlyingID int, signedQuantity float64) error

// Controller owns the hedge ledger and the diagnostic accumulators
// spec.md §9 calls out: target_deltas (accumulated per post-trade hedge,
// never consulted) and a per-underlying last_hedge valuation (written
// unconditionally at the end of every per-step pass, also never
// consulted elsewhere). Both are retained purely as observables.
type Controller struct {
	ledger       map[int]float64
	targetDeltas map[int]float64
	lastHedge    map[int]float64
	trade        TradeFunc
}

// New returns a Controller that drives trade for every hedge it places.
func New(trade TradeFunc) *Controller {
	return &Controller{
		ledger:       make(map[int]float64, 8),
		targetDeltas: make(map[int]float64, 8),
		lastHedge:    make(map[int]float64, 8),
		trade:        trade,
	}
}

// Ledger returns the live HedgeLedger map (not a copy): underlying id to
// cumulative signed shares committed for delta-neutrality.
func (c *Controller) Ledger() map[int]float64 {
	return c.ledger
}

// TargetDeltas returns the diagnostic accumulator of q*delta contributions
// from every post-trade hedge call. Never consulted by hedging decisions.
func (c *Controller) TargetDeltas() map[int]float64 {
	return c.targetDeltas
}

// LastHedge returns the diagnostic map of underlying valuation observed at
// the end of the most recent per-step rehedge pass for each underlying.
func (c *Controller) LastHedge() map[int]float64 {
	return c.lastHedge
}

// PostTradeHedge runs the post-trade delta-neutralizing pass after a bid
// or offer hit on opt. q is +1 if we bought, -1 if we sold; delta is the
// option's delta at the time of the hit.
func (c *Controller) PostTradeHedge(
	uid int,
	q int,
	delta float64,
	activeOptions []*model.Option,
	underlyingByID map[int]*model.Underlying,
	position *model.Position,
	cache *pricecache.Cache,
) {
	c.targetDeltas[uid] += float64(q) * delta

	net := portfolio.Delta(uid, activeOptions, underlyingByID, position, cache, c.ledger)
	if math.Abs(net) > HedgeTH {
		c.execDeltaHedge(uid, net)
	}
}

// execDeltaHedge moves the hedge ledger toward target by selling when the
// required trade is positive and buying when it is negative — net
// exposure is treated as a long position the hedge offsets with a short.
func (c *Controller) execDeltaHedge(uid int, target float64) {
	cur := c.ledger[uid]
	trade := target - cur
	if math.Abs(trade) < MinHedge {
		return
	}

	signedQty := -trade // trade>0 sells |trade|; trade<0 buys |trade|
	if err := c.trade(uid, signedQty); err != nil {
		return
	}
	c.ledger[uid] = cur + trade
}

// PerStepRehedge runs the end-of-step rehedge pass across every
// underlying in the new state, reading each underlying's prior valuation
// from cache's LastUnderlyingPrices ledger (spec.md §4.6); the per-step
// path uses the opposite buy/sell sign convention from execDeltaHedge and
// updates the ledger additively rather than toward an absolute target.
// Engine.OnStepAdvance refreshes the cache's LastUnderlyingPrices to the
// new valuations only after this pass runs.
func (c *Controller) PerStepRehedge(
	newUnderlyings []*model.Underlying,
	activeOptions []*model.Option,
	underlyingByID map[int]*model.Underlying,
	position *model.Position,
	cache *pricecache.Cache,
) {
	for _, u := range newUnderlyings {
		S := u.Valuation
		sPrev, ok := cache.LastPrice(u.ID)
		if !ok {
			sPrev = S
		}
		diff := S - sPrev

		if math.Abs(diff) >= GammaScalpTH {
			net := portfolio.Delta(u.ID, activeOptions, underlyingByID, position, cache, c.ledger)
			if math.Abs(net) > HedgeTH {
				trade := net
				signedQty := trade // buy when positive, sell when negative
				if err := c.trade(u.ID, signedQty); err == nil {
					c.ledger[u.ID] += trade
				}
			}
		}

		c.lastHedge[u.ID] = S
	}
}
