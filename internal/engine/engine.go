// Package engine is the event dispatcher (spec.md C9): it owns every
// ledger the core touches and sequences calls into the lattice, Greeks,
// price cache, portfolio, hedge, and risk packages behind four entry
// points plus the two direct underlying-trade calls. Modeled on
// trade.Service's shape — one struct holding the mutable state, one
// mutex serializing every public method — but the engine takes no store
// dependency: all state lives in memory, per spec.md §1 Non-goals.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atmx/lattice-mm/internal/hedge"
	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/portfolio"
	"github.com/atmx/lattice-mm/internal/pricecache"
	"github.com/atmx/lattice-mm/internal/quote"
	"github.com/atmx/lattice-mm/internal/risk"
)

// ErrInvalidQuantity is returned by BuyUnderlying/SellUnderlying when the
// requested quantity is not strictly positive.
var ErrInvalidQuantity = errors.New("engine: quantity must be positive")

// ErrTradeCallbackFailure wraps a failure from the registered trade
// callback. It propagates from BuyUnderlying/SellUnderlying; the same
// failure is swallowed (not returned) when it originates inside the
// hedge controller's own trading.
var ErrTradeCallbackFailure = errors.New("engine: trade callback failed")

// Engine is the single-threaded, synchronous core described by spec.md
// §5. Every exported method acquires mu; none is reentrant.
type Engine struct {
	mu sync.Mutex

	underlyings    []*model.Underlying
	underlyingByID map[int]*model.Underlying
	activeOptions  []*model.Option

	position    *model.Position
	cache       *pricecache.Cache
	hedge       *hedge.Controller
	risk        *risk.Supervisor
	realizedPnL float64

	trade hedge.TradeFunc
}

// New constructs an Engine seeded with the harness's initial underlying
// and option state, and the trade callback the hedge controller and
// direct buy/sell calls will drive.
func New(initialUnderlyings []*model.Underlying, initialOptions []*model.Option, trade hedge.TradeFunc) *Engine {
	e := &Engine{
		underlyings:   initialUnderlyings,
		activeOptions: initialOptions,
		position:      model.NewPosition(),
		cache:         pricecache.New(),
		risk:          risk.NewSupervisor(),
		trade:         trade,
	}
	e.hedge = hedge.New(trade)
	e.rebuildUnderlyingIndex()
	return e
}

func (e *Engine) rebuildUnderlyingIndex() {
	e.underlyingByID = make(map[int]*model.Underlying, len(e.underlyings))
	for _, u := range e.underlyings {
		e.underlyingByID[u.ID] = u
	}
}

// PortfolioValue returns the current mark-to-market portfolio value.
func (e *Engine) PortfolioValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolioValue()
}

func (e *Engine) portfolioValue() float64 {
	return portfolio.Value(e.realizedPnL, e.activeOptions, e.underlyingByID, e.position, e.cache)
}

// Position exposes the live position ledger for inspection. Callers must
// not mutate the returned maps.
func (e *Engine) Position() *model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// HedgeLedger exposes the live hedge ledger for inspection.
func (e *Engine) HedgeLedger() map[int]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hedge.Ledger()
}

// PositionSnapshot returns independent copies of the option and
// underlying position maps, safe to read after the call returns without
// holding e's lock — for HTTP handlers serializing a response.
func (e *Engine) PositionSnapshot() (options map[int]int, underlyings map[int]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	options = make(map[int]int, len(e.position.Options))
	for k, v := range e.position.Options {
		options[k] = v
	}
	underlyings = make(map[int]float64, len(e.position.Underlyings))
	for k, v := range e.position.Underlyings {
		underlyings[k] = v
	}
	return options, underlyings
}

// SafeMode reports whether the risk supervisor currently suppresses
// quoting.
func (e *Engine) SafeMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.risk.SafeMode()
}

// CacheSize reports the number of memoized price cache entries, for
// ambient metrics sampling by cmd/server.
func (e *Engine) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// MakeMarket runs the risk check and, if quoting is allowed, builds a
// two-sided quote for opt (spec.md §4.8).
func (e *Engine) MakeMarket(opt *model.Option) (bid, ask float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.risk.Evaluate(e.portfolioValue()) {
		return risk.SentinelBid, risk.SentinelAsk
	}
	return quote.Build(opt, e.underlyingByID, e.cache, e.position.Options[opt.ID])
}

// OnBidHit books a buy of one contract of opt at bidPrice and runs the
// post-trade hedge.
func (e *Engine) OnBidHit(opt *model.Option, bidPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.position.AddOptionQuantity(opt.ID, +1)
	e.realizedPnL += bidPrice
	e.postTradeHedge(opt, +1)
}

// OnOfferHit books a sell of one contract of opt at offerPrice and runs
// the post-trade hedge.
func (e *Engine) OnOfferHit(opt *model.Option, offerPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.position.AddOptionQuantity(opt.ID, -1)
	e.realizedPnL -= offerPrice
	e.postTradeHedge(opt, -1)
}

func (e *Engine) postTradeHedge(opt *model.Option, q int) {
	u, ok := e.underlyingByID[opt.UnderlyingID]
	if !ok {
		return // MissingUnderlying: nothing to hedge against
	}
	_, delta, _ := e.cache.GetGreeks(opt, u)
	e.hedge.PostTradeHedge(opt.UnderlyingID, q, delta, e.activeOptions, e.underlyingByID, e.position, e.cache)
}

// OnStepAdvance swaps in the harness's new underlying/option state, prunes
// the price cache to the new active set, runs the per-step rehedge pass,
// then refreshes LastUnderlyingPrices to the new valuations (spec.md §4.8).
func (e *Engine) OnStepAdvance(newUnderlyings []*model.Underlying, newOptions []*model.Option) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.underlyings = newUnderlyings
	e.activeOptions = newOptions
	e.rebuildUnderlyingIndex()

	activeIDs := make(map[int]struct{}, len(newOptions))
	for _, o := range newOptions {
		activeIDs[o.ID] = struct{}{}
	}
	e.cache.PruneToActiveSet(activeIDs)

	e.hedge.PerStepRehedge(newUnderlyings, e.activeOptions, e.underlyingByID, e.position, e.cache)

	for _, u := range newUnderlyings {
		e.cache.SetLastPrice(u.ID, u.Valuation)
	}
}

// BuyUnderlying invokes the trade callback to buy qty shares of
// underlyingID directly, then updates the position ledger. Unlike the
// hedge controller's own trading, a callback failure here propagates to
// the caller rather than being swallowed.
func (e *Engine) BuyUnderlying(underlyingID int, qty float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradeUnderlying(underlyingID, qty, +1)
}

// SellUnderlying invokes the trade callback to sell qty shares of
// underlyingID directly, then updates the position ledger.
func (e *Engine) SellUnderlying(underlyingID int, qty float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradeUnderlying(underlyingID, qty, -1)
}

func (e *Engine) tradeUnderlying(underlyingID int, qty float64, sign float64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidQuantity, qty)
	}
	signedQty := sign * qty
	if err := e.trade(underlyingID, signedQty); err != nil {
		return fmt.Errorf("%w: %v", ErrTradeCallbackFailure, err)
	}
	e.position.AddUnderlyingQuantity(underlyingID, signedQty)
	return nil
}
