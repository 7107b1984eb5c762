package engine

import (
	"errors"
	"testing"

	"github.com/atmx/lattice-mm/internal/model"
	"github.com/atmx/lattice-mm/internal/risk"
)

func mustUnderlying(t *testing.T, id int, s float64) *model.Underlying {
	t.Helper()
	u, err := model.NewUnderlying(id, "W", s, 2.0, 2.0, 0.5, 0.5, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return u
}

func mustOption(t *testing.T, id int, typ model.OptionType, n, k, uid int) *model.Option {
	t.Helper()
	o, err := model.NewOption(id, typ, n, k, uid, "W")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func noopTrade(int, float64) error { return nil }

func TestMakeMarket_MissingUnderlyingReturnsSentinel(t *testing.T) {
	opt := mustOption(t, 1, model.Call, 5, 150, 99) // underlying 99 never registered
	e := New(nil, []*model.Option{opt}, noopTrade)

	bid, ask := e.MakeMarket(opt)
	if bid != 0.01 || ask != 99_999_999.0 {
		t.Errorf("expected sentinel quote, got (%v, %v)", bid, ask)
	}
}

// Scenario D, at the dispatcher level: a bid-hit on a deep-ITM call
// triggers a hedge sell since net delta is positive.
func TestOnBidHit_ScenarioD_TriggersHedgeSell(t *testing.T) {
	u := mustUnderlying(t, 1, 150)
	opt := mustOption(t, 1, model.Call, 5, 140, 1)

	var calls int
	var gotQty float64
	e := New([]*model.Underlying{u}, []*model.Option{opt}, func(uid int, qty float64) error {
		calls++
		gotQty = qty
		return nil
	})

	e.OnBidHit(opt, 12.0)

	if calls != 1 {
		t.Fatalf("expected exactly one hedge trade, got %d", calls)
	}
	if gotQty >= 0 {
		t.Errorf("expected a sell (negative quantity), got %v", gotQty)
	}
	if e.Position().Options[opt.ID] != 1 {
		t.Errorf("expected position of 1, got %d", e.Position().Options[opt.ID])
	}
}

// Invariant 5: position ledger additivity across a sequence of hits.
func TestPositionLedger_Additivity(t *testing.T) {
	u := mustUnderlying(t, 1, 150)
	opt := mustOption(t, 1, model.Call, 5, 152, 1)
	e := New([]*model.Underlying{u}, []*model.Option{opt}, noopTrade)

	e.OnBidHit(opt, 1.0)
	e.OnBidHit(opt, 1.0)
	e.OnOfferHit(opt, 1.0)

	if got := e.Position().Options[opt.ID]; got != 1 {
		t.Errorf("expected position 1 (2 buys - 1 sell), got %d", got)
	}
}

// Scenario E: 51 bid-hits push the position to 51; the 52nd make_market
// call returns bid = 0.01.
func TestScenarioE_InventorySkewRefusesToBuyMore(t *testing.T) {
	u := mustUnderlying(t, 1, 150)
	opt := mustOption(t, 1, model.Call, 5, 152, 1)
	e := New([]*model.Underlying{u}, []*model.Option{opt}, noopTrade)

	for i := 0; i < 51; i++ {
		e.OnBidHit(opt, 0.5)
	}

	bid, _ := e.MakeMarket(opt)
	if bid != 0.01 {
		t.Errorf("expected bid pinned to 0.01 after 51 bid-hits, got %v", bid)
	}
}

// Scenario F: seed pnl to -60,000 via offer-hits at large prices; safe
// mode engages and make_market returns the sentinel. Recovery to -20,000
// (via bid-hits crediting pnl back up) restores normal quoting.
func TestScenarioF_SafeModeEngageAndRecover(t *testing.T) {
	u := mustUnderlying(t, 1, 150)
	opt := mustOption(t, 1, model.Call, 5, 152, 1)
	e := New([]*model.Underlying{u}, []*model.Option{opt}, noopTrade)

	e.OnOfferHit(opt, 60_000)
	bid, ask := e.MakeMarket(opt)
	if bid != risk.SentinelBid || ask != risk.SentinelAsk {
		t.Errorf("expected sentinel quote after drawdown, got (%v, %v)", bid, ask)
	}
	if !e.SafeMode() {
		t.Error("expected safe mode engaged")
	}

	e.OnBidHit(opt, 40_000)
	bid, ask = e.MakeMarket(opt)
	if bid == risk.SentinelBid && ask == risk.SentinelAsk {
		t.Errorf("expected normal quote after recovery, got sentinel")
	}
	if e.SafeMode() {
		t.Error("expected safe mode cleared after recovery")
	}
}

func TestOnStepAdvance_PrunesExpiredOptionsFromCache(t *testing.T) {
	u := mustUnderlying(t, 1, 150)
	expiring := mustOption(t, 1, model.Call, 5, 152, 1)
	e := New([]*model.Underlying{u}, []*model.Option{expiring}, noopTrade)

	e.MakeMarket(expiring) // populate the cache
	if e.cache.Len() == 0 {
		t.Fatal("expected cache to be populated before step advance")
	}

	surviving := mustOption(t, 2, model.Call, 5, 152, 1)
	e.OnStepAdvance([]*model.Underlying{u}, []*model.Option{surviving})

	if e.cache.Len() != 0 {
		t.Errorf("expected cache pruned of expired option id, got %d entries", e.cache.Len())
	}
}

func TestBuyUnderlying_InvalidQuantity(t *testing.T) {
	e := New(nil, nil, noopTrade)
	if err := e.BuyUnderlying(1, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := e.BuyUnderlying(1, -5); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestBuyUnderlying_CallbackFailurePropagates(t *testing.T) {
	e := New(nil, nil, func(int, float64) error { return errors.New("rejected") })
	err := e.BuyUnderlying(1, 10)
	if !errors.Is(err, ErrTradeCallbackFailure) {
		t.Errorf("expected ErrTradeCallbackFailure, got %v", err)
	}
	if qty := e.Position().Underlyings[1]; qty != 0 {
		t.Errorf("expected position unchanged on callback failure, got %v", qty)
	}
}

func TestBuyAndSellUnderlying_UpdatePosition(t *testing.T) {
	e := New(nil, nil, noopTrade)
	if err := e.BuyUnderlying(1, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.SellUnderlying(1, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.Position().Underlyings[1]; got != 6 {
		t.Errorf("expected net position 6, got %v", got)
	}
}
