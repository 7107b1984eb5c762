package lattice

import (
	"math"
	"testing"

	"github.com/atmx/lattice-mm/internal/model"
)

func mustUnderlying(t *testing.T, s, u, d, pu, pd float64) *model.Underlying {
	t.Helper()
	und, err := model.NewUnderlying(1, "W", s, u, d, pu, pd, 0.1)
	if err != nil {
		t.Fatalf("unexpected error constructing underlying: %v", err)
	}
	return und
}

func mustOption(t *testing.T, typ model.OptionType, n, k int) *model.Option {
	t.Helper()
	o, err := model.NewOption(1, typ, n, k, 1, "W")
	if err != nil {
		t.Fatalf("unexpected error constructing option: %v", err)
	}
	return o
}

// Scenario A: deterministic pricing. S=150, u=d=2.0, pu=pd=0.5, CALL n=5,
// K=152. Hand-derived via the CRR recursion in spec.md §8 Scenario A.
func TestPrice_ScenarioA_Deterministic(t *testing.T) {
	u := mustUnderlying(t, 150, 2.0, 2.0, 0.5, 0.5)
	call := mustOption(t, model.Call, 5, 152)

	got := Price(call, u)
	want := 0.875
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("price = %v, want %v", got, want)
	}
}

// Scenario B: put-call symmetry at the money with a symmetric lattice.
func TestPrice_ScenarioB_PutCallSymmetry(t *testing.T) {
	u := mustUnderlying(t, 150, 2.0, 2.0, 0.5, 0.5)
	call := mustOption(t, model.Call, 5, 150)
	put := mustOption(t, model.Put, 5, 150)

	callPrice := Price(call, u)
	putPrice := Price(put, u)

	if callPrice <= 0 {
		t.Errorf("expected positive call price, got %v", callPrice)
	}
	if math.Abs(callPrice-putPrice) > 1e-9 {
		t.Errorf("put-call symmetry violated: call=%v put=%v", callPrice, putPrice)
	}
}

// Scenario C: expiry intrinsic value, exact.
func TestPrice_ScenarioC_ExpiryIntrinsic(t *testing.T) {
	u := mustUnderlying(t, 150, 2.0, 2.0, 0.5, 0.5)

	call := mustOption(t, model.Call, 0, 100)
	if got := Price(call, u); got != 50.0 {
		t.Errorf("call intrinsic = %v, want 50.0", got)
	}

	put := mustOption(t, model.Put, 0, 100)
	if got := Price(put, u); got != 0.0 {
		t.Errorf("put intrinsic = %v, want 0.0", got)
	}
}

func TestPrice_Positivity(t *testing.T) {
	u := mustUnderlying(t, 100, 3.0, 2.0, 0.4, 0.6) // pu*u = pd*d = 1.2
	for _, n := range []int{0, 1, 3, 7} {
		for _, k := range []int{80, 100, 120} {
			call := mustOption(t, model.Call, n, k)
			put := mustOption(t, model.Put, n, k)
			if Price(call, u) < 0 {
				t.Errorf("negative call price for n=%d k=%d", n, k)
			}
			if Price(put, u) < 0 {
				t.Errorf("negative put price for n=%d k=%d", n, k)
			}
		}
	}
}

// Monotonicity: CALL price non-decreasing in S, PUT price non-increasing.
func TestPrice_Monotonicity(t *testing.T) {
	base := mustUnderlying(t, 100, 2.0, 2.0, 0.5, 0.5)
	call := mustOption(t, model.Call, 4, 100)
	put := mustOption(t, model.Put, 4, 100)

	prevCall, prevPut := -math.MaxFloat64, math.MaxFloat64
	for s := 50.0; s <= 150.0; s += 5.0 {
		bumped := base.WithValuation(s)
		c := Price(call, bumped)
		p := Price(put, bumped)
		if c < prevCall-1e-9 {
			t.Errorf("call price decreased at S=%v: %v < %v", s, c, prevCall)
		}
		if p > prevPut+1e-9 {
			t.Errorf("put price increased at S=%v: %v > %v", s, p, prevPut)
		}
		prevCall, prevPut = c, p
	}
}
