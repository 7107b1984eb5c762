package model

import "testing"

func TestNewUnderlying_Valid(t *testing.T) {
	u, err := NewUnderlying(1, "WIDGET", 150, 2.0, 2.0, 0.5, 0.5, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Valuation != 150 {
		t.Errorf("expected valuation 150, got %v", u.Valuation)
	}
}

func TestNewUnderlying_NegativeStep(t *testing.T) {
	if _, err := NewUnderlying(1, "W", 150, -2.0, 2.0, 0.5, 0.5, 0.1); err == nil {
		t.Fatal("expected error for negative up step")
	}
}

func TestNewUnderlying_ProbabilitiesDontSum(t *testing.T) {
	if _, err := NewUnderlying(1, "W", 150, 2.0, 2.0, 0.5, 0.6, 0.1); err == nil {
		t.Fatal("expected error for probabilities not summing to 1")
	}
}

func TestNewUnderlying_Drift(t *testing.T) {
	// pu*u = 0.6*3 = 1.8, pd*d = 0.4*2 = 0.8 -> drift
	if _, err := NewUnderlying(1, "W", 150, 3.0, 2.0, 0.6, 0.4, 0.1); err == nil {
		t.Fatal("expected error for drifting lattice")
	}
}

func TestUnderlying_WithValuation_Clamps(t *testing.T) {
	u, _ := NewUnderlying(1, "W", 150, 2.0, 2.0, 0.5, 0.5, 0.1)
	bumped := u.WithValuation(-5)
	if bumped.Valuation != 0 {
		t.Errorf("expected clamped valuation 0, got %v", bumped.Valuation)
	}
	if u.Valuation != 150 {
		t.Errorf("original underlying must be unmodified, got %v", u.Valuation)
	}
}

func TestOption_AdvanceStep(t *testing.T) {
	o, _ := NewOption(1, Call, 3, 100, 1, "W")
	next := o.AdvanceStep()
	if next.StepsToExpiry != 2 {
		t.Errorf("expected 2 steps remaining, got %d", next.StepsToExpiry)
	}
	if o.StepsToExpiry != 3 {
		t.Errorf("original option must be unmodified, got %d", o.StepsToExpiry)
	}

	expired, _ := NewOption(2, Call, 0, 100, 1, "W")
	if expired.AdvanceStep().StepsToExpiry != 0 {
		t.Error("expired option must stay at 0 steps")
	}
}

func TestOption_ExpiryPayoff(t *testing.T) {
	call, _ := NewOption(1, Call, 0, 100, 1, "W")
	if got := call.ExpiryPayoff(150); got != 50 {
		t.Errorf("expected call payoff 50, got %v", got)
	}
	if got := call.ExpiryPayoff(50); got != 0 {
		t.Errorf("expected call payoff 0, got %v", got)
	}

	put, _ := NewOption(2, Put, 0, 100, 1, "W")
	if got := put.ExpiryPayoff(150); got != 0 {
		t.Errorf("expected put payoff 0, got %v", got)
	}
	if got := put.ExpiryPayoff(50); got != 50 {
		t.Errorf("expected put payoff 50, got %v", got)
	}
}

func TestPosition_AdditivityAndRounding(t *testing.T) {
	p := NewPosition()
	p.AddOptionQuantity(7, 1)
	p.AddOptionQuantity(7, 1)
	p.AddOptionQuantity(7, -1)
	if p.Options[7] != 1 {
		t.Errorf("expected net option quantity 1, got %d", p.Options[7])
	}

	p.AddUnderlyingQuantity(3, 0.005)
	p.AddUnderlyingQuantity(3, 0.004)
	if p.Underlyings[3] != 0.01 {
		t.Errorf("expected rounded share quantity 0.01, got %v", p.Underlyings[3])
	}
}
