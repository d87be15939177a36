package gas

import (
	"math"
	"testing"
)

func TestHopCost(t *testing.T) {
	p := Params{ComputeFee: 100, ForwardFee: 10, StorageFee: 500}

	// Processing only
	if got := p.HopCost(Hop{}); got != 100 {
		t.Errorf("bare hop: got %d, want 100", got)
	}

	// One forward
	if got := p.HopCost(Hop{Forwards: 1}); got != 110 {
		t.Errorf("one forward: got %d, want 110", got)
	}

	// Forward plus a new record
	if got := p.HopCost(Hop{Forwards: 2, NewRecord: true}); got != 620 {
		t.Errorf("record hop: got %d, want 620", got)
	}
}

func TestChainCost(t *testing.T) {
	p := Params{ComputeFee: 100, ForwardFee: 10, StorageFee: 500}

	// Two-hop chain: spawned voter forwarding a confirmation, then the
	// aggregator applying it.
	// hop1 = 100 + 10 + 500 = 610, hop2 = 100
	hops := []Hop{
		{Forwards: 1, NewRecord: true},
		{},
	}

	if got := p.ChainCost(hops); got != 710 {
		t.Errorf("chain: got %d, want 710", got)
	}

	if got := p.ChainCost(nil); got != 0 {
		t.Errorf("empty chain: got %d, want 0", got)
	}
}

func TestCanAfford(t *testing.T) {
	p := Params{ComputeFee: 100, ForwardFee: 10}
	hops := []Hop{{Forwards: 1}, {}}

	// cost = 110 + 100 = 210
	if !p.CanAfford(210, hops) {
		t.Error("exact budget should be admitted")
	}
	if !p.CanAfford(1000, hops) {
		t.Error("surplus budget should be admitted")
	}
	if p.CanAfford(209, hops) {
		t.Error("one unit short should be refused")
	}
	if p.CanAfford(0, hops) {
		t.Error("zero budget should be refused")
	}
}

func TestSurplus(t *testing.T) {
	p := Params{ComputeFee: 100, ForwardFee: 10}
	hops := []Hop{{Forwards: 1}, {}}

	if got := p.Surplus(1000, hops); got != 790 {
		t.Errorf("surplus: got %d, want 790", got)
	}
	if got := p.Surplus(210, hops); got != 0 {
		t.Errorf("exact: got %d, want 0", got)
	}
	if got := p.Surplus(100, hops); got != 0 {
		t.Errorf("underfunded: got %d, want 0", got)
	}
}

func TestChainCost_Saturates(t *testing.T) {
	p := Params{ComputeFee: math.MaxUint64, ForwardFee: math.MaxUint64}

	hops := []Hop{{Forwards: 5}, {Forwards: 5}}

	// Must cap at MaxUint64, never wrap to something affordable.
	if got := p.ChainCost(hops); got != math.MaxUint64 {
		t.Errorf("saturation: got %d, want MaxUint64", got)
	}

	if p.CanAfford(1_000_000, hops) {
		t.Error("wrapped cost admitted an unaffordable chain")
	}
}

func TestSafeMul(t *testing.T) {
	if got := safeMul(10, 20); got != 200 {
		t.Errorf("normal: got %d, want 200", got)
	}
	if got := safeMul(0, 999); got != 0 {
		t.Errorf("zero: got %d, want 0", got)
	}
	if got := safeMul(math.MaxUint64, 2); got != math.MaxUint64 {
		t.Errorf("overflow: got %d, want MaxUint64", got)
	}
}

func TestSafeAdd(t *testing.T) {
	if got := safeAdd(100, 200); got != 300 {
		t.Errorf("normal: got %d, want 300", got)
	}
	if got := safeAdd(math.MaxUint64, 1); got != math.MaxUint64 {
		t.Errorf("overflow: got %d, want MaxUint64", got)
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	if p.ComputeFee == 0 || p.ForwardFee == 0 || p.StorageFee == 0 {
		t.Error("default fees must be non-zero")
	}
}
