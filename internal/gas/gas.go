package gas

import (
	"math"
	"math/bits"
)

// Params holds the per-hop cost model for metered message processing.
// Injectable so the admission check stays testable and recalibratable
// independent of the voting logic.
type Params struct {
	ComputeFee uint64 // ComputeFee is the metered processing cost per actor touched
	ForwardFee uint64 // ForwardFee is the cost per message sent along the chain
	StorageFee uint64 // StorageFee is the one-time cost of persisting a new record
}

// DefaultParams returns the default cost model.
// Values are placeholders until operators calibrate real ones.
func DefaultParams() Params {
	return Params{
		ComputeFee: 100,
		ForwardFee: 10,
		StorageFee: 500,
	}
}

// Hop describes one actor touched by a causal chain of messages.
type Hop struct {
	Forwards  int  // Forwards is the number of messages this hop sends onward
	NewRecord bool // NewRecord indicates this hop persists a new record
}

// safeMul returns a * b, capping at MaxUint64 on overflow.
// Prevents a crafted cost model from wrapping a huge chain to a small fee.
func safeMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}

	hi, _ := bits.Mul64(a, b)
	if hi > 0 {
		return math.MaxUint64
	}

	return a * b
}

// safeAdd returns a + b, capping at MaxUint64 on overflow.
func safeAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}

	return sum
}

// HopCost computes the cost of a single hop: its own processing,
// its outgoing forwards, and any record it persists.
func (p Params) HopCost(h Hop) uint64 {
	cost := p.ComputeFee
	cost = safeAdd(cost, safeMul(uint64(h.Forwards), p.ForwardFee))

	if h.NewRecord {
		cost = safeAdd(cost, p.StorageFee)
	}

	return cost
}

// ChainCost sums the cost of every hop a triggering message will cause,
// including every downstream hop the current actor will itself trigger.
func (p Params) ChainCost(hops []Hop) uint64 {
	var total uint64

	for _, h := range hops {
		total = safeAdd(total, p.HopCost(h))
	}

	return total
}

// CanAfford reports whether the attached budget funds the entire chain.
// Must be evaluated before any state mutation on the current actor, so
// an admission failure never leaves a half-applied change anywhere.
func (p Params) CanAfford(budget uint64, hops []Hop) bool {
	return budget >= p.ChainCost(hops)
}

// Surplus returns the budget left over after funding the chain.
// Returns 0 when the budget cannot fund the chain at all.
func (p Params) Surplus(budget uint64, hops []Hop) uint64 {
	cost := p.ChainCost(hops)
	if budget < cost {
		return 0
	}

	return budget - cost
}
