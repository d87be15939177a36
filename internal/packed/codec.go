package packed

import "fmt"

const (
	// deadlineBits is the width of the deadline field.
	deadlineBits = 32

	// CompactCounterBits packs both counters into 7 bits each, keeping
	// the whole word inside the low limb (32 + 2*7 = 46 bits).
	CompactCounterBits = 7

	// WideCounterBits gives both counters the full 32 bits
	// (32 + 2*32 = 96 bits).
	WideCounterBits = 32
)

// State is the decoded form of a packed word.
type State struct {
	Deadline uint32 // Deadline is a unix timestamp in seconds
	Yes      uint32 // Yes is the accepted yes-vote count
	No       uint32 // No is the accepted no-vote count
}

// Codec packs a {deadline, yes, no} triple into a single Word.
// Layout from least- to most-significant bit:
//
//	no (N bits) | yes (N bits) | deadline (32 bits)
//
// where N is the configured counter width. Both counters sit below the
// deadline, so comparing the whole word against a shifted timestamp
// compares deadlines without decoding.
type Codec struct {
	counterBits uint
}

// NewCodec creates a codec with the given counter field width.
// The width must be between 1 and 32 bits.
func NewCodec(counterBits uint) (Codec, error) {
	if counterBits < 1 || counterBits > 32 {
		return Codec{}, fmt.Errorf("counter width must be 1..32 bits, got %d", counterBits)
	}

	return Codec{counterBits: counterBits}, nil
}

// CounterBits returns the configured counter field width.
func (c Codec) CounterBits() uint {
	return c.counterBits
}

// MaxCount returns the largest value a single counter field can hold.
func (c Codec) MaxCount() uint32 {
	return uint32((uint64(1) << c.counterBits) - 1)
}

// Encode packs the triple into a Word.
// Fails if either counter exceeds the field width.
func (c Codec) Encode(deadline, yes, no uint32) (Word, error) {
	max := c.MaxCount()
	if yes > max {
		return Word{}, fmt.Errorf("yes count %d exceeds %d-bit field", yes, c.counterBits)
	}
	if no > max {
		return Word{}, fmt.Errorf("no count %d exceeds %d-bit field", no, c.counterBits)
	}

	w := shifted(uint64(deadline), 2*c.counterBits)
	w = w.or(shifted(uint64(yes), c.counterBits))
	w = w.or(Word{Lo: uint64(no)})

	return w, nil
}

// Decode unpacks a Word into its three fields. Pure and total.
func (c Codec) Decode(w Word) State {
	mask := uint64(c.MaxCount())

	return State{
		Deadline: uint32(w.rsh(2 * c.counterBits).Lo),
		Yes:      uint32(w.rsh(c.counterBits).Lo & mask),
		No:       uint32(w.Lo & mask),
	}
}

// AddVote adds one unit to the yes field if isYes, else to the no field,
// by adding 1 shifted to the field's bit offset to the whole word.
// Fails if the target field is already full: callers enforce a vote cap
// below MaxCount, so a rejected add here means the cap check was skipped
// and an increment would have carried into the adjacent field.
func (c Codec) AddVote(w Word, isYes bool) (Word, error) {
	s := c.Decode(w)
	max := c.MaxCount()

	if isYes && s.Yes >= max {
		return Word{}, fmt.Errorf("yes counter full at %d", s.Yes)
	}
	if !isYes && s.No >= max {
		return Word{}, fmt.Errorf("no counter full at %d", s.No)
	}

	var offset uint
	if isYes {
		offset = c.counterBits
	}

	return w.add(shifted(1, offset)), nil
}

// IsExpired reports whether the stored deadline is strictly in the past.
// It shifts now into the deadline's bit position and compares whole
// words: the shifted value has zero bits below the deadline field, so
// the counters can never influence the outcome.
func (c Codec) IsExpired(w Word, now uint32) bool {
	return w.less(shifted(uint64(now), 2*c.counterBits))
}
