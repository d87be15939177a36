package packed

import "math/bits"

// Word is a single fixed-width 128-bit packed integer, held as two
// 64-bit limbs. The codec lays out its fields from least- to
// most-significant bit; bits above the topmost field are always zero.
type Word struct {
	Hi uint64 // Hi holds bits 64..127
	Lo uint64 // Lo holds bits 0..63
}

// IsZero reports whether the word is all zero bits.
func (w Word) IsZero() bool {
	return w.Hi == 0 && w.Lo == 0
}

// shifted returns v placed at bit offset n of an otherwise-zero word.
// Go defines shifts by >= 64 as zero, so no special casing is needed
// beyond splitting at the limb boundary.
func shifted(v uint64, n uint) Word {
	if n >= 64 {
		return Word{Hi: v << (n - 64)}
	}

	return Word{
		Hi: v >> (64 - n),
		Lo: v << n,
	}
}

// rsh returns w logically shifted right by n bits.
func (w Word) rsh(n uint) Word {
	if n >= 64 {
		return Word{Lo: w.Hi >> (n - 64)}
	}

	return Word{
		Hi: w.Hi >> n,
		Lo: w.Lo>>n | w.Hi<<(64-n),
	}
}

// or returns the bitwise OR of two words.
func (w Word) or(v Word) Word {
	return Word{Hi: w.Hi | v.Hi, Lo: w.Lo | v.Lo}
}

// add returns w + v with carry propagated across the limb boundary.
func (w Word) add(v Word) Word {
	lo, carry := bits.Add64(w.Lo, v.Lo, 0)
	hi, _ := bits.Add64(w.Hi, v.Hi, carry)

	return Word{Hi: hi, Lo: lo}
}

// less reports w < v as unsigned 128-bit integers.
func (w Word) less(v Word) bool {
	if w.Hi != v.Hi {
		return w.Hi < v.Hi
	}

	return w.Lo < v.Lo
}
