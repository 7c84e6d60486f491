package hwio

import "fmt"

const wordSize = 64

// Bitset is a fixed-size set of bits. Zero value is an empty set of size 0.
type Bitset struct {
	n     uint
	words []uint64
}

func NewBitset(n uint) *Bitset {
	return &Bitset{n: n, words: make([]uint64, (n+wordSize-1)/wordSize)}
}

func (b *Bitset) Len() uint { return b.n }

func (b *Bitset) check(i uint) {
	if i >= b.n {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.n))
	}
}

// Set sets the bit at index i.
func (b *Bitset) Set(i uint) {
	b.check(i)
	b.words[i/wordSize] |= 1 << (i % wordSize)
}

// Clear clears the bit at index i.
func (b *Bitset) Clear(i uint) {
	b.check(i)
	b.words[i/wordSize] &^= 1 << (i % wordSize)
}

// Test returns true if the bit at index i is set.
func (b *Bitset) Test(i uint) bool {
	b.check(i)
	return b.words[i/wordSize]&(1<<(i%wordSize)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() uint {
	var n uint
	for _, w := range b.words {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// SetRange sets all bits in the half-open interval [start, end).
// It panics if start >= end or end > Len().
func (b *Bitset) SetRange(start, end uint) {
	if start >= end || end > b.n {
		panic(fmt.Sprintf("invalid range [%d, %d)", start, end))
	}
	for i := start; i < end; {
		if i%wordSize == 0 && end-i >= wordSize {
			b.words[i/wordSize] = ^uint64(0)
			i += wordSize
			continue
		}
		b.words[i/wordSize] |= 1 << (i % wordSize)
		i++
	}
}

// Reset clears all bits.
func (b *Bitset) Reset() {
	clear(b.words)
}
