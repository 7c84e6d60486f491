// Package dma models memory-to-memory DMA engines executing scatter-gather
// descriptor rings from emulated memory.
package dma

import "fmt"

// TransferWidth is the width of a single transfer unit, in bytes. Both
// engines are only ever driven with 16-bit units here.
const TransferWidth = 2

// Descriptor is the engine-independent content of a transfer descriptor.
type Descriptor struct {
	Src    uint32 // source bus address
	Dst    uint32 // destination bus address
	Count  uint32 // number of 16-bit transfers
	SrcInc bool   // increment source after each transfer
	DstInc bool   // increment destination after each transfer
	Link   uint32 // bus address of the next descriptor
	IRQ    bool   // raise completion when this descriptor is done
}

func (d Descriptor) String() string {
	inc := func(b bool) string {
		if b {
			return "inc"
		}
		return "fix"
	}
	s := fmt.Sprintf("SA:%08X(%s) DA:%08X(%s) CNT:%d NEXT:%08X", d.Src, inc(d.SrcInc), d.Dst, inc(d.DstInc), d.Count, d.Link)
	if d.IRQ {
		s += " IRQ"
	}
	return s
}

// An Encoder converts descriptors to and from the in-memory layout a given
// engine expects.
type Encoder interface {
	// Name of the engine family.
	Name() string
	// Size of an encoded descriptor in bytes. Descriptors are laid out
	// contiguously, so it's also the stride of a descriptor array.
	Size() uint32
	// Encode returns Size()/4 words.
	Encode(d Descriptor) []uint32
	Decode(words []uint32) Descriptor
	// SrcWord is the index of the word holding the source address.
	SrcWord() int
	// MaxCount is the largest transfer count a single descriptor can hold.
	MaxCount() uint32
}

// WriteDescriptor encodes d and stores it at addr.
func WriteDescriptor(bus Bus, enc Encoder, addr uint32, d Descriptor) {
	for i, w := range enc.Encode(d) {
		bus.Write32(addr+uint32(4*i), w)
	}
}

// ReadDescriptor loads and decodes the descriptor stored at addr.
func ReadDescriptor(bus Bus, enc Encoder, addr uint32) Descriptor {
	words := make([]uint32, enc.Size()/4)
	for i := range words {
		words[i] = bus.Read32(addr + uint32(4*i))
	}
	return enc.Decode(words)
}

// Bus is the part of the system bus the engines use.
type Bus interface {
	Read16(addr uint32) uint16
	Write16(addr uint32, val uint16)
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}
