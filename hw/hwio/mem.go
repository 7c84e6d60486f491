package hwio

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"ebilcd/emu/log"
)

type MemFlags int

const (
	MemFlagReadWrite MemFlags = 0
	MemFlagReadOnly  MemFlags = (1 << iota) // read-only accesses
	MemFlagNoROLog                          // skip logging attempts to write when configured to readonly
)

// Mem is a linear memory area that can be mapped into a Table.
//
// 32-bit accesses are atomic: descriptor words are written by the CPU side
// (chain builder, completion handler) while a DMA engine reads them from its
// own goroutine. 16-bit accesses are plain little-endian loads and stores;
// pixel data is handed over through the descriptor words, which order it.
type Mem struct {
	Name    string               // name of the memory area (for debugging)
	Data    []byte               // actual memory buffer, length must be a multiple of 4
	Flags   MemFlags             // flags determining how the memory can be accessed
	WriteCb func(uint32, uint32) // optional callback, called after each write with (addr, size)
}

// NewMem allocates a zeroed memory area of the given size.
func NewMem(name string, size int, flags MemFlags) *Mem {
	if size <= 0 || size%4 != 0 {
		panic(fmt.Sprintf("hwio: invalid memory size %d for %q", size, name))
	}
	return &Mem{Name: name, Data: make([]byte, size), Flags: flags}
}

// BankIO returns an adaptor implementing BankIO for this memory mapped at base.
func (m *Mem) BankIO(base uint32) BankIO {
	if len(m.Data) == 0 || len(m.Data)%4 != 0 {
		panic(fmt.Sprintf("hwio: invalid memory size %d for %q", len(m.Data), m.Name))
	}
	return &mem{
		ptr:  unsafe.Pointer(&m.Data[0]),
		base: base,
		size: uint32(len(m.Data)),
		buf:  m.Data,
		m:    m,
	}
}

// mem is used by pointer because it's stored as a BankIO interface in
// Table; type-asserting a concrete pointer type is cheaper.
type mem struct {
	ptr  unsafe.Pointer
	base uint32
	size uint32
	buf  []byte
	m    *Mem
}

func (m *mem) off(addr uint32, align uint32) uint32 {
	off := addr - m.base
	if off&(align-1) != 0 {
		panic(fmt.Sprintf("hwio: misaligned %d-bit access at %08x in %q", align*8, addr, m.m.Name))
	}
	return off
}

func (m *mem) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Add(m.ptr, off))
}

func (m *mem) FetchPointer(addr uint32) []byte {
	off := addr - m.base
	return m.buf[off:m.size:m.size]
}

func (m *mem) writable(addr uint32) bool {
	if m.m.Flags&MemFlagReadOnly == 0 {
		return true
	}
	if m.m.Flags&MemFlagNoROLog == 0 {
		log.ModBus.ErrorZ("write to readonly memory").
			String("area", m.m.Name).
			Addr("addr", addr).
			End()
	}
	return false
}

func (m *mem) Read16(addr uint32) uint16 {
	off := m.off(addr, 2)
	return binary.LittleEndian.Uint16(m.buf[off:])
}

func (m *mem) Write16(addr uint32, val uint16) {
	off := m.off(addr, 2)
	if !m.writable(addr) {
		return
	}
	binary.LittleEndian.PutUint16(m.buf[off:], val)
	if m.m.WriteCb != nil {
		m.m.WriteCb(addr, 2)
	}
}

func (m *mem) Read32(addr uint32) uint32 {
	return atomic.LoadUint32(m.word(m.off(addr, 4)))
}

func (m *mem) Write32(addr uint32, val uint32) {
	off := m.off(addr, 4)
	if !m.writable(addr) {
		return
	}
	atomic.StoreUint32(m.word(off), val)
	if m.m.WriteCb != nil {
		m.m.WriteCb(addr, 4)
	}
}
