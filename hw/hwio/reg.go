package hwio

import (
	"fmt"

	"ebilcd/emu/log"
)

type RWFlags uint8

const (
	ReadWriteFlag RWFlags = 0
	ReadOnlyFlag  RWFlags = (1 << iota)
	WriteOnlyFlag
)

// Reg32 is a 32-bit memory-mapped register. Bits set in RoMask cannot be
// changed by bus writes.
type Reg32 struct {
	Name   string
	Value  uint32
	RoMask uint32

	Flags   RWFlags
	ReadCb  func(val uint32) uint32
	WriteCb func(old uint32, val uint32)
}

func (reg Reg32) String() string {
	s := fmt.Sprintf("%s{%08x", reg.Name, reg.Value)
	if reg.ReadCb != nil {
		s += ",r!"
	}
	if reg.WriteCb != nil {
		s += ",w!"
	}
	return s + "}"
}

func (reg *Reg32) write(val uint32) {
	old := reg.Value
	reg.Value = (reg.Value & reg.RoMask) | (val &^ reg.RoMask)
	if reg.WriteCb != nil {
		reg.WriteCb(old, reg.Value)
	}
}

func (reg *Reg32) Write32(addr uint32, val uint32) {
	if reg.Flags&ReadOnlyFlag != 0 {
		log.ModBus.ErrorZ("invalid Write32 to readonly reg").
			String("name", reg.Name).
			Addr("addr", addr).
			End()
		return
	}
	reg.write(val)
}

func (reg *Reg32) Read32(addr uint32) uint32 {
	if reg.Flags&WriteOnlyFlag != 0 {
		log.ModBus.ErrorZ("invalid Read32 from writeonly reg").
			String("name", reg.Name).
			Addr("addr", addr).
			End()
		return 0
	}
	if reg.ReadCb != nil {
		return reg.ReadCb(reg.Value)
	}
	return reg.Value
}

// 16-bit accesses hit the low or high half of the register.

func (reg *Reg32) Read16(addr uint32) uint16 {
	return uint16(reg.Read32(addr&^3) >> (8 * (addr & 2)))
}

func (reg *Reg32) Write16(addr uint32, val uint16) {
	shift := 8 * (addr & 2)
	v := reg.Value&^(0xFFFF<<shift) | uint32(val)<<shift
	reg.Write32(addr&^3, v)
}

// RegBank maps a set of 32-bit registers at word offsets from a base
// address. It implements BankIO.
type RegBank struct {
	Name string
	Regs map[uint32]*Reg32 // keyed by byte offset
	base uint32
}

func NewRegBank(name string, base uint32) *RegBank {
	return &RegBank{Name: name, Regs: make(map[uint32]*Reg32), base: base}
}

// Add adds reg at byte offset off, which must be word aligned.
func (b *RegBank) Add(off uint32, reg *Reg32) {
	if off&3 != 0 {
		panic(fmt.Sprintf("hwio: misaligned register %s at offset %x", reg.Name, off))
	}
	b.Regs[off] = reg
}

func (b *RegBank) Base() uint32 { return b.base }

func (b *RegBank) Size() uint32 {
	var size uint32
	for off := range b.Regs {
		size = max(size, off+4)
	}
	return size
}

func (b *RegBank) reg(addr uint32) *Reg32 {
	if r, ok := b.Regs[(addr-b.base)&^3]; ok {
		return r
	}
	return nil
}

func (b *RegBank) Read16(addr uint32) uint16 {
	if r := b.reg(addr); r != nil {
		return r.Read16(addr)
	}
	return 0
}

func (b *RegBank) Write16(addr uint32, val uint16) {
	if r := b.reg(addr); r != nil {
		r.Write16(addr, val)
	}
}

func (b *RegBank) Read32(addr uint32) uint32 {
	if r := b.reg(addr); r != nil {
		return r.Read32(addr)
	}
	return 0
}

func (b *RegBank) Write32(addr uint32, val uint32) {
	if r := b.reg(addr); r != nil {
		r.Write32(addr, val)
	}
}
