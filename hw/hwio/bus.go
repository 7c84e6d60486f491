package hwio

import (
	"fmt"
	"sort"

	"ebilcd/emu/log"
)

// log unmapped accesses (useful for debugging, verbose when the DMA runs
// through a misconfigured descriptor ring)
var LogUnmapped = false

// BankIO is a device that can be mapped on a 32-bit bus. Addresses passed
// to a device are absolute bus addresses.
type BankIO interface {
	Read16(addr uint32) uint16
	Write16(addr uint32, val uint16)
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

type mapping struct {
	begin, end uint32 // inclusive
	io         BankIO
	name       string
}

// Table is a 32-bit physical bus. Devices are mapped on non-overlapping
// address ranges.
//
// Mapping is not safe for concurrent use with accesses: the whole map is
// expected to be set up before the DMA engines start, and only torn down
// after they are stopped.
type Table struct {
	Name string

	maps []mapping // sorted by begin
}

func NewTable(name string) *Table {
	return &Table{Name: name}
}

func (t *Table) Reset() {
	t.maps = nil
}

// Map maps io on [addr, addr+size). It panics if the range overlaps an
// existing mapping.
func (t *Table) Map(name string, addr, size uint32, io BankIO) {
	if size == 0 {
		panic(fmt.Sprintf("hwio: empty mapping %q", name))
	}
	end := addr + size - 1
	if end < addr {
		panic(fmt.Sprintf("hwio: mapping %q wraps around the address space", name))
	}

	idx := sort.Search(len(t.maps), func(i int) bool { return t.maps[i].begin > addr })
	if idx > 0 && t.maps[idx-1].end >= addr {
		panic(fmt.Sprintf("hwio: mapping %q [%08x-%08x] overlaps %q", name, addr, end, t.maps[idx-1].name))
	}
	if idx < len(t.maps) && t.maps[idx].begin <= end {
		panic(fmt.Sprintf("hwio: mapping %q [%08x-%08x] overlaps %q", name, addr, end, t.maps[idx].name))
	}

	log.ModBus.DebugZ("map").
		String("bus", t.Name).
		String("area", name).
		Range("range", addr, end).
		End()

	t.maps = append(t.maps, mapping{})
	copy(t.maps[idx+1:], t.maps[idx:])
	t.maps[idx] = mapping{begin: addr, end: end, io: io, name: name}
}

// MapMem maps a linear memory area at addr.
func (t *Table) MapMem(addr uint32, mem *Mem) {
	t.Map(mem.Name, addr, uint32(len(mem.Data)), mem.BankIO(addr))
}

// Unmap removes the mapping starting at addr. It reports whether there was one.
func (t *Table) Unmap(addr uint32) bool {
	for i := range t.maps {
		if t.maps[i].begin == addr {
			log.ModBus.DebugZ("unmap").
				String("bus", t.Name).
				String("area", t.maps[i].name).
				Addr("addr", addr).
				End()
			t.maps = append(t.maps[:i], t.maps[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Table) search(addr uint32) BankIO {
	idx := sort.Search(len(t.maps), func(i int) bool { return t.maps[i].end >= addr })
	if idx < len(t.maps) && t.maps[idx].begin <= addr {
		return t.maps[idx].io
	}
	return nil
}

func (t *Table) unmapped(op string, addr uint32) {
	if LogUnmapped {
		log.ModBus.ErrorZ("unmapped " + op).
			String("bus", t.Name).
			Addr("addr", addr).
			End()
	}
}

func (t *Table) Read16(addr uint32) uint16 {
	if io := t.search(addr); io != nil {
		return io.Read16(addr)
	}
	t.unmapped("Read16", addr)
	return 0
}

func (t *Table) Write16(addr uint32, val uint16) {
	if io := t.search(addr); io != nil {
		io.Write16(addr, val)
		return
	}
	t.unmapped("Write16", addr)
}

func (t *Table) Read32(addr uint32) uint32 {
	if io := t.search(addr); io != nil {
		return io.Read32(addr)
	}
	t.unmapped("Read32", addr)
	return 0
}

func (t *Table) Write32(addr uint32, val uint32) {
	if io := t.search(addr); io != nil {
		io.Write32(addr, val)
		return
	}
	t.unmapped("Write32", addr)
}

// FetchPointer returns the memory slice backing addr, up to the end of the
// mapped area, or nil if addr is not mapped to memory.
func (t *Table) FetchPointer(addr uint32) []byte {
	if m, ok := t.search(addr).(*mem); ok {
		return m.FetchPointer(addr)
	}
	return nil
}
