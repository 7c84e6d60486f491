package hwio

import "ebilcd/emu/log"

// Device is a BankIO implementation that allows manual management of an
// entire range of the bus.
type Device struct {
	Name  string // name of the area (for debugging)
	Flags RWFlags

	ReadCb  func(addr uint32) uint16
	WriteCb func(addr uint32, val uint16)
}

func (d *Device) Read16(addr uint32) uint16 {
	switch {
	case d.Flags&WriteOnlyFlag != 0:
		log.ModBus.ErrorZ("invalid Read16 from writeonly device").
			String("name", d.Name).
			Addr("addr", addr).
			End()
		fallthrough
	case d.ReadCb == nil:
		return 0
	}
	return d.ReadCb(addr)
}

func (d *Device) Write16(addr uint32, val uint16) {
	switch {
	case d.Flags&ReadOnlyFlag != 0:
		log.ModBus.ErrorZ("invalid Write16 to readonly device").
			String("name", d.Name).
			Addr("addr", addr).
			End()
		fallthrough
	case d.WriteCb == nil:
		return
	}
	d.WriteCb(addr, val)
}

// A 32-bit access to a 16-bit device is split into two halfword accesses,
// low half first.

func (d *Device) Read32(addr uint32) uint32 {
	return uint32(d.Read16(addr)) | uint32(d.Read16(addr+2))<<16
}

func (d *Device) Write32(addr uint32, val uint32) {
	d.Write16(addr, uint16(val))
	d.Write16(addr+2, uint16(val>>16))
}
