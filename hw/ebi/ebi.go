// Package ebi models the External Bus Interface: a set of chip-select banks
// mapped on the system bus. Every write to an open bank drives the address
// and data lines of the external device attached to it.
package ebi

import (
	"fmt"
	"sync"

	"github.com/go-faster/errors"

	"ebilcd/emu/log"
	"ebilcd/hw/hwio"
)

const (
	NumBanks = 3

	Bank0Base = 0x60000000
	BankSize  = 0x00100000 // 1MB address window per bank
	RegBase   = 0x40010000
	regStride = 0x10
)

type BusWidth uint8

const (
	BusWidth8  BusWidth = 8
	BusWidth16 BusWidth = 16
)

// Timing presets for the access timing field of CTL.
type Timing uint32

const (
	TimingFastest  Timing = 0
	TimingVeryFast Timing = 1
	TimingFast     Timing = 2
	TimingNormal   Timing = 3
	TimingSlow     Timing = 4
	TimingVerySlow Timing = 5
	TimingSlowest  Timing = 6
)

// Operation mode flags.
type OpMode uint32

const (
	OpModeNormal     OpMode = 0
	OpModeADSeparate OpMode = 1 << 3 // separate address and data lines
	OpModeCAccess    OpMode = 1 << 4 // continuous access
)

// MCLK divider of the bus timing register.
type MCLKDiv uint32

const (
	MCLKDiv1 MCLKDiv = iota
	MCLKDiv2
	MCLKDiv4
	MCLKDiv8
	MCLKDiv16
	MCLKDiv32
	MCLKDiv64
	MCLKDiv128
)

// CTL register bits.
const (
	ctlEnBit       = 0
	ctlDW16Bit     = 1
	ctlCSPolInvBit = 2
	ctlMCLKDivPos  = 8
	ctlMCLKDivLen  = 3
	ctlTALEPos     = 16
	ctlTALELen     = 3
)

var (
	ErrInvalidBank = errors.New("ebi: invalid bank")
	ErrBankOpen    = errors.New("ebi: bank already open")
	ErrBankClosed  = errors.New("ebi: bank not open")
	ErrBusWidth    = errors.New("ebi: unsupported bus width")
)

// Sink is the external device attached to a bank. BusWrite receives the
// offset of the access within the bank window, which carries the address
// lines, and the value on the data lines.
type Sink interface {
	BusWrite(offset uint32, val uint16)
}

type bank struct {
	open  bool
	width BusWidth
	sink  Sink
	CTL   hwio.Reg32
	TCTL  hwio.Reg32
	io    hwio.Device
}

// Controller is the EBI peripheral.
type Controller struct {
	bus *hwio.Table

	mu    sync.Mutex
	banks [NumBanks]bank
	regs  *hwio.RegBank
}

// NewController creates the EBI and maps its registers on bus.
func NewController(bus *hwio.Table) *Controller {
	c := &Controller{bus: bus, regs: hwio.NewRegBank("ebi", RegBase)}
	for i := range c.banks {
		b := &c.banks[i]
		b.CTL.Name = fmt.Sprintf("CTL%d", i)
		b.TCTL.Name = fmt.Sprintf("TCTL%d", i)
		c.regs.Add(uint32(i*regStride), &b.CTL)
		c.regs.Add(uint32(i*regStride+4), &b.TCTL)
	}
	bus.Map("ebi-regs", RegBase, c.regs.Size(), c.regs)
	return c
}

// BankBase returns the bus address of the window of bank n.
func BankBase(n int) uint32 {
	return Bank0Base + uint32(n)*BankSize
}

// Attach connects sink to bank n. It can be done before or after Open.
func (c *Controller) Attach(n int, sink Sink) error {
	if n < 0 || n >= NumBanks {
		return errors.Wrapf(ErrInvalidBank, "bank %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banks[n].sink = sink
	return nil
}

// Open enables bank n and maps its window on the bus.
func (c *Controller) Open(n int, width BusWidth, timing Timing, mode OpMode, csActiveLow bool) error {
	if n < 0 || n >= NumBanks {
		return errors.Wrapf(ErrInvalidBank, "bank %d", n)
	}
	if width != BusWidth8 && width != BusWidth16 {
		return errors.Wrapf(ErrBusWidth, "%d bits", width)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b := &c.banks[n]
	if b.open {
		return errors.Wrapf(ErrBankOpen, "bank %d", n)
	}

	var ctl uint32
	hwio.SetBit32(&ctl, ctlEnBit)
	if width == BusWidth16 {
		hwio.SetBit32(&ctl, ctlDW16Bit)
	}
	if !csActiveLow {
		hwio.SetBit32(&ctl, ctlCSPolInvBit)
	}
	ctl |= uint32(mode)
	hwio.SetField32(&ctl, ctlTALEPos, ctlTALELen, uint32(timing))
	b.CTL.Value = ctl
	b.width = width

	base := BankBase(n)
	b.io = hwio.Device{
		Name:    fmt.Sprintf("ebi-bank%d", n),
		Flags:   hwio.WriteOnlyFlag,
		WriteCb: func(addr uint32, val uint16) { c.write(n, addr-base, val) },
	}
	c.bus.Map(b.io.Name, base, BankSize, &b.io)
	b.open = true

	log.ModEBI.InfoZ("bank open").
		Int("bank", n).
		Addr("base", base).
		Uint("width", uint(width)).
		Hex32("ctl", ctl).
		End()
	return nil
}

// SetBusTiming programs the bus timing register of bank n.
func (c *Controller) SetBusTiming(n int, tctl uint32, div MCLKDiv) error {
	if n < 0 || n >= NumBanks {
		return errors.Wrapf(ErrInvalidBank, "bank %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &c.banks[n]
	if !b.open {
		return errors.Wrapf(ErrBankClosed, "bank %d", n)
	}
	b.TCTL.Value = tctl
	hwio.SetField32(&b.CTL.Value, ctlMCLKDivPos, ctlMCLKDivLen, uint32(div))
	return nil
}

// Close disables bank n and unmaps its window.
func (c *Controller) Close(n int) error {
	if n < 0 || n >= NumBanks {
		return errors.Wrapf(ErrInvalidBank, "bank %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &c.banks[n]
	if !b.open {
		return errors.Wrapf(ErrBankClosed, "bank %d", n)
	}
	c.bus.Unmap(BankBase(n))
	b.open = false
	b.CTL.Value = 0
	b.TCTL.Value = 0
	log.ModEBI.InfoZ("bank closed").Int("bank", n).End()
	return nil
}

// IsOpen reports whether bank n is open.
func (c *Controller) IsOpen(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n >= 0 && n < NumBanks && c.banks[n].open
}

func (c *Controller) write(n int, off uint32, val uint16) {
	// Bank state only changes while no DMA runs, so the sink and width
	// can be read without the lock.
	b := &c.banks[n]
	if b.sink == nil {
		return
	}
	if b.width == BusWidth8 {
		b.sink.BusWrite(off, val&0xFF)
		b.sink.BusWrite(off+1, val>>8)
		return
	}
	b.sink.BusWrite(off, val)
}
