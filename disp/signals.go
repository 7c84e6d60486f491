package disp

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Signal is a panel control line wired to an address line of the bus.
type Signal struct {
	Bit       uint // address bit carrying the signal
	ActiveLow bool
}

func (s Signal) mask() uint32 { return 1 << s.Bit }

// idle is the contribution of s to an address where it's deasserted.
func (s Signal) idle() uint32 {
	if s.ActiveLow {
		return s.mask()
	}
	return 0
}

// assert adds or removes the bit of s from idle address addr.
func (s Signal) assert(addr uint32) uint32 {
	if s.ActiveLow {
		return addr - s.mask()
	}
	return addr + s.mask()
}

// Signals are the three control lines of a sync-type panel.
type Signals struct {
	VSync Signal
	HSync Signal
	DE    Signal
}

// DefaultSignals is the board wiring: VSYNC and HSYNC active-low on address
// bits 1 and 2, DE active-high on bit 8.
var DefaultSignals = Signals{
	VSync: Signal{Bit: 1, ActiveLow: true},
	HSync: Signal{Bit: 2, ActiveLow: true},
	DE:    Signal{Bit: 8},
}

// Validate checks that the signals use distinct address bits inside a
// window of the given size. Bit 0 can't carry a signal: 16-bit transfers
// are always halfword aligned.
func (s Signals) Validate(window uint32) error {
	seen := map[uint]string{}
	for _, sig := range []struct {
		name string
		s    Signal
	}{{"VSYNC", s.VSync}, {"HSYNC", s.HSync}, {"DE", s.DE}} {
		if sig.s.Bit == 0 || sig.s.Bit >= 32 || (window != 0 && sig.s.mask() >= window) {
			return errors.Wrapf(ErrConfig, "%s on address bit %d", sig.name, sig.s.Bit)
		}
		if other, ok := seen[sig.s.Bit]; ok {
			return errors.Wrapf(ErrConfig, "%s and %s share address bit %d", other, sig.name, sig.s.Bit)
		}
		seen[sig.s.Bit] = sig.name
	}
	return nil
}

// IdleAddr is the address of bank base where no signal is asserted.
func (s Signals) IdleAddr(base uint32) uint32 {
	return base + s.VSync.idle() + s.HSync.idle() + s.DE.idle()
}

// Addr returns the bus address driving the given signal levels.
func (s Signals) Addr(base uint32, vsync, hsync, de bool) uint32 {
	addr := s.IdleAddr(base)
	if vsync {
		addr = s.VSync.assert(addr)
	}
	if hsync {
		addr = s.HSync.assert(addr)
	}
	if de {
		addr = s.DE.assert(addr)
	}
	return addr
}

func (s Signals) String() string {
	pol := func(sig Signal) string {
		if sig.ActiveLow {
			return fmt.Sprintf("%d-", sig.Bit)
		}
		return fmt.Sprintf("%d+", sig.Bit)
	}
	return fmt.Sprintf("VSYNC:%s HSYNC:%s DE:%s", pol(s.VSync), pol(s.HSync), pol(s.DE))
}
