package ebi

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"

	"ebilcd/hw/hwio"
)

type write struct {
	Off uint32
	Val uint16
}

type recorder struct{ writes []write }

func (r *recorder) BusWrite(off uint32, val uint16) { r.writes = append(r.writes, write{off, val}) }

func TestOpenWriteClose(t *testing.T) {
	bus := hwio.NewTable("bus")
	c := NewController(bus)
	var rec recorder
	if err := c.Attach(0, &rec); err != nil {
		t.Fatal(err)
	}

	// Not open yet: writes go nowhere.
	bus.Write16(Bank0Base+2, 0x1234)

	if err := c.Open(0, BusWidth16, TimingFastest, OpModeCAccess|OpModeADSeparate, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBusTiming(0, 0, MCLKDiv4); err != nil {
		t.Fatal(err)
	}
	bus.Write16(Bank0Base+0x106, 0xF800)
	bus.Write16(Bank0Base+0x6, 0xFFFF)

	want := []write{{0x106, 0xF800}, {0x6, 0xFFFF}}
	if diff := cmp.Diff(want, rec.writes); diff != "" {
		t.Errorf("sink writes mismatch (-want +got):\n%s", diff)
	}

	ctl := bus.Read32(RegBase)
	if ctl&1 == 0 || ctl&(1<<1) == 0 {
		t.Errorf("CTL0 = %08x, want EN and DW16 set", ctl)
	}
	if ctl&(1<<2) != 0 {
		t.Errorf("CTL0 = %08x, CS polarity should not be inverted", ctl)
	}
	if got := hwio.Field32(ctl, ctlMCLKDivPos, ctlMCLKDivLen); got != uint32(MCLKDiv4) {
		t.Errorf("MCLKDIV = %d, want %d", got, MCLKDiv4)
	}

	if err := c.Close(0); err != nil {
		t.Fatal(err)
	}
	bus.Write16(Bank0Base, 0x1)
	if len(rec.writes) != 2 {
		t.Errorf("write after Close reached the sink")
	}
	if bus.Read32(RegBase) != 0 {
		t.Errorf("CTL0 should be cleared after Close")
	}
}

func TestBusWidth8(t *testing.T) {
	bus := hwio.NewTable("bus")
	c := NewController(bus)
	var rec recorder
	c.Attach(1, &rec)
	if err := c.Open(1, BusWidth8, TimingNormal, OpModeNormal, false); err != nil {
		t.Fatal(err)
	}
	bus.Write16(BankBase(1)+0x10, 0xABCD)

	want := []write{{0x10, 0xCD}, {0x11, 0xAB}}
	if diff := cmp.Diff(want, rec.writes); diff != "" {
		t.Errorf("sink writes mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	c := NewController(hwio.NewTable("bus"))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid bank", c.Open(NumBanks, BusWidth16, TimingFastest, OpModeNormal, true), ErrInvalidBank},
		{"invalid width", c.Open(0, 32, TimingFastest, OpModeNormal, true), ErrBusWidth},
		{"timing on closed bank", c.SetBusTiming(0, 0, MCLKDiv1), ErrBankClosed},
		{"close closed bank", c.Close(2), ErrBankClosed},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.err, tt.want)
		}
	}

	if err := c.Open(0, BusWidth16, TimingFastest, OpModeNormal, true); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(0, BusWidth16, TimingFastest, OpModeNormal, true); !errors.Is(err, ErrBankOpen) {
		t.Errorf("second Open = %v, want ErrBankOpen", err)
	}
	if !c.IsOpen(0) || c.IsOpen(1) {
		t.Errorf("IsOpen reports wrong state")
	}
}
