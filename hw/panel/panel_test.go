package panel

import (
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const (
	vsyncBit = 1
	hsyncBit = 2
	deBit    = 8

	idle = 1<<vsyncBit | 1<<hsyncBit
)

func testConfig(mode Mode) Config {
	return Config{
		Width:  3,
		Height: 2,
		Mode:   mode,
		VSync:  Signal{Bit: vsyncBit, ActiveLow: true},
		HSync:  Signal{Bit: hsyncBit, ActiveLow: true},
		DE:     Signal{Bit: deBit},
	}
}

type feeder struct {
	p *Panel
}

func (f feeder) blank(off uint32, n int) {
	for i := 0; i < n; i++ {
		f.p.BusWrite(off, 0xFFFF)
	}
}

// line emits one scanline: HFP 1, HPW 1, HBP 1, HACT len(pix) or 3.
func (f feeder) line(vsync bool, pix []uint16) {
	base := uint32(idle)
	if vsync {
		base -= 1 << vsyncBit
	}
	f.blank(base, 1)
	f.blank(base-1<<hsyncBit, 1)
	f.blank(base, 1)
	if pix == nil {
		f.blank(base, 3)
		return
	}
	for _, v := range pix {
		f.p.BusWrite(base+1<<deBit, v)
	}
}

// frame emits VFP 1, VPW 1, VBP 1 and one active line per row.
func (f feeder) frame(rows ...[]uint16) {
	f.line(false, nil)
	f.line(true, nil)
	f.line(false, nil)
	for _, r := range rows {
		f.line(false, r)
	}
}

func TestSignalAsserted(t *testing.T) {
	tests := []struct {
		sig  Signal
		off  uint32
		want bool
	}{
		{Signal{Bit: 1, ActiveLow: true}, 0x6, false},
		{Signal{Bit: 1, ActiveLow: true}, 0x4, true},
		{Signal{Bit: 8}, 0x106, true},
		{Signal{Bit: 8}, 0x006, false},
	}
	for _, tt := range tests {
		if got := tt.sig.Asserted(tt.off); got != tt.want {
			t.Errorf("%v.Asserted(%#x) = %t, want %t", tt.sig, tt.off, got, tt.want)
		}
	}
}

func TestSyncFrames(t *testing.T) {
	p := New(testConfig(ModeSync))
	defer p.Close()
	f := feeder{p}

	f.frame([]uint16{1, 2, 3}, []uint16{4, 5, 6})
	if _, ok := p.Last(); ok {
		t.Fatalf("frame completed before the next VSYNC")
	}
	f.frame([]uint16{7, 8, 9}, []uint16{10, 11, 12})
	f.line(false, nil)
	f.line(true, nil)

	if got := p.Frames(); got != 2 {
		t.Fatalf("Frames() = %d, want 2", got)
	}
	last, _ := p.Last()
	want := Frame{
		Seq:    2,
		Width:  3,
		Height: 2,
		Pix:    []uint16{7, 8, 9, 10, 11, 12},
		Stats: FrameStats{
			Lines:       5,
			VSyncLines:  1,
			ActiveLines: 2,
		},
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("last frame mismatch (-want +got):\n%s", diff)
	}
	if got := last.At565(1, 1); got != 11 {
		t.Errorf("At565(1, 1) = %d, want 11", got)
	}
}

func TestSyncIgnoresDataBeforeVSync(t *testing.T) {
	p := New(testConfig(ModeSync))
	defer p.Close()
	f := feeder{p}

	// Active lines of a partial frame, then a full one.
	f.line(false, []uint16{0xAA, 0xAA, 0xAA})
	f.frame([]uint16{1, 2, 3}, []uint16{4, 5, 6})
	f.line(false, nil)
	f.line(true, nil)

	last, ok := p.Last()
	if !ok {
		t.Fatal("no frame")
	}
	if diff := cmp.Diff([]uint16{1, 2, 3, 4, 5, 6}, last.Pix); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncShortAndOverrun(t *testing.T) {
	p := New(testConfig(ModeSync))
	defer p.Close()
	f := feeder{p}

	f.frame([]uint16{1, 2}, []uint16{3, 4, 5, 6}, []uint16{7, 8, 9})
	f.line(false, nil)
	f.line(true, nil)

	last, _ := p.Last()
	want := FrameStats{
		Lines:       6,
		VSyncLines:  1,
		ActiveLines: 2,
		ShortLines:  1,
		Overruns:    4,
	}
	if diff := cmp.Diff(want, last.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestDEOnlyFrames(t *testing.T) {
	p := New(testConfig(ModeDEOnly))
	defer p.Close()
	f := feeder{p}

	for n := 0; n < 2; n++ {
		f.blank(idle, 3*6)
		for row := 0; row < 2; row++ {
			f.blank(idle, 3)
			for col := 0; col < 3; col++ {
				p.BusWrite(idle+1<<deBit, uint16(10*n+3*row+col))
			}
		}
		// DE goes low again.
		f.blank(idle, 1)
	}

	if got := p.Frames(); got != 2 {
		t.Fatalf("Frames() = %d, want 2", got)
	}
	last, _ := p.Last()
	if diff := cmp.Diff([]uint16{10, 11, 12, 13, 14, 15}, last.Pix); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
	if last.Stats.ActiveLines != 2 || last.Stats.Lines != 0 {
		t.Errorf("stats = %+v", last.Stats)
	}
}

func TestFrameOut(t *testing.T) {
	cfg := testConfig(ModeSync)
	cfg.NumBuffers = 3
	cfg.FrameOutCh = make(chan Frame, 1)
	p := New(cfg)
	defer p.Close()
	f := feeder{p}

	f.frame([]uint16{0xF800, 0x07E0, 0x001F}, []uint16{0, 0, 0xFFFF})
	f.line(false, nil)
	f.line(true, nil)

	select {
	case fr := <-cfg.FrameOutCh:
		img := fr.RGBA()
		if got := img.RGBAAt(0, 0); got != (color.RGBA{0xFF, 0, 0, 0xFF}) {
			t.Errorf("pixel (0,0) = %v, want red", got)
		}
		if got := img.RGBAAt(1, 0); got != (color.RGBA{0, 0xFF, 0, 0xFF}) {
			t.Errorf("pixel (1,0) = %v, want green", got)
		}
		if got := img.RGBAAt(2, 1); got != (color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}) {
			t.Errorf("pixel (2,1) = %v, want white", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestTo565(t *testing.T) {
	tests := []struct {
		c    color.Color
		want uint16
	}{
		{color.RGBA{0xFF, 0, 0, 0xFF}, 0xF800},
		{color.RGBA{0, 0xFF, 0, 0xFF}, 0x07E0},
		{color.RGBA{0, 0, 0xFF, 0xFF}, 0x001F},
		{color.White, 0xFFFF},
		{color.Black, 0},
	}
	for _, tt := range tests {
		if got := To565(tt.c); got != tt.want {
			t.Errorf("To565(%v) = %#04x, want %#04x", tt.c, got, tt.want)
		}
		if got := To565(RGB565(tt.want)); got != tt.want {
			t.Errorf("To565(RGB565(%#04x)) = %#04x", tt.want, got)
		}
	}
}
