package disp

import (
	"fmt"

	"github.com/go-faster/errors"

	"ebilcd/emu/log"
	"ebilcd/hw/dma"
)

// BytesPerPixel of the RGB565 frame buffers, also the DMA transfer unit.
const BytesPerPixel = dma.TransferWidth

// DummyData is the word blanking descriptors read from. The panel ignores
// the data lines while DE is deasserted.
const DummyData = 0xFFFFFFFF

// descriptor array alignment within the arena.
const chainAlign = 16

// Mode selects the signal pattern the chain generates.
type Mode uint8

const (
	// ModeSync drives HSYNC, VSYNC and DE: 4 descriptors per scanline.
	ModeSync Mode = iota
	// ModeDEOnly only drives DE, for panels that don't need sync pulses:
	// one descriptor for the whole vertical blanking, then 2 descriptors
	// per active line.
	ModeDEOnly
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeDEOnly:
		return "de-only"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync", "":
		return ModeSync, nil
	case "de-only":
		return ModeDEOnly, nil
	}
	return 0, errors.Wrapf(ErrConfig, "unknown mode %q", s)
}

// ChainLen returns the number of descriptors of the ring of a video mode.
func ChainLen(m Mode, t TimingSpec) int {
	if m == ModeDEOnly {
		return 1 + 2*int(t.VACT)
	}
	return NumStages * int(t.VTotal())
}

// Region is a range of the bus address space.
type Region struct {
	Base uint32
	Size uint32
}

func (r Region) End() uint32 { return r.Base + r.Size }

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// ChainConfig holds what the descriptor ring depends on, besides the frame
// buffer.
type ChainConfig struct {
	Mode    Mode
	Timing  TimingSpec
	Signals Signals
	BusBase uint32 // base address of the EBI bank window
}

// Chain is a descriptor ring stored in emulated memory.
type Chain struct {
	Mode  Mode
	Head  uint32 // address of the first descriptor
	Dummy uint32 // address of the dummy source word
	Len   int

	// Active holds, in line order, the indices of the descriptors reading
	// the frame buffer.
	Active []int

	enc       dma.Encoder
	srcOff    uint32 // byte offset of the source address in a descriptor
	lineBytes uint32
}

// Encoder returns the encoder the ring is stored with.
func (c *Chain) Encoder() dma.Encoder { return c.enc }

// Addr returns the address of descriptor i.
func (c *Chain) Addr(i int) uint32 {
	return c.Head + uint32(i)*c.enc.Size()
}

// Tail returns the address of the last descriptor, which closes the ring.
func (c *Chain) Tail() uint32 { return c.Addr(c.Len - 1) }

// ActiveSource returns the frame buffer address the first active line
// reads from.
func (c *Chain) ActiveSource(bus dma.Bus) uint32 {
	return bus.Read32(c.Addr(c.Active[0]) + c.srcOff)
}

// Patch points every active line to frame buffer buf. Only the source words
// are written, each with a single 32-bit store.
func (c *Chain) Patch(bus dma.Bus, buf uint32) {
	for i, idx := range c.Active {
		bus.Write32(c.Addr(idx)+c.srcOff, buf+uint32(i)*c.lineBytes)
	}
}

// Descriptor decodes descriptor i.
func (c *Chain) Descriptor(bus dma.Bus, i int) dma.Descriptor {
	return dma.ReadDescriptor(bus, c.enc, c.Addr(i))
}

// Descriptors decodes the whole ring.
func (c *Chain) Descriptors(bus dma.Bus) []dma.Descriptor {
	descs := make([]dma.Descriptor, c.Len)
	for i := range descs {
		descs[i] = c.Descriptor(bus, i)
	}
	return descs
}

// ArenaSize returns the size of the memory a ring needs.
func ArenaSize(m Mode, t TimingSpec, enc dma.Encoder) uint32 {
	return chainAlign + uint32(ChainLen(m, t))*enc.Size()
}

// Plan computes the descriptors of the ring of cfg, reading frame buffer
// fb. Links are left to the caller. It also returns the indices of the
// active descriptors.
func Plan(cfg ChainConfig, dummy, fb uint32) ([]dma.Descriptor, []int) {
	t := cfg.Timing
	sig := cfg.Signals
	descs := make([]dma.Descriptor, 0, ChainLen(cfg.Mode, t))
	active := make([]int, 0, t.VACT)

	blank := func(count uint32, vsync, hsync bool) {
		descs = append(descs, dma.Descriptor{
			Src:   dummy,
			Dst:   sig.Addr(cfg.BusBase, vsync, hsync, false),
			Count: count,
		})
	}
	pixels := func() {
		active = append(active, len(descs))
		descs = append(descs, dma.Descriptor{
			Src:    fb,
			Dst:    sig.Addr(cfg.BusBase, false, false, true),
			Count:  t.HACT,
			SrcInc: true,
		})
		fb += t.LineBytes()
	}

	switch cfg.Mode {
	case ModeDEOnly:
		blank(t.VBlank()*t.HTotal(), false, false)
		for range t.VACT {
			blank(t.HBlank(), false, false)
			pixels()
		}
	default:
		htiming := t.Horizontal()
		for line := 0; line < int(t.VTotal()); line++ {
			v := t.Classify(line)
			for h := range StageKind(NumStages) {
				if v == Active && h == Active {
					pixels()
					continue
				}
				blank(htiming[h], v == SyncPulse, h == SyncPulse)
			}
		}
	}
	return descs, active
}

// Build lays out the ring of cfg in arena, reading frame buffer fb, and
// links the last descriptor back to the first. Only the last descriptor
// raises a completion interrupt.
func Build(bus dma.Bus, enc dma.Encoder, arena Region, cfg ChainConfig, fb uint32) (*Chain, error) {
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}
	if need := ArenaSize(cfg.Mode, cfg.Timing, enc); arena.Size < need {
		return nil, errors.Wrapf(ErrConfig, "descriptor arena too small: %d bytes, need %d", arena.Size, need)
	}
	if srcWord := enc.SrcWord(); srcWord < 0 {
		return nil, errors.Errorf("disp: %s descriptors have no source address", enc.Name())
	}

	c := &Chain{
		Mode:      cfg.Mode,
		Dummy:     arena.Base,
		Head:      alignUp(arena.Base+4, chainAlign),
		enc:       enc,
		srcOff:    uint32(enc.SrcWord()) * 4,
		lineBytes: cfg.Timing.LineBytes(),
	}

	descs, active := Plan(cfg, c.Dummy, fb)
	for i, d := range descs {
		if d.Count > enc.MaxCount() {
			return nil, errors.Wrapf(ErrConfig, "descriptor %d: %d transfers, %s holds at most %d",
				i, d.Count, enc.Name(), enc.MaxCount())
		}
	}
	c.Len = len(descs)
	c.Active = active

	bus.Write32(c.Dummy, DummyData)
	for i := range descs {
		d := &descs[i]
		if i == len(descs)-1 {
			d.Link = c.Head
			d.IRQ = true
		} else {
			d.Link = c.Addr(i + 1)
		}
		dma.WriteDescriptor(bus, enc, c.Addr(i), *d)
	}

	log.ModDisp.InfoZ("descriptor ring built").
		String("engine", enc.Name()).
		Stringer("mode", cfg.Mode).
		Addr("head", c.Head).
		Addr("tail", c.Tail()).
		Int("len", c.Len).
		Addr("fb", fb).
		End()
	return c, nil
}
