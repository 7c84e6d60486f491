// Package panel models a sync-type RGB LCD panel wired to an EBI bank: the
// bank address lines carry HSYNC, VSYNC and DE, the data lines carry RGB565
// pixels.
package panel

import (
	"fmt"
	"sync"

	"ebilcd/emu/log"
	"ebilcd/hw/hwio"
)

// Signal is a control line decoded from an address bit.
type Signal struct {
	Bit       uint
	ActiveLow bool
}

// Asserted reports whether s is asserted for a bus access at offset off.
func (s Signal) Asserted(off uint32) bool {
	return hwio.GetBit32(off, s.Bit) != s.ActiveLow
}

func (s Signal) String() string {
	pol := "high"
	if s.ActiveLow {
		pol = "low"
	}
	return fmt.Sprintf("bit%d/active-%s", s.Bit, pol)
}

// Mode selects how the panel finds line and frame boundaries.
type Mode uint8

const (
	// ModeSync uses the HSYNC and VSYNC assertion edges.
	ModeSync Mode = iota
	// ModeDEOnly ignores sync lines: a line starts on each DE assertion
	// edge, and a frame is complete after Height of them.
	ModeDEOnly
)

type Config struct {
	Width, Height int
	Mode          Mode

	VSync, HSync, DE Signal

	// NumBuffers is the number of frame buffers cycled by the panel. A
	// frame handed to the output goroutine isn't overwritten before
	// NumBuffers-1 more frames are latched.
	NumBuffers int
	// Decoded frames are sent to FrameOutCh. If nil, the panel runs
	// headless and frames are only available through Last.
	FrameOutCh chan Frame
}

// FrameStats describes the signal pattern received during one frame.
type FrameStats struct {
	Lines       int // HSYNC pulses
	VSyncLines  int // HSYNC pulses while VSYNC was asserted
	ActiveLines int // distinct rows that received pixels
	ShortLines  int // rows that received less than Width pixels
	Overruns    int // pixels beyond Width or Height, dropped
}

// Frame is a decoded frame.
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Pix    []uint16 // RGB565, row-major
	Stats  FrameStats
}

func (f *Frame) At565(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Panel implements ebi.Sink.
type Panel struct {
	cfg Config

	// Latch state, only touched from BusWrite.
	vsync, hsync, de bool
	started          bool
	row, col         int
	rowpix           int
	rows             *hwio.Bitset
	stats            FrameStats

	out *output

	mu      sync.Mutex
	last    Frame
	lastPix []uint16
	frames  uint64
}

func New(cfg Config) *Panel {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		panic(fmt.Sprintf("panel: invalid size %dx%d", cfg.Width, cfg.Height))
	}
	cfg.NumBuffers = max(cfg.NumBuffers, 2)
	p := &Panel{
		cfg:  cfg,
		rows: hwio.NewBitset(uint(cfg.Height)),
		out:  newOutput(cfg),
	}
	p.beginFrame()
	return p
}

// Close stops the output goroutine. The panel must not receive writes
// anymore.
func (p *Panel) Close() {
	p.out.close()
}

func (p *Panel) Config() Config { return p.cfg }

// Frames returns the number of completed frames.
func (p *Panel) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Dropped returns the number of frames the consumer of FrameOutCh was too
// slow to receive.
func (p *Panel) Dropped() uint64 { return p.out.dropped.Load() }

// Last returns a copy of the last completed frame.
func (p *Panel) Last() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames == 0 {
		return Frame{}, false
	}
	f := p.last
	f.Pix = append([]uint16(nil), p.last.Pix...)
	return f, true
}

// BusWrite decodes a single 16-bit transfer on the bank.
func (p *Panel) BusWrite(off uint32, val uint16) {
	vsync := p.cfg.VSync.Asserted(off)
	hsync := p.cfg.HSync.Asserted(off)
	de := p.cfg.DE.Asserted(off)

	if p.cfg.Mode == ModeSync {
		if vsync && !p.vsync {
			// The first edge only synchronizes the panel.
			if p.started {
				p.endFrame()
			} else {
				p.beginFrame()
			}
			p.started = true
		}
		if hsync && !p.hsync {
			p.stats.Lines++
			if vsync {
				p.stats.VSyncLines++
			}
		}
	}
	p.vsync, p.hsync = vsync, hsync

	if !de {
		if p.de {
			p.endLine()
		}
		p.de = false
		return
	}
	if !p.de {
		p.de = true
		p.col = 0
		p.rowpix = 0
		if p.cfg.Mode == ModeDEOnly {
			p.started = true
		}
	}
	if !p.started {
		return
	}
	if p.row >= p.cfg.Height || p.col >= p.cfg.Width {
		p.stats.Overruns++
		p.col++
		return
	}
	p.out.cur[p.row*p.cfg.Width+p.col] = val
	p.col++
	p.rowpix++
}

func (p *Panel) endLine() {
	if !p.started {
		return
	}
	if p.row < p.cfg.Height {
		p.rows.Set(uint(p.row))
		if p.rowpix < p.cfg.Width {
			p.stats.ShortLines++
		}
	}
	p.row++
	if p.cfg.Mode == ModeDEOnly && p.row == p.cfg.Height {
		p.endFrame()
	}
}

func (p *Panel) beginFrame() {
	p.row, p.col, p.rowpix = 0, 0, 0
	p.rows.Reset()
	p.stats = FrameStats{}
	p.out.beginFrame()
}

func (p *Panel) endFrame() {
	p.stats.ActiveLines = int(p.rows.Count())

	p.mu.Lock()
	p.frames++
	f := Frame{
		Seq:    p.frames,
		Width:  p.cfg.Width,
		Height: p.cfg.Height,
		Pix:    p.out.cur,
		Stats:  p.stats,
	}
	p.lastPix = append(p.lastPix[:0], f.Pix...)
	p.last = f
	p.last.Pix = p.lastPix
	p.mu.Unlock()

	if p.stats.ActiveLines != p.cfg.Height || p.stats.ShortLines != 0 || p.stats.Overruns != 0 {
		log.ModPanel.WarnZ("incomplete frame").
			Uint64("seq", f.Seq).
			Int("active", p.stats.ActiveLines).
			Int("short", p.stats.ShortLines).
			Int("overruns", p.stats.Overruns).
			End()
	} else {
		log.ModPanel.DebugZ("frame").
			Uint64("seq", f.Seq).
			Int("lines", p.stats.Lines).
			Int("vsync", p.stats.VSyncLines).
			End()
	}

	p.out.endFrame(f)
	p.beginFrame()
}
