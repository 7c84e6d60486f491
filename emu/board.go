package emu

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"ebilcd/disp"
	"ebilcd/emu/log"
	"ebilcd/hw/dma"
	"ebilcd/hw/ebi"
	"ebilcd/hw/hwio"
	"ebilcd/hw/irq"
	"ebilcd/hw/panel"
)

// Memory map.
const (
	SRAMBase    = 0x20000000
	PDMARegBase = 0x40008000
	GDMARegBase = 0x40009000
)

// DMA channels and their interrupt lines.
const (
	pdmaChannels = 8
	gdmaChannels = 4
	pdmaIRQ      = irq.Line(0)
	gdmaIRQ      = irq.Line(16)
)

// Board is the emulated machine: SRAM holding frame buffers and the
// descriptor ring, the EBI with the panel on the display bank, both DMA
// controllers and the interrupt controller.
type Board struct {
	cfg Config

	Bus   *hwio.Table
	SRAM  *hwio.Mem
	IRQ   *irq.Controller
	EBI   *ebi.Controller
	PDMA  *dma.Controller
	GDMA  *dma.Controller
	Panel *panel.Panel

	Display *disp.Display
	Demo    *Demo

	Components Components

	VRAM  disp.Region
	Arena disp.Region

	closePanel sync.Once
}

// NewBoard builds the machine described by cfg. Frames decoded by the panel
// are sent to frames, if not nil.
func NewBoard(cfg Config, frames chan panel.Frame) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := cfg.Timing()
	mode := cfg.Mode()

	b := &Board{
		cfg: cfg,
		Bus: hwio.NewTable("bus"),
		IRQ: irq.NewController(),
	}
	b.PDMA = dma.NewController("pdma", b.Bus, b.IRQ, dma.PDMA{}, pdmaChannels, pdmaIRQ)
	b.GDMA = dma.NewController("gdma", b.Bus, b.IRQ, dma.NewGDMA(), gdmaChannels, gdmaIRQ)
	for _, ctl := range []struct {
		c    *dma.Controller
		base uint32
	}{{b.PDMA, PDMARegBase}, {b.GDMA, GDMARegBase}} {
		regs := ctl.c.RegBank(ctl.base)
		b.Bus.Map(ctl.c.Name+"-regs", ctl.base, regs.Size(), regs)
	}

	// Video memory first, then the ring. Both are cache line aligned.
	vramSize := uint32(max(cfg.Display.Buffers, 0)) * alignUp(t.BufferSize(), disp.CacheLine)
	arenaSize := disp.ArenaSize(mode, t, b.dma().Encoder())
	b.VRAM = disp.Region{Base: SRAMBase, Size: vramSize}
	b.Arena = disp.Region{Base: SRAMBase + vramSize, Size: arenaSize}
	b.SRAM = hwio.NewMem("sram", int(alignUp(vramSize+arenaSize, 0x1000)), hwio.MemFlagReadWrite)
	b.Bus.MapMem(SRAMBase, b.SRAM)

	pmode := panel.ModeSync
	if mode == disp.ModeDEOnly {
		pmode = panel.ModeDEOnly
	}
	sig := func(s SignalConfig) panel.Signal { return panel.Signal{Bit: s.Bit, ActiveLow: s.ActiveLow} }
	b.Panel = panel.New(panel.Config{
		Width:      int(t.HACT),
		Height:     int(t.VACT),
		Mode:       pmode,
		VSync:      sig(cfg.Panel.VSync),
		HSync:      sig(cfg.Panel.HSync),
		DE:         sig(cfg.Panel.DE),
		NumBuffers: 3,
		FrameOutCh: frames,
	})

	b.EBI = ebi.NewController(b.Bus)
	if err := b.EBI.Attach(cfg.EBI.Bank, b.Panel); err != nil {
		b.Panel.Close()
		return nil, err
	}

	if cfg.Display.FrameRate > 0 {
		period := time.Duration(float64(time.Second) / cfg.Display.FrameRate)
		for i := range b.dma().NumChannels() {
			b.dma().Channel(i).SetFramePeriod(period)
		}
	}

	b.Display = disp.New(disp.Config{
		Mode:    mode,
		Timing:  t,
		Signals: cfg.Signals(),
		BusBase: ebi.BankBase(cfg.EBI.Bank),
		Window:  ebi.BankSize,
		Arena:   b.Arena,
		VRAM:    b.VRAM,
		Buffers: cfg.Display.Buffers,
	}, b.Bus, disp.Channels(b.dma()))
	b.Demo = NewDemo(b.Display, cfg.Images)

	b.Components.Register("EBI", b.initEBI, b.finiEBI)
	b.Components.Register("DISP_SYNC_"+strings.ToUpper(cfg.Display.Backend),
		func() error { return b.Display.Init(0) },
		b.Display.Fini)
	b.Components.Register("DISP_EXAMPLE", b.Demo.Init, b.Demo.Fini)

	log.ModEmu.InfoZ("board").
		String("backend", cfg.Display.Backend).
		Stringer("mode", mode).
		Stringer("timing", t).
		Area("vram", b.VRAM.Base, b.VRAM.Size).
		Area("arena", b.Arena.Base, b.Arena.Size).
		End()
	return b, nil
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

func (b *Board) Config() Config { return b.cfg }

// dma returns the controller the display runs on.
func (b *Board) dma() *dma.Controller {
	if b.cfg.Display.Backend == "pdma" {
		return b.PDMA
	}
	return b.GDMA
}

func (b *Board) initEBI() error {
	bank := b.cfg.EBI.Bank
	err := b.EBI.Open(bank, ebi.BusWidth16, ebi.TimingFastest, ebi.OpModeCAccess|ebi.OpModeADSeparate, true)
	if err != nil {
		return err
	}
	div, _ := b.cfg.mclkDiv()
	if err := b.EBI.SetBusTiming(bank, b.cfg.EBI.TCTL, div); err != nil {
		b.EBI.Close(bank)
		return err
	}
	return nil
}

func (b *Board) finiEBI() error {
	return b.EBI.Close(b.cfg.EBI.Bank)
}

// Start initializes every component, the display starts scanning out.
func (b *Board) Start() error {
	return b.Components.InitAll()
}

// Stop finalizes the components and shuts the panel down. Run must have
// returned.
func (b *Board) Stop() error {
	err := b.Components.FiniAll()
	b.closePanel.Do(b.Panel.Close)
	return err
}

// Run lets the DMA channels and the interrupt controller run on their own
// until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ctl := b.dma()
	for i := range ctl.NumChannels() {
		ch := ctl.Channel(i)
		g.Go(func() error { return ch.Run(ctx) })
	}
	g.Go(func() error { return b.IRQ.Run(ctx) })
	return g.Wait()
}

// ErrNotStarted is returned when stepping a board whose display isn't
// running.
var ErrNotStarted = errors.New("display not started")

// Step runs n frames synchronously, servicing the completion interrupt
// after each one.
func (b *Board) Step(n int) error {
	ch := b.channel()
	if ch == nil {
		return ErrNotStarted
	}
	for range n {
		if err := ch.RunFrame(); err != nil {
			return err
		}
		b.IRQ.Service()
	}
	return nil
}

// channel returns the running channel of the display controller.
func (b *Board) channel() *dma.Channel {
	ctl := b.dma()
	for i := range ctl.NumChannels() {
		if ch := ctl.Channel(i); ch.Running() {
			return ch
		}
	}
	return nil
}
