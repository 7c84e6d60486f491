// Package disp generates the timing of a sync-type LCD panel with a DMA
// descriptor ring. Every descriptor writes a run of 16-bit words to an EBI
// bank at an address whose bits drive HSYNC, VSYNC and DE, so that once
// started the DMA engine produces the whole frame, blanking included,
// without CPU help. The only runtime work is the completion interrupt,
// raised once per frame, which switches frame buffers.
package disp

import (
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"ebilcd/emu/log"
	"ebilcd/hw/dma"
)

// BlankCallback is called from the completion interrupt, once per frame,
// with the address of the buffer the next frame reads from. It must not
// block.
type BlankCallback func(active uint32)

type Config struct {
	Mode    Mode
	Timing  TimingSpec
	Signals Signals

	BusBase uint32 // EBI bank window
	Window  uint32 // size of the window, 0 to skip the check

	Arena   Region // descriptor memory
	VRAM    Region // frame buffer memory
	Buffers int
}

func (c Config) chain() ChainConfig {
	return ChainConfig{
		Mode:    c.Mode,
		Timing:  c.Timing,
		Signals: c.Signals,
		BusBase: c.BusBase,
	}
}

// Validate checks the parts of the configuration that don't depend on
// memory layout.
func (c Config) Validate() error {
	if c.Mode != ModeSync && c.Mode != ModeDEOnly {
		return errors.Wrapf(ErrConfig, "unknown mode %v", c.Mode)
	}
	if err := c.Timing.Validate(); err != nil {
		return err
	}
	if err := c.Signals.Validate(c.Window); err != nil {
		return err
	}
	if c.Buffers < MinBuffers {
		return errors.Wrapf(ErrConfig, "%d frame buffers, need at least %d", c.Buffers, MinBuffers)
	}
	return nil
}

// Stats are the completion handler counters.
type Stats struct {
	Frames   uint64 // completion interrupts
	Patches  uint64 // buffer switches
	Spurious uint64 // interrupts without completion
}

// Display is a timing generator instance.
type Display struct {
	cfg   Config
	bus   dma.Bus
	alloc Allocator

	mu      sync.Mutex // serializes Init and Fini
	running atomic.Bool

	// Set by Init before the interrupt is enabled, cleared by Fini after
	// it's disabled.
	eng   Engine
	chain *Chain
	fb    *FrameBuffers

	// requested is the only word shared between producers and the
	// completion handler. active is only written by the handler.
	requested atomic.Uint32
	active    atomic.Uint32
	blank     atomic.Pointer[BlankCallback]
	swapped   chan struct{}

	frames   atomic.Uint64
	patches  atomic.Uint64
	spurious atomic.Uint64
}

// New creates a display which stores its ring and frame buffers through bus
// and runs it on an engine from alloc.
func New(cfg Config, bus dma.Bus, alloc Allocator) *Display {
	return &Display{
		cfg:     cfg,
		bus:     bus,
		alloc:   alloc,
		swapped: make(chan struct{}, 1),
	}
}

func (d *Display) Config() Config { return d.cfg }

// Init builds the descriptor ring reading buffer initial, or the first
// frame buffer if initial is 0, and starts the DMA engine. On error nothing
// is left running.
func (d *Display) Init(initial uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrRunning
	}
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	fb, err := NewFrameBuffers(d.bus, d.cfg.VRAM, d.cfg.Timing, d.cfg.Buffers)
	if err != nil {
		return err
	}
	if initial == 0 {
		initial = fb.Addr(0)
	}

	eng, err := d.alloc.Allocate()
	if err != nil {
		return errors.Wrap(err, "allocate dma channel")
	}
	chain, err := Build(d.bus, eng.Encoder(), d.cfg.Arena, d.cfg.chain(), initial)
	if err != nil {
		d.alloc.Free(eng)
		return err
	}
	if err := eng.SubmitChain(chain.Head); err != nil {
		d.alloc.Free(eng)
		return errors.Wrap(err, "submit chain")
	}

	d.eng, d.chain, d.fb = eng, chain, fb
	d.requested.Store(initial)
	d.active.Store(initial)
	d.frames.Store(0)
	d.patches.Store(0)
	d.spurious.Store(0)
	d.running.Store(true)

	eng.EnableCompletionInterrupt(d.HandleCompletion)
	if err := eng.Start(); err != nil {
		d.running.Store(false)
		eng.DisableCompletionInterrupt()
		d.alloc.Free(eng)
		d.eng, d.chain, d.fb = nil, nil, nil
		return errors.Wrap(err, "start dma")
	}

	log.ModDisp.InfoZ("display started").
		Stringer("timing", d.cfg.Timing).
		Stringer("signals", d.cfg.Signals).
		Addr("bus", d.cfg.BusBase).
		Addr("fb", initial).
		End()
	return nil
}

// Fini masks the completion interrupt, stops the engine, and only then
// releases the frame buffers and the channel.
func (d *Display) Fini() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return ErrNotRunning
	}
	d.running.Store(false)

	d.eng.DisableCompletionInterrupt()
	d.eng.Stop()
	d.fb.release()
	d.alloc.Free(d.eng)
	d.eng, d.chain, d.fb = nil, nil, nil

	log.ModDisp.InfoZ("display stopped").
		Uint64("frames", d.frames.Load()).
		Uint64("patches", d.patches.Load()).
		End()
	return nil
}

func (d *Display) Running() bool { return d.running.Load() }

// Chain returns the descriptor ring, or nil if the display isn't running.
func (d *Display) Chain() *Chain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chain
}

// Buffers returns the frame buffers, or nil if the display isn't running.
func (d *Display) Buffers() *FrameBuffers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fb
}

// SetActiveBuffer requests that frames be read from addr, starting at the
// next frame boundary. It never blocks and can be called from any
// goroutine, including the blank callback. The buffer must be flushed.
// Address 0 is ignored by the handler.
func (d *Display) SetActiveBuffer(addr uint32) {
	d.requested.Store(addr)
}

// RequestedBuffer returns the last address passed to SetActiveBuffer.
func (d *Display) RequestedBuffer() uint32 {
	return d.requested.Load()
}

// GetActiveBuffer returns the address of the buffer the ring currently
// reads from. It lags RequestedBuffer by up to one frame.
func (d *Display) GetActiveBuffer() uint32 {
	return d.active.Load()
}

// SetBlankCallback sets the function called at each frame boundary, nil
// removes it.
func (d *Display) SetBlankCallback(fn BlankCallback) {
	if fn == nil {
		d.blank.Store(nil)
		return
	}
	d.blank.Store(&fn)
}

// Swapped is signaled after the handler switched buffers.
func (d *Display) Swapped() <-chan struct{} { return d.swapped }

func (d *Display) Stats() Stats {
	return Stats{
		Frames:   d.frames.Load(),
		Patches:  d.patches.Load(),
		Spurious: d.spurious.Load(),
	}
}

// HandleCompletion is the completion interrupt handler. It runs when the
// DMA engine just executed the last descriptor of the ring, and is about
// to start over from the first one: patching the active descriptors now
// affects the whole next frame and nothing of the current one.
func (d *Display) HandleCompletion() {
	if !d.running.Load() {
		return
	}
	if st := d.eng.GetAndClearStatus(); !st.Done {
		d.spurious.Add(1)
		return
	}
	frame := d.frames.Add(1)

	cur := d.chain.ActiveSource(d.bus)
	if req := d.requested.Load(); req != 0 && req != cur {
		d.chain.Patch(d.bus, req)
		d.patches.Add(1)
		log.ModDisp.DebugZ("buffer switch").
			Uint64("frame", frame).
			Switch("fb", cur, req).
			End()
		cur = req
		d.active.Store(cur)
		select {
		case d.swapped <- struct{}{}:
		default:
		}
	}

	if cb := d.blank.Load(); cb != nil {
		(*cb)(cur)
	}
}
