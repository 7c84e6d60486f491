package dma

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"

	"ebilcd/emu/log"
	"ebilcd/hw/irq"
)

var (
	ErrNoChannel    = errors.New("dma: no free channel")
	ErrRunning      = errors.New("dma: channel is running")
	ErrNoChain      = errors.New("dma: no descriptor chain submitted")
	ErrStopped      = errors.New("dma: channel stopped")
	ErrNoCompletion = errors.New("dma: no flagged descriptor reached")
)

// Status is the channel status as seen by an interrupt handler.
type Status struct {
	Done bool // a flagged descriptor completed since the last clear
	Busy bool // the channel is executing descriptors
}

// Channel is a single DMA channel. Once started it walks the descriptor
// ring on its own, either from Run or from explicit Step calls.
type Channel struct {
	ctl  *Controller
	idx  int
	line irq.Line

	// held while a descriptor executes, so that Stop can wait for the
	// engine to let go of memory.
	stepMu sync.Mutex
	head   uint32
	next   uint32
	ack    <-chan struct{} // acknowledge of the last completion interrupt

	allocated bool // guarded by ctl.mu

	running atomic.Bool
	done    atomic.Bool
	intEn   atomic.Bool
	period  atomic.Int64

	descriptors atomic.Uint64
	frames      atomic.Uint64

	wake chan struct{}
}

func newChannel(ctl *Controller, idx int, line irq.Line) *Channel {
	return &Channel{ctl: ctl, idx: idx, line: line, wake: make(chan struct{}, 1)}
}

func (ch *Channel) Index() int          { return ch.idx }
func (ch *Channel) Line() irq.Line      { return ch.line }
func (ch *Channel) Encoder() Encoder    { return ch.ctl.enc }
func (ch *Channel) Running() bool       { return ch.running.Load() }
func (ch *Channel) Frames() uint64      { return ch.frames.Load() }
func (ch *Channel) Descriptors() uint64 { return ch.descriptors.Load() }

func (ch *Channel) Head() uint32 {
	ch.stepMu.Lock()
	defer ch.stepMu.Unlock()
	return ch.head
}

// SetFramePeriod paces Run: after each completed ring traversal the channel
// waits until one period elapsed since the previous one. Zero disables
// pacing.
func (ch *Channel) SetFramePeriod(d time.Duration) {
	ch.period.Store(int64(d))
}

// SubmitChain sets the address of the first descriptor of the chain.
func (ch *Channel) SubmitChain(head uint32) error {
	if ch.running.Load() {
		return ErrRunning
	}
	ch.stepMu.Lock()
	defer ch.stepMu.Unlock()

	ch.head = head
	ch.next = head
	log.ModDMA.DebugZ("submit chain").
		String("engine", ch.ctl.Name).
		Int("ch", ch.idx).
		Addr("head", head).
		End()
	return nil
}

// EnableCompletionInterrupt routes completion of flagged descriptors to h,
// through the channel's interrupt line. Descriptors without the flag never
// interrupt.
func (ch *Channel) EnableCompletionInterrupt(h irq.Handler) {
	ch.ctl.irqc.Enable(ch.line, h)
	ch.intEn.Store(true)
}

func (ch *Channel) DisableCompletionInterrupt() {
	ch.intEn.Store(false)
	ch.ctl.irqc.Disable(ch.line)
}

// GetAndClearStatus returns the channel status and acknowledges completion.
func (ch *Channel) GetAndClearStatus() Status {
	return Status{
		Done: ch.done.Swap(false),
		Busy: ch.running.Load(),
	}
}

func (ch *Channel) Start() error {
	ch.stepMu.Lock()
	defer ch.stepMu.Unlock()

	if ch.head == 0 {
		return ErrNoChain
	}
	ch.running.Store(true)
	select {
	case ch.wake <- struct{}{}:
	default:
	}
	log.ModDMA.InfoZ("start").
		String("engine", ch.ctl.Name).
		Int("ch", ch.idx).
		Addr("head", ch.head).
		End()
	return nil
}

// Stop halts the channel. When Stop returns the channel doesn't access
// memory anymore. The next Start resumes from the ring head.
func (ch *Channel) Stop() {
	ch.running.Store(false)
	ch.stepMu.Lock()
	ch.next = ch.head
	ch.ack = nil
	ch.stepMu.Unlock()
	select {
	case ch.wake <- struct{}{}:
	default:
	}
	log.ModDMA.InfoZ("stop").
		String("engine", ch.ctl.Name).
		Int("ch", ch.idx).
		Uint64("frames", ch.frames.Load()).
		End()
}

// Step executes one descriptor. It reports whether that descriptor carried
// the completion flag. Step never waits for the completion handler: callers
// stepping the channel by hand service the interrupt themselves.
func (ch *Channel) Step() bool {
	ch.stepMu.Lock()
	defer ch.stepMu.Unlock()

	if !ch.running.Load() {
		return false
	}
	return ch.step()
}

func (ch *Channel) step() bool {
	addr := ch.next
	d := ReadDescriptor(ch.ctl.bus, ch.ctl.enc, addr)
	ch.transfer(d)
	ch.descriptors.Add(1)

	if d.Link == 0 {
		// End of a linear chain.
		ch.running.Store(false)
		ch.next = ch.head
	} else {
		ch.next = d.Link
	}

	if !d.IRQ {
		return false
	}

	ch.frames.Add(1)
	ch.done.Store(true)
	log.ModDMA.DebugZ("flagged descriptor done").
		String("engine", ch.ctl.Name).
		Int("ch", ch.idx).
		Addr("addr", addr).
		End()
	if ch.intEn.Load() {
		ch.ack = ch.ctl.irqc.Raise(ch.line)
	}
	return true
}

func (ch *Channel) transfer(d Descriptor) {
	bus := ch.ctl.bus
	src, dst := d.Src, d.Dst

	var val uint16
	if !d.SrcInc {
		val = bus.Read16(src)
	}
	for i := uint32(0); i < d.Count; i++ {
		if d.SrcInc {
			val = bus.Read16(src)
			src += TransferWidth
		}
		bus.Write16(dst, val)
		if d.DstInc {
			dst += TransferWidth
		}
	}
}

// waitAck waits for the handler of the last completion interrupt. It
// returns false if ctx is done first.
func (ch *Channel) waitAck(ctx context.Context) bool {
	for {
		ch.stepMu.Lock()
		ack := ch.ack
		ch.stepMu.Unlock()
		if ack == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ack:
			ch.stepMu.Lock()
			if ch.ack == ack {
				ch.ack = nil
			}
			ch.stepMu.Unlock()
			return true
		case <-ch.wake:
			// Stop drops the acknowledge.
		}
	}
}

// RunFrame steps the channel until a flagged descriptor completes.
func (ch *Channel) RunFrame() error {
	for i := 0; i < ch.ctl.MaxRing; i++ {
		if !ch.running.Load() {
			return ErrStopped
		}
		if ch.Step() {
			return nil
		}
	}
	return errors.Wrapf(ErrNoCompletion, "after %d descriptors", ch.ctl.MaxRing)
}

// Run executes descriptors until ctx is done. While the channel is
// stopped, Run waits for the next Start.
//
// After a flagged descriptor, Run doesn't start the next one before the
// completion handler returned: the handler runs between two frames, and
// sees every one of them.
func (ch *Channel) Run(ctx context.Context) error {
	var deadline time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !ch.running.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-ch.wake:
			}
			deadline = time.Time{}
			continue
		}
		if !ch.Step() {
			continue
		}
		if !ch.waitAck(ctx) {
			return nil
		}

		period := time.Duration(ch.period.Load())
		if period <= 0 {
			continue
		}
		if deadline.IsZero() {
			deadline = time.Now()
		}
		deadline = deadline.Add(period)
		if d := time.Until(deadline); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		} else {
			// Running late, don't try to catch up.
			deadline = time.Now()
		}
	}
}
