// Package irq models the interrupt controller the DMA engines signal
// completion through.
//
// Every Raise returns an acknowledge channel, closed once the handler of
// the line returned (or the request was dropped by Disable). A DMA engine
// waits on it before starting the next frame, which models the blanking
// window the handler runs in: no completion is ever lost or merged with
// the next one.
package irq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"ebilcd/emu/log"
)

// Line is an interrupt line number.
type Line uint

const NumLines = 32

type Handler func()

// Controller is a minimal nested-vector style interrupt controller.
// Requests raised on a line before its handler ran share that handler
// call, and its acknowledge.
//
// Handlers are serialized: at most one handler runs at a time, whether it's
// run from Service or from the Run goroutine.
type Controller struct {
	pending atomic.Uint32
	enabled atomic.Uint32

	mu       sync.Mutex // serializes handlers, protects handlers
	handlers [NumLines]Handler

	ackMu sync.Mutex // orders pending bits with acks
	acks  [NumLines]chan struct{}

	wake chan struct{}
}

// closedAck is returned for requests nobody will acknowledge.
var closedAck = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func NewController() *Controller {
	return &Controller{wake: make(chan struct{}, 1)}
}

func checkLine(l Line) {
	if l >= NumLines {
		panic(fmt.Sprintf("irq: invalid line %d", l))
	}
}

// Enable installs h as the handler of line l and unmasks it.
func (c *Controller) Enable(l Line, h Handler) {
	checkLine(l)
	c.mu.Lock()
	c.handlers[l] = h
	c.mu.Unlock()
	setBit(&c.enabled, l)
	log.ModIRQ.DebugZ("enable").Uint("line", uint(l)).End()
}

// Disable masks line l and drops any pending request on it. It waits for a
// running handler to return, so no handler of l runs after Disable returns.
func (c *Controller) Disable(l Line) {
	checkLine(l)
	c.ackMu.Lock()
	clearBit(&c.enabled, l)
	clearBit(&c.pending, l)
	ack := c.takeAck(l)
	c.ackMu.Unlock()

	c.mu.Lock()
	c.handlers[l] = nil
	c.mu.Unlock()
	if ack != nil {
		close(ack)
	}
	log.ModIRQ.DebugZ("disable").Uint("line", uint(l)).End()
}

func (c *Controller) Enabled(l Line) bool {
	checkLine(l)
	return c.enabled.Load()&(1<<l) != 0
}

func (c *Controller) Pending(l Line) bool {
	checkLine(l)
	return c.pending.Load()&(1<<l) != 0
}

// Raise asserts line l. It never blocks, it's called from DMA engines.
// The returned channel is closed after the handler ran. A masked line stays
// pending but its request is acknowledged at once: nothing would service it.
func (c *Controller) Raise(l Line) <-chan struct{} {
	checkLine(l)
	c.ackMu.Lock()
	setBit(&c.pending, l)
	ack := closedAck
	if c.enabled.Load()&(1<<l) != 0 {
		if c.acks[l] == nil {
			c.acks[l] = make(chan struct{})
		}
		ack = c.acks[l]
	}
	c.ackMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return ack
}

func (c *Controller) takeAck(l Line) chan struct{} {
	ack := c.acks[l]
	c.acks[l] = nil
	return ack
}

// Service runs the handlers of all pending and enabled lines, lowest line
// first, and returns how many ran. Pending masked lines stay pending.
func (c *Controller) Service() int {
	n := 0
	for l := Line(0); l < NumLines; l++ {
		bit := uint32(1) << l
		if c.enabled.Load()&bit == 0 {
			continue
		}
		c.ackMu.Lock()
		if !clearBit(&c.pending, l) {
			c.ackMu.Unlock()
			continue
		}
		ack := c.takeAck(l)
		c.ackMu.Unlock()

		c.mu.Lock()
		if h := c.handlers[l]; h != nil {
			h()
			n++
		}
		c.mu.Unlock()
		if ack != nil {
			close(ack)
		}
	}
	return n
}

// Run services interrupts as they're raised, until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.Service()
		}
	}
}

func setBit(v *atomic.Uint32, l Line) {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old|1<<l) {
			return
		}
	}
}

// clearBit clears bit l and reports whether it was set.
func clearBit(v *atomic.Uint32, l Line) bool {
	for {
		old := v.Load()
		if old&(1<<l) == 0 {
			return false
		}
		if v.CompareAndSwap(old, old&^(1<<l)) {
			return true
		}
	}
}
