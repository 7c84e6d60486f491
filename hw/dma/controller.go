package dma

import (
	"sync"

	"ebilcd/emu/log"
	"ebilcd/hw/irq"
)

// DefaultMaxRing bounds RunFrame. It's larger than any descriptor ring the
// display can build.
const DefaultMaxRing = 1 << 20

// Controller is a DMA peripheral: a set of channels sharing a descriptor
// format, a bus and an interrupt controller.
type Controller struct {
	Name    string
	MaxRing int

	bus  Bus
	enc  Encoder
	irqc *irq.Controller

	mu    sync.Mutex
	chans []*Channel
}

// NewController creates a controller with n channels. Channel i raises
// interrupt line firstLine+i.
func NewController(name string, bus Bus, irqc *irq.Controller, enc Encoder, n int, firstLine irq.Line) *Controller {
	c := &Controller{
		Name:    name,
		MaxRing: DefaultMaxRing,
		bus:     bus,
		enc:     enc,
		irqc:    irqc,
	}
	for i := 0; i < n; i++ {
		c.chans = append(c.chans, newChannel(c, i, firstLine+irq.Line(i)))
	}
	return c
}

func (c *Controller) Encoder() Encoder { return c.enc }

func (c *Controller) NumChannels() int { return len(c.chans) }

func (c *Controller) Channel(i int) *Channel { return c.chans[i] }

// Allocate reserves the first free channel.
func (c *Controller) Allocate() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.chans {
		if !ch.allocated {
			ch.allocated = true
			log.ModDMA.DebugZ("channel allocated").
				String("engine", c.Name).
				Int("ch", ch.idx).
				End()
			return ch, nil
		}
	}
	return nil, ErrNoChannel
}

// Free stops ch, masks its interrupt and releases it.
func (c *Controller) Free(ch *Channel) {
	ch.DisableCompletionInterrupt()
	ch.Stop()
	ch.done.Store(false)

	c.mu.Lock()
	ch.allocated = false
	c.mu.Unlock()
	log.ModDMA.DebugZ("channel freed").
		String("engine", c.Name).
		Int("ch", ch.idx).
		End()
}

// Reset stops and frees every channel.
func (c *Controller) Reset() {
	for _, ch := range c.chans {
		c.Free(ch)
	}
}
