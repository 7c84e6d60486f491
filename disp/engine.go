package disp

import (
	"ebilcd/hw/dma"
	"ebilcd/hw/irq"
)

// Engine is the DMA channel executing the ring. *dma.Channel implements
// it.
type Engine interface {
	Encoder() dma.Encoder
	SubmitChain(head uint32) error
	// EnableCompletionInterrupt routes the completion of descriptors
	// flagged with IRQ, and only those, to h.
	EnableCompletionInterrupt(h irq.Handler)
	DisableCompletionInterrupt()
	GetAndClearStatus() dma.Status
	Start() error
	Stop()
}

// Allocator hands out engines.
type Allocator interface {
	Allocate() (Engine, error)
	Free(Engine)
}

type channels struct {
	ctl *dma.Controller
}

// Channels allocates the channels of a DMA controller.
func Channels(ctl *dma.Controller) Allocator {
	return channels{ctl: ctl}
}

func (c channels) Allocate() (Engine, error) {
	ch, err := c.ctl.Allocate()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c channels) Free(e Engine) {
	c.ctl.Free(e.(*dma.Channel))
}
