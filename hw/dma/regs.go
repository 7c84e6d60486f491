package dma

import (
	"ebilcd/emu/log"
	"ebilcd/hw/hwio"
)

// Register offsets of the controller register bank.
const (
	RegCHCTL  = 0x000 // bit n: channel n enabled; writing 0 stops it
	RegTDSTS  = 0x004 // bit n: channel n completed a flagged descriptor; write 1 to clear
	RegINTEN  = 0x008 // bit n: channel n completion interrupt enabled (read-only view)
	RegDSCT0  = 0x100 // head descriptor address of channel 0, one word per channel
	regStride = 4
)

// RegBank returns the controller registers as a bank to be mapped at base.
// The registers are views over the channel state, so they can be read while
// the engines run.
func (c *Controller) RegBank(base uint32) *hwio.RegBank {
	b := hwio.NewRegBank(c.Name, base)

	b.Add(RegCHCTL, &hwio.Reg32{
		Name: "CHCTL",
		ReadCb: func(uint32) uint32 {
			return c.mask(func(ch *Channel) bool { return ch.running.Load() })
		},
		WriteCb: func(_, val uint32) {
			for i, ch := range c.chans {
				on := val&(1<<i) != 0
				switch {
				case on && !ch.running.Load():
					if err := ch.Start(); err != nil {
						log.ModDMA.WarnZ("CHCTL start").Int("ch", i).Error("err", err).End()
					}
				case !on && ch.running.Load():
					ch.Stop()
				}
			}
		},
	})
	b.Add(RegTDSTS, &hwio.Reg32{
		Name: "TDSTS",
		ReadCb: func(uint32) uint32 {
			return c.mask(func(ch *Channel) bool { return ch.done.Load() })
		},
		WriteCb: func(_, val uint32) {
			for i, ch := range c.chans {
				if val&(1<<i) != 0 {
					ch.done.Store(false)
				}
			}
		},
	})
	b.Add(RegINTEN, &hwio.Reg32{
		Name:  "INTEN",
		Flags: hwio.ReadOnlyFlag,
		ReadCb: func(uint32) uint32 {
			return c.mask(func(ch *Channel) bool { return ch.intEn.Load() })
		},
	})
	for i, ch := range c.chans {
		b.Add(RegDSCT0+uint32(i*regStride), &hwio.Reg32{
			Name:   "DSCT_NEXT",
			ReadCb: func(uint32) uint32 { return ch.Head() },
			WriteCb: func(_, val uint32) {
				if err := ch.SubmitChain(val); err != nil {
					log.ModDMA.WarnZ("DSCT_NEXT write").Int("ch", ch.idx).Error("err", err).End()
				}
			},
		})
	}
	return b
}

func (c *Controller) mask(f func(*Channel) bool) uint32 {
	var m uint32
	for i, ch := range c.chans {
		if f(ch) {
			m |= 1 << i
		}
	}
	return m
}
