package panel

import (
	"image"
	"image/color"
	"sync/atomic"
)

// output cycles the panel frame buffers and hands completed frames to the
// consumer goroutine.
type output struct {
	framebufidx int
	framebuf    [][]uint16
	cur         []uint16

	framech chan Frame
	quit    chan struct{}
	done    chan struct{}
	queued  bool
	dropped atomic.Uint64

	cfg Config
}

func newOutput(cfg Config) *output {
	vb := make([][]uint16, cfg.NumBuffers)
	for i := range vb {
		vb[i] = make([]uint16, cfg.Width*cfg.Height)
	}
	o := &output{
		framebuf: vb,
		framech:  make(chan Frame, cfg.NumBuffers-2),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		queued:   true,
		cfg:      cfg,
	}
	go o.render()
	return o
}

// beginFrame moves to the next buffer, unless the previous frame was
// dropped: its buffer is then still free. At most NumBuffers-2 frames are
// queued and one is being copied by render, so the next buffer is never in
// use.
func (o *output) beginFrame() {
	if o.queued {
		o.framebufidx++
		if o.framebufidx == o.cfg.NumBuffers {
			o.framebufidx = 0
		}
	}
	o.cur = o.framebuf[o.framebufidx]
	clear(o.cur)
}

// endFrame never blocks: the panel is fed by a DMA engine which can't be
// held up by a slow consumer. A frame that can't be queued is dropped.
func (o *output) endFrame(f Frame) {
	select {
	case o.framech <- f:
		o.queued = true
	default:
		o.queued = false
		o.dropped.Add(1)
	}
}

func (o *output) close() {
	close(o.quit)
	close(o.framech)
	<-o.done
}

func (o *output) render() {
	defer close(o.done)

	if o.cfg.FrameOutCh == nil {
		for range o.framech {
			// We're headless, just discard all frames.
		}
		return
	}
	for f := range o.framech {
		f.Pix = append([]uint16(nil), f.Pix...)
		select {
		case o.cfg.FrameOutCh <- f:
		case <-o.quit:
			return
		}
	}
}

// RGB565 returns the color of a packed 5-6-5 pixel.
func RGB565(v uint16) color.RGBA {
	r := uint8(v>>11) & 0x1F
	g := uint8(v>>5) & 0x3F
	b := uint8(v) & 0x1F
	return color.RGBA{
		R: r<<3 | r>>2,
		G: g<<2 | g>>4,
		B: b<<3 | b>>2,
		A: 0xFF,
	}
}

// To565 packs c into a 5-6-5 pixel.
func To565(c color.Color) uint16 {
	r, g, b, _ := c.RGBA()
	return uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(b>>11)
}

// RGBA converts the frame for display.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		c := RGB565(v)
		p := img.Pix[4*i : 4*i+4 : 4*i+4]
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
	}
	return img
}
