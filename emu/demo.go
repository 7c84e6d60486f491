package emu

import (
	"image/color"
	"os"
	"sync/atomic"

	"github.com/go-faster/errors"

	"ebilcd/disp"
	"ebilcd/emu/log"
	"ebilcd/hw/panel"
)

// ToggleMask selects the bit of the frame counter choosing the image: the
// demo shows each image for 16 frames.
const ToggleMask = 0x10

// Demo shows two images alternately, switching from the blank callback.
type Demo struct {
	d      *disp.Display
	images ImagesConfig

	img     [2]uint32
	counter atomic.Uint32
}

func NewDemo(d *disp.Display, images ImagesConfig) *Demo {
	return &Demo{d: d, images: images}
}

// Images returns the addresses of the two images.
func (dm *Demo) Images() [2]uint32 { return dm.img }

// Counter returns the number of blank callbacks received.
func (dm *Demo) Counter() uint32 { return dm.counter.Load() }

// Init loads the images into the first two frame buffers, cleans them and
// installs the blank callback.
func (dm *Demo) Init() error {
	fb := dm.d.Buffers()
	if fb == nil {
		return disp.ErrNotRunning
	}
	for i, path := range []string{dm.images.First, dm.images.Second} {
		if path == "" {
			drawPattern(fb, i)
		} else if err := loadImage(fb, i, path); err != nil {
			return err
		}
		fb.Flush(i)
		dm.img[i] = fb.Addr(i)
	}
	dm.counter.Store(0)
	dm.d.SetBlankCallback(dm.blank)

	log.ModEmu.DebugZ("demo images").
		Addr("img1", dm.img[0]).
		Addr("img2", dm.img[1]).
		End()
	return nil
}

// Fini removes the callback and withdraws any pending request.
func (dm *Demo) Fini() error {
	dm.d.SetBlankCallback(nil)
	dm.d.SetActiveBuffer(0)
	return nil
}

func (dm *Demo) blank(uint32) {
	if dm.counter.Load()&ToggleMask != 0 {
		dm.d.SetActiveBuffer(dm.img[1])
	} else {
		dm.d.SetActiveBuffer(dm.img[0])
	}
	dm.counter.Add(1)
}

func loadImage(fb *disp.FrameBuffers, i int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open image")
	}
	defer f.Close()
	return errors.Wrapf(fb.Load(i, f), "image %s", path)
}

var bars = []color.RGBA{
	{0xFF, 0xFF, 0xFF, 0xFF},
	{0xFF, 0xFF, 0x00, 0xFF},
	{0x00, 0xFF, 0xFF, 0xFF},
	{0x00, 0xFF, 0x00, 0xFF},
	{0xFF, 0x00, 0xFF, 0xFF},
	{0xFF, 0x00, 0x00, 0xFF},
	{0x00, 0x00, 0xFF, 0xFF},
	{0x00, 0x00, 0x00, 0xFF},
}

// drawPattern draws color bars in buffer 0, and a checkerboard with a
// horizontal gradient in the others.
func drawPattern(fb *disp.FrameBuffers, i int) {
	pix := fb.Pix[i]
	w, h := fb.Width, fb.Height
	for y := range h {
		for x := range w {
			var c color.RGBA
			if i == 0 {
				c = bars[x*len(bars)/w]
			} else {
				v := uint8(x * 0xFF / max(w-1, 1))
				c = color.RGBA{v, v, v, 0xFF}
				if (x/16+y/16)%2 == 0 {
					c.B = 0xFF - v
				}
			}
			pix[y*w+x] = panel.To565(c)
		}
	}
}
