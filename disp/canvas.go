package disp

import (
	"image/color"
	"time"

	"tinygo.org/x/drivers"

	"ebilcd/hw/panel"
)

// DefaultSwapTimeout bounds how long Canvas.Display waits for the previous
// frame to be shown.
const DefaultSwapTimeout = time.Second

// Canvas is a tinygo display driver over a running Display. Drawing goes
// to a back buffer. Display flushes it and makes it the next frame.
type Canvas struct {
	d        *Display
	fb       *FrameBuffers
	rotation drivers.Rotation

	back    int
	pending uint32

	SwapTimeout time.Duration
}

var _ drivers.Displayer = (*Canvas)(nil)

// NewCanvas returns a canvas drawing into the buffers of d, which must be
// running. The first back buffer is the one d doesn't display.
func NewCanvas(d *Display) *Canvas {
	fb := d.Buffers()
	c := &Canvas{d: d, fb: fb, SwapTimeout: DefaultSwapTimeout}
	if fb.Index(d.GetActiveBuffer()) == 0 {
		c.back = 1
	}
	return c
}

func (c *Canvas) Rotation() drivers.Rotation { return c.rotation }

func (c *Canvas) SetRotation(r drivers.Rotation) error {
	c.rotation = r % 4
	return nil
}

// Size returns the size of the canvas, taking rotation into account.
func (c *Canvas) Size() (x, y int16) {
	w, h := int16(c.fb.Width), int16(c.fb.Height)
	if c.rotation == drivers.Rotation90 || c.rotation == drivers.Rotation270 {
		return h, w
	}
	return w, h
}

// SetPixel draws into the back buffer. Out of bounds pixels are ignored.
func (c *Canvas) SetPixel(x, y int16, col color.RGBA) {
	w, h := int16(c.fb.Width), int16(c.fb.Height)
	switch c.rotation {
	case drivers.Rotation90:
		x, y = w-1-y, x
	case drivers.Rotation180:
		x, y = w-1-x, h-1-y
	case drivers.Rotation270:
		x, y = y, h-1-x
	}
	if x < 0 || y < 0 || x >= w || y >= h {
		return
	}
	c.fb.Pix[c.back][int(y)*c.fb.Width+int(x)] = panel.To565(col)
}

// FillScreen fills the back buffer with col.
func (c *Canvas) FillScreen(col color.RGBA) {
	c.fb.Fill(c.back, panel.To565(col))
}

// Back returns the index of the buffer being drawn.
func (c *Canvas) Back() int { return c.back }

// Display hands the back buffer over to the display and moves to the next
// one. It first waits for the previously displayed frame to be visible, so
// that flushing never writes memory the DMA engine is reading.
func (c *Canvas) Display() error {
	if err := c.waitSwap(); err != nil {
		return err
	}
	c.fb.Flush(c.back)
	c.pending = c.fb.Addr(c.back)
	c.d.SetActiveBuffer(c.pending)

	c.back = (c.back + 1) % c.fb.Len()
	// Carry the frame over, drawing is incremental.
	copy(c.fb.Pix[c.back], c.fb.Pix[c.fb.Index(c.pending)])
	return nil
}

func (c *Canvas) waitSwap() error {
	if c.pending == 0 || c.d.GetActiveBuffer() == c.pending {
		return nil
	}
	t := time.NewTimer(c.SwapTimeout)
	defer t.Stop()
	for c.d.GetActiveBuffer() != c.pending {
		select {
		case <-c.d.Swapped():
		case <-t.C:
			return ErrSwapTimeout
		}
	}
	return nil
}
