package disp

import (
	"encoding/binary"
	"io"

	"github.com/go-faster/errors"

	"ebilcd/emu/log"
	"ebilcd/hw/dma"
)

// CacheLine is the D-cache line size. Frame buffers are aligned on it, so
// cleaning one never touches its neighbour.
const CacheLine = 32

// MinBuffers is the least number of frame buffers double buffering needs.
const MinBuffers = 2

// FrameBuffers are RGB565 frame buffers carved from video memory.
//
// The CPU draws into Pix, a write-back view of each buffer. Memory, where
// the DMA engine reads from, only sees the pixels after Flush. A buffer must
// be flushed before its address is handed to Display.SetActiveBuffer.
type FrameBuffers struct {
	Width, Height int
	Pix           [][]uint16

	bus   dma.Bus
	addrs []uint32
}

type pointerFetcher interface {
	FetchPointer(addr uint32) []byte
}

// NewFrameBuffers carves n buffers for timing t out of vram.
func NewFrameBuffers(bus dma.Bus, vram Region, t TimingSpec, n int) (*FrameBuffers, error) {
	if n < MinBuffers {
		return nil, errors.Wrapf(ErrConfig, "%d frame buffers, need at least %d", n, MinBuffers)
	}
	stride := alignUp(t.BufferSize(), CacheLine)
	base := alignUp(vram.Base, CacheLine)
	if need := base - vram.Base + uint32(n)*stride; need > vram.Size {
		return nil, errors.Wrapf(ErrConfig, "video memory too small: %d bytes, need %d", vram.Size, need)
	}

	fb := &FrameBuffers{
		Width:  int(t.HACT),
		Height: int(t.VACT),
		Pix:    make([][]uint16, n),
		bus:    bus,
		addrs:  make([]uint32, n),
	}
	for i := range fb.addrs {
		fb.addrs[i] = base + uint32(i)*stride
		fb.Pix[i] = make([]uint16, t.HACT*t.VACT)
	}
	log.ModDisp.DebugZ("frame buffers").
		Int("n", n).
		Area("vram", base, uint32(n)*stride).
		Uint32("stride", stride).
		End()
	return fb, nil
}

func (fb *FrameBuffers) Len() int { return len(fb.addrs) }

// Addr returns the bus address of buffer i.
func (fb *FrameBuffers) Addr(i int) uint32 { return fb.addrs[i] }

// Index returns the index of the buffer at addr, or -1.
func (fb *FrameBuffers) Index(addr uint32) int {
	for i, a := range fb.addrs {
		if a == addr {
			return i
		}
	}
	return -1
}

// Fill sets every pixel of buffer i to c.
func (fb *FrameBuffers) Fill(i int, c uint16) {
	pix := fb.Pix[i]
	for j := range pix {
		pix[j] = c
	}
}

// Load reads a raw little-endian RGB565 image into buffer i.
func (fb *FrameBuffers) Load(i int, r io.Reader) error {
	buf := make([]byte, 2*len(fb.Pix[i]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrap(err, "read image")
	}
	for j := range fb.Pix[i] {
		fb.Pix[i][j] = binary.LittleEndian.Uint16(buf[2*j:])
	}
	return nil
}

// Flush cleans buffer i: its pixels are written to memory.
func (fb *FrameBuffers) Flush(i int) {
	addr := fb.addrs[i]
	pix := fb.Pix[i]
	if pf, ok := fb.bus.(pointerFetcher); ok {
		if mem := pf.FetchPointer(addr); len(mem) >= 2*len(pix) {
			for j, v := range pix {
				binary.LittleEndian.PutUint16(mem[2*j:], v)
			}
			return
		}
	}
	for j, v := range pix {
		fb.bus.Write16(addr+uint32(2*j), v)
	}
}

// FlushAll cleans every buffer.
func (fb *FrameBuffers) FlushAll() {
	for i := range fb.addrs {
		fb.Flush(i)
	}
}

// release drops the CPU views. The buffers must not be in use by the DMA
// engine anymore.
func (fb *FrameBuffers) release() {
	for i := range fb.Pix {
		fb.Pix[i] = nil
	}
}
