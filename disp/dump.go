package disp

import (
	"fmt"
	"io"
	"math/bits"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"ebilcd/hw/dma"
)

// Label names the stages descriptor i belongs to.
func (c *Chain) Label(i int) string {
	if c.Mode == ModeDEOnly {
		switch {
		case i == 0:
			return "VBLANK"
		case i%2 == 1:
			return fmt.Sprintf("L%d/HBLANK", (i-1)/2)
		default:
			return fmt.Sprintf("L%d/HACT", (i-1)/2)
		}
	}
	line := i / NumStages
	return fmt.Sprintf("L%d/%v", line, StageKind(i%NumStages))
}

func (c *Chain) words(bus dma.Bus, addr uint32) []uint32 {
	w := make([]uint32, c.enc.Size()/4)
	for i := range w {
		w[i] = bus.Read32(addr + uint32(4*i))
	}
	return w
}

// gdmaFields lists the fields present in a command link header.
func gdmaFields(hdr uint32) string {
	var names []string
	for v := hdr; v != 0; v &= v - 1 {
		if name := dma.GDMAFieldNames[bits.TrailingZeros32(v)]; name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// WriteText prints the ring, following the links from the head.
func (c *Chain) WriteText(w io.Writer, bus dma.Bus) error {
	ew := &errWriter{w: w}
	ew.printf("head: %08X, tail: %08X, len: %d, engine: %s, mode: %v\n",
		c.Head, c.Tail(), c.Len, c.enc.Name(), c.Mode)

	_, gdma := c.enc.(*dma.GDMA)
	addr := c.Head
	for i := 0; i < c.Len; i++ {
		words := c.words(bus, addr)
		d := c.enc.Decode(words)

		ew.printf("%08X %-12s", addr, c.Label(i))
		for _, v := range words {
			ew.printf(" %08X", v)
		}
		ew.printf("  %v", d)
		if gdma {
			ew.printf(" [%s]", gdmaFields(words[0]))
		}
		ew.printf("\n")

		addr = d.Link
		if addr == c.Head {
			if i != c.Len-1 {
				ew.printf("ring closes early, after %d descriptors\n", i+1)
			}
			break
		}
	}
	if addr != c.Head {
		ew.printf("ring not closed, last link %08X\n", addr)
	}
	return ew.err
}

// WriteJSON dumps the ring as a JSON object.
func (c *Chain) WriteJSON(w io.Writer, bus dma.Bus) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.SetIdent(2)

	e.Obj(func(e *jx.Encoder) {
		e.Field("engine", func(e *jx.Encoder) { e.Str(c.enc.Name()) })
		e.Field("mode", func(e *jx.Encoder) { e.Str(c.Mode.String()) })
		e.Field("head", func(e *jx.Encoder) { e.UInt32(c.Head) })
		e.Field("dummy", func(e *jx.Encoder) { e.UInt32(c.Dummy) })
		e.Field("active", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, idx := range c.Active {
					e.Int(idx)
				}
			})
		})
		e.Field("descriptors", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := 0; i < c.Len; i++ {
					d := c.Descriptor(bus, i)
					e.Obj(func(e *jx.Encoder) {
						e.Field("addr", func(e *jx.Encoder) { e.UInt32(c.Addr(i)) })
						e.Field("stage", func(e *jx.Encoder) { e.Str(c.Label(i)) })
						e.Field("src", func(e *jx.Encoder) { e.UInt32(d.Src) })
						e.Field("dst", func(e *jx.Encoder) { e.UInt32(d.Dst) })
						e.Field("count", func(e *jx.Encoder) { e.UInt32(d.Count) })
						e.Field("src_inc", func(e *jx.Encoder) { e.Bool(d.SrcInc) })
						e.Field("dst_inc", func(e *jx.Encoder) { e.Bool(d.DstInc) })
						e.Field("link", func(e *jx.Encoder) { e.UInt32(d.Link) })
						e.Field("irq", func(e *jx.Encoder) { e.Bool(d.IRQ) })
					})
				}
			})
		})
	})
	e.Raw([]byte("\n"))

	if _, err := e.WriteTo(w); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
