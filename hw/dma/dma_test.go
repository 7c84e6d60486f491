package dma

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"

	"ebilcd/hw/hwio"
	"ebilcd/hw/irq"
)

const (
	ramBase  = 0x20000000
	ringBase = 0x20001000
	devBase  = 0x60000000
)

type busWrite struct {
	Addr uint32
	Val  uint16
}

type testSystem struct {
	bus    *hwio.Table
	ram    *hwio.Mem
	irqc   *irq.Controller
	ctl    *Controller
	writes []busWrite
}

func newTestSystem(t *testing.T, enc Encoder) *testSystem {
	t.Helper()
	s := &testSystem{
		bus:  hwio.NewTable("bus"),
		ram:  hwio.NewMem("ram", 0x4000, hwio.MemFlagReadWrite),
		irqc: irq.NewController(),
	}
	s.bus.MapMem(ramBase, s.ram)
	s.bus.Map("dev", devBase, 0x1000, &hwio.Device{
		Name:    "dev",
		WriteCb: func(addr uint32, val uint16) { s.writes = append(s.writes, busWrite{addr, val}) },
	})
	s.ctl = NewController(enc.Name(), s.bus, s.irqc, enc, 2, 4)
	return s
}

// ring writes a ring of descriptors at ringBase, closing the ring and
// flagging the last one.
func (s *testSystem) ring(descs []Descriptor) uint32 {
	enc := s.ctl.Encoder()
	for i := range descs {
		d := descs[i]
		if i == len(descs)-1 {
			d.Link = ringBase
			d.IRQ = true
		} else {
			d.Link = ringBase + uint32(i+1)*enc.Size()
		}
		WriteDescriptor(s.bus, enc, ringBase+uint32(i)*enc.Size(), d)
	}
	return ringBase
}

func encoders() map[string]Encoder {
	return map[string]Encoder{
		"pdma": PDMA{},
		"gdma": NewGDMA(),
	}
}

func TestEncodeDecode(t *testing.T) {
	descs := []Descriptor{
		{Src: 0x20000010, Dst: 0x60000106, Count: 480, SrcInc: true, Link: 0x20300040},
		{Src: 0x20000000, Dst: 0x60000000, Count: 41, Link: 0x20300000, IRQ: true},
		{Src: 0x20000000, Dst: 0x60000000, Count: 1, DstInc: true, Link: 0x20300080},
	}
	for name, enc := range encoders() {
		t.Run(name, func(t *testing.T) {
			for _, d := range descs {
				words := enc.Encode(d)
				if uint32(len(words))*4 != enc.Size() {
					t.Fatalf("Encode returned %d words, want %d", len(words), enc.Size()/4)
				}
				if words[enc.SrcWord()] != d.Src {
					t.Errorf("word %d = %08x, want source %08x", enc.SrcWord(), words[enc.SrcWord()], d.Src)
				}
				if diff := cmp.Diff(d, enc.Decode(words)); diff != "" {
					t.Errorf("Decode(Encode(d)) mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestPDMAControlWord(t *testing.T) {
	w := PDMA{}.Encode(Descriptor{Src: 1, Dst: 2, Count: 480, SrcInc: true, Link: 3})
	// scatter-gather, single, 16-bit, SA inc, DA fixed, table int disabled, TXCNT=479
	const want = 0x01DF_0000 | 1<<12 | 3<<10 | 1<<7 | 1<<2 | 2
	if w[0] != want {
		t.Errorf("CTL = %08x, want %08x", w[0], uint32(want))
	}
	if (PDMA{}).MaxCount() != 65536 {
		t.Errorf("MaxCount = %d", PDMA{}.MaxCount())
	}
}

func TestGDMASrcWord(t *testing.T) {
	g := NewGDMA()
	if g.SrcWord() != 3 {
		t.Errorf("SrcWord = %d, want 3 (header, INTREN, CTRL, SRC_ADDR)", g.SrcWord())
	}
	if idx := GDMAFieldWord(gdmaHeader, GDMARegClear); idx != -1 {
		t.Errorf("REGCLEAR has no payload, got index %d", idx)
	}
	if idx := GDMAFieldWord(gdmaHeader, GDMAYSize); idx != -1 {
		t.Errorf("YSIZE not in header, got index %d", idx)
	}
	if idx := GDMAFieldWord(gdmaHeader, GDMALinkAddr); idx != 7 {
		t.Errorf("LINKADDR index = %d, want 7", idx)
	}
}

func TestEncodeInvalidCount(t *testing.T) {
	for name, enc := range encoders() {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("zero count should panic")
				}
			}()
			enc.Encode(Descriptor{Count: 0})
		})
	}
}

func TestChannelRing(t *testing.T) {
	for name, enc := range encoders() {
		t.Run(name, func(t *testing.T) {
			s := newTestSystem(t, enc)
			s.bus.Write32(ramBase, 0xFFFFFFFF)
			s.bus.Write16(ramBase+0x10, 0x1111)
			s.bus.Write16(ramBase+0x12, 0x2222)

			head := s.ring([]Descriptor{
				{Src: ramBase, Dst: devBase + 4, Count: 2},
				{Src: ramBase + 0x10, Dst: devBase + 8, Count: 2, SrcInc: true},
			})

			ch, err := s.ctl.Allocate()
			if err != nil {
				t.Fatal(err)
			}
			irqs := 0
			ch.EnableCompletionInterrupt(func() {
				if ch.GetAndClearStatus().Done {
					irqs++
				}
			})
			if err := ch.SubmitChain(head); err != nil {
				t.Fatal(err)
			}
			if err := ch.Start(); err != nil {
				t.Fatal(err)
			}

			for frame := 1; frame <= 3; frame++ {
				if err := ch.RunFrame(); err != nil {
					t.Fatal(err)
				}
				s.irqc.Service()
				if irqs != frame {
					t.Fatalf("after frame %d got %d interrupts", frame, irqs)
				}
			}

			want := []busWrite{
				{devBase + 4, 0xFFFF}, {devBase + 4, 0xFFFF},
				{devBase + 8, 0x1111}, {devBase + 8, 0x2222},
			}
			if diff := cmp.Diff(want, s.writes[:4]); diff != "" {
				t.Errorf("bus writes mismatch (-want +got):\n%s", diff)
			}
			if len(s.writes) != 12 {
				t.Errorf("got %d bus writes after 3 frames, want 12", len(s.writes))
			}
			if ch.Frames() != 3 || ch.Descriptors() != 6 {
				t.Errorf("frames=%d descriptors=%d, want 3 and 6", ch.Frames(), ch.Descriptors())
			}
		})
	}
}

func TestChannelStatusWithoutInterrupt(t *testing.T) {
	s := newTestSystem(t, PDMA{})
	head := s.ring([]Descriptor{{Src: ramBase, Dst: devBase, Count: 1}})
	ch, _ := s.ctl.Allocate()
	ch.SubmitChain(head)
	ch.Start()

	if st := ch.GetAndClearStatus(); st.Done || !st.Busy {
		t.Fatalf("status before any step = %+v", st)
	}
	if !ch.Step() {
		t.Fatalf("single flagged descriptor should complete")
	}
	if s.irqc.Pending(ch.Line()) {
		t.Errorf("interrupt raised while disabled")
	}
	if !ch.GetAndClearStatus().Done {
		t.Errorf("status should be done")
	}
	if ch.GetAndClearStatus().Done {
		t.Errorf("status should be cleared")
	}
}

func TestChannelErrors(t *testing.T) {
	s := newTestSystem(t, PDMA{})
	ch, _ := s.ctl.Allocate()

	if err := ch.Start(); !errors.Is(err, ErrNoChain) {
		t.Errorf("Start without chain = %v, want ErrNoChain", err)
	}
	if err := ch.RunFrame(); !errors.Is(err, ErrStopped) {
		t.Errorf("RunFrame on stopped channel = %v, want ErrStopped", err)
	}

	head := s.ring([]Descriptor{{Src: ramBase, Dst: devBase, Count: 1}})
	ch.SubmitChain(head)
	ch.Start()
	if err := ch.SubmitChain(head); !errors.Is(err, ErrRunning) {
		t.Errorf("SubmitChain while running = %v, want ErrRunning", err)
	}
	ch.Stop()
	if ch.Step() {
		t.Errorf("stopped channel should not step")
	}

	// A ring without any flagged descriptor never completes.
	WriteDescriptor(s.bus, PDMA{}, ringBase, Descriptor{Src: ramBase, Dst: devBase, Count: 1, Link: ringBase})
	s.ctl.MaxRing = 10
	ch.Start()
	if err := ch.RunFrame(); !errors.Is(err, ErrNoCompletion) {
		t.Errorf("RunFrame = %v, want ErrNoCompletion", err)
	}
}

func TestAllocate(t *testing.T) {
	s := newTestSystem(t, PDMA{})
	a, err := s.ctl.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ctl.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ctl.Allocate(); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("third Allocate = %v, want ErrNoChannel", err)
	}
	s.ctl.Free(a)
	c, err := s.ctl.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("Allocate should reuse the freed channel")
	}
}

func TestRegisters(t *testing.T) {
	const regBase = 0x40008000
	s := newTestSystem(t, PDMA{})
	regs := s.ctl.RegBank(regBase)
	s.bus.Map("pdma-regs", regBase, regs.Size(), regs)

	head := s.ring([]Descriptor{{Src: ramBase, Dst: devBase, Count: 1}})
	ch := s.ctl.Channel(1)

	s.bus.Write32(regBase+RegDSCT0+4, head)
	if ch.Head() != head {
		t.Fatalf("DSCT_NEXT write did not submit the chain")
	}
	s.bus.Write32(regBase+RegCHCTL, 1<<1)
	if !ch.Running() {
		t.Fatalf("CHCTL write did not start channel 1")
	}
	if got := s.bus.Read32(regBase + RegCHCTL); got != 1<<1 {
		t.Errorf("CHCTL = %08x, want 2", got)
	}

	ch.Step()
	if got := s.bus.Read32(regBase + RegTDSTS); got != 1<<1 {
		t.Errorf("TDSTS = %08x, want 2", got)
	}
	s.bus.Write32(regBase+RegTDSTS, 1<<1)
	if got := s.bus.Read32(regBase + RegTDSTS); got != 0 {
		t.Errorf("TDSTS after clear = %08x, want 0", got)
	}

	s.bus.Write32(regBase+RegCHCTL, 0)
	if ch.Running() {
		t.Errorf("CHCTL write did not stop channel 1")
	}
}

func TestChannelRun(t *testing.T) {
	s := newTestSystem(t, NewGDMA())
	head := s.ring([]Descriptor{
		{Src: ramBase, Dst: devBase, Count: 1},
		{Src: ramBase, Dst: devBase, Count: 1},
	})

	ch, _ := s.ctl.Allocate()
	ch.SetFramePeriod(time.Millisecond)
	frames := make(chan struct{}, 16)
	ch.EnableCompletionInterrupt(func() {
		if ch.GetAndClearStatus().Done {
			select {
			case frames <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 2)
	go func() { errc <- ch.Run(ctx) }()
	go func() { errc <- s.irqc.Run(ctx) }()

	ch.SubmitChain(head)
	ch.Start()
	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d not completed", i)
		}
	}
	ch.Stop()
	cancel()
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Error(err)
		}
	}
}

func TestChannelRunWaitsForHandler(t *testing.T) {
	for _, period := range []time.Duration{0, 100 * time.Microsecond} {
		s := newTestSystem(t, PDMA{})
		head := s.ring([]Descriptor{
			{Src: ramBase, Dst: devBase, Count: 2},
			{Src: ramBase, Dst: devBase, Count: 1},
		})

		ch, _ := s.ctl.Allocate()
		ch.SetFramePeriod(period)
		var handled, moved int
		ch.EnableCompletionInterrupt(func() {
			before := ch.Descriptors()
			time.Sleep(50 * time.Microsecond)
			if ch.Descriptors() != before {
				moved++
			}
			if ch.GetAndClearStatus().Done {
				handled++
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 2)
		go func() { errc <- ch.Run(ctx) }()
		go func() { errc <- s.irqc.Run(ctx) }()

		ch.SubmitChain(head)
		ch.Start()
		time.Sleep(50 * time.Millisecond)
		ch.Stop()
		cancel()
		for range 2 {
			if err := <-errc; err != nil {
				t.Fatal(err)
			}
		}
		// The last completion may still be pending.
		s.irqc.Service()

		if ch.Frames() == 0 {
			t.Fatalf("period %v: no frame", period)
		}
		if uint64(handled) != ch.Frames() {
			t.Errorf("period %v: %d handler calls for %d frames", period, handled, ch.Frames())
		}
		if moved != 0 {
			t.Errorf("period %v: engine ran during %d handler calls", period, moved)
		}
	}
}

func TestDisableReleasesEngine(t *testing.T) {
	s := newTestSystem(t, PDMA{})
	head := s.ring([]Descriptor{{Src: ramBase, Dst: devBase, Count: 1}})

	ch, _ := s.ctl.Allocate()
	ch.EnableCompletionInterrupt(func() {})
	ch.SubmitChain(head)
	ch.Start()

	// Nobody services the interrupt: Run holds after the first frame.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- ch.Run(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for ch.Frames() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no frame")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	if got := ch.Frames(); got != 1 {
		t.Fatalf("%d frames without servicing the interrupt, want 1", got)
	}

	// Masking the line releases the engine.
	ch.DisableCompletionInterrupt()
	for ch.Frames() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("engine still held")
		}
		time.Sleep(time.Millisecond)
	}
	ch.Stop()
	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}
