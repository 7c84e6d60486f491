package emu

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"

	"ebilcd/disp"
	"ebilcd/hw/panel"
)

func TestComponents(t *testing.T) {
	var calls []string
	errBoom := errors.New("boom")
	comp := func(name string, initErr error) (initFn, finiFn func() error) {
		initFn = func() error {
			calls = append(calls, "init "+name)
			return initErr
		}
		finiFn = func() error {
			calls = append(calls, "fini "+name)
			return nil
		}
		return initFn, finiFn
	}

	var c Components
	for _, name := range []string{"A", "B", "C"} {
		initFn, finiFn := comp(name, nil)
		c.Register(name, initFn, finiFn)
	}
	c.Register("D", nil, nil)

	if err := c.InitAll(); err != nil {
		t.Fatal(err)
	}
	if c.Initialized() != 4 {
		t.Errorf("Initialized() = %d", c.Initialized())
	}
	if err := c.FiniAll(); err != nil {
		t.Fatal(err)
	}
	want := []string{"init A", "init B", "init C", "fini C", "fini B", "fini A"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, c.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	// A failure finalizes what was initialized, in reverse.
	calls = nil
	c = Components{}
	for _, name := range []string{"A", "B"} {
		initFn, finiFn := comp(name, nil)
		c.Register(name, initFn, finiFn)
	}
	initFn, finiFn := comp("C", errBoom)
	c.Register("C", initFn, finiFn)

	err := c.InitAll()
	if !errors.Is(err, errBoom) || !strings.Contains(err.Error(), "init C") {
		t.Errorf("InitAll() = %v", err)
	}
	want = []string{"init A", "init B", "init C", "fini B", "fini A"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("rollback order mismatch (-want +got):\n%s", diff)
	}
	if c.Initialized() != 0 {
		t.Errorf("Initialized() = %d after rollback", c.Initialized())
	}
}

func TestComponentsFiniError(t *testing.T) {
	errA := errors.New("a")
	var finied []string
	var c Components
	fini := func(name string, err error) func() error {
		return func() error {
			finied = append(finied, name)
			return err
		}
	}
	c.Register("A", nil, fini("A", errA))
	c.Register("B", nil, fini("B", errors.New("b")))
	if err := c.InitAll(); err != nil {
		t.Fatal(err)
	}

	err := c.FiniAll()
	if err == nil || errors.Is(err, errA) {
		t.Errorf("FiniAll() = %v, want the error of B", err)
	}
	if diff := cmp.Diff([]string{"B", "A"}, finied); diff != "" {
		t.Errorf("fini order mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"mode", func(c *Config) { c.Panel.Mode = "interlaced" }},
		{"backend", func(c *Config) { c.Display.Backend = "mdma" }},
		{"frame rate", func(c *Config) { c.Display.FrameRate = -1 }},
		{"bank", func(c *Config) { c.EBI.Bank = 3 }},
		{"bus width", func(c *Config) { c.EBI.BusWidth = 8 }},
		{"mclk divider", func(c *Config) { c.EBI.MCLKDiv = 3 }},
		{"timing", func(c *Config) { c.Panel.HBP = 0 }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(&cfg)
		if err := cfg.Validate(); !errors.Is(err, disp.ErrConfig) {
			t.Errorf("%s: Validate() = %v, want ErrConfig", tt.name, err)
		}
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()

	// Missing settings keep their default value.
	path := filepath.Join(dir, "partial.toml")
	partial := "[panel]\nmode = \"de-only\"\nvact = 100\n\n[display]\nbackend = \"pdma\"\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.Panel.Mode = "de-only"
	want.Panel.VACT = 100
	want.Display.Backend = "pdma"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("partial config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Mode() != disp.ModeDEOnly {
		t.Errorf("Mode() = %v", cfg.Mode())
	}

	saved := filepath.Join(dir, "saved.toml")
	if err := SaveConfig(cfg, saved); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(saved)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("saved config mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) = %v", err)
	}
}

// smallConfig is a tiny panel, fast enough to run many frames.
func smallConfig(backend string) Config {
	cfg := DefaultConfig()
	cfg.SetTiming(disp.TimingSpec{
		HFP: 2, HPW: 3, HBP: 2, HACT: 16,
		VFP: 2, VPW: 2, VBP: 1, VACT: 8,
	})
	cfg.Display.Backend = backend
	cfg.Display.FrameRate = 0
	return cfg
}

func TestBoardDemo(t *testing.T) {
	for _, backend := range []string{"pdma", "gdma"} {
		b, err := NewBoard(smallConfig(backend), nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Start(); err != nil {
			t.Fatal(err)
		}
		if got, want := b.Components.Names()[1], "DISP_SYNC_"+strings.ToUpper(backend); got != want {
			t.Errorf("component %q, want %q", got, want)
		}
		if !b.EBI.IsOpen(0) {
			t.Errorf("%s: ebi bank not open", backend)
		}

		fb := b.Display.Buffers()
		img1 := slices.Clone(fb.Pix[0])
		img2 := slices.Clone(fb.Pix[1])
		if cmp.Equal(img1, img2) {
			t.Fatalf("%s: both images are the same", backend)
		}

		// The callback of frame 17 is the first one to see bit 4 of the
		// counter set: the ring reads image 2 from frame 19 on.
		check := func(frames int, want []uint16, name string) {
			t.Helper()
			if err := b.Step(frames); err != nil {
				t.Fatal(err)
			}
			last, ok := b.Panel.Last()
			if !ok {
				t.Fatalf("%s: no frame", backend)
			}
			if !cmp.Equal(want, last.Pix) {
				t.Errorf("%s: frame %d doesn't show %s", backend, last.Seq, name)
			}
		}
		check(18, img1, "image 1")
		check(2, img2, "image 2")

		if got := b.Demo.Counter(); got != 20 {
			t.Errorf("%s: counter = %d, want 20", backend, got)
		}
		if st := b.Display.Stats(); st.Patches != 1 || st.Spurious != 0 {
			t.Errorf("%s: stats = %+v", backend, st)
		}

		if err := b.Stop(); err != nil {
			t.Fatal(err)
		}
		if b.EBI.IsOpen(0) || b.Display.Running() {
			t.Errorf("%s: board not stopped", backend)
		}
		if err := b.Step(1); !errors.Is(err, ErrNotStarted) {
			t.Errorf("%s: Step() after Stop = %v", backend, err)
		}
	}
}

func TestBoardStartFailure(t *testing.T) {
	cfg := smallConfig("gdma")
	cfg.Display.Buffers = 1
	b, err := NewBoard(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	err = b.Start()
	if !errors.Is(err, disp.ErrConfig) || !strings.Contains(err.Error(), "DISP_SYNC_GDMA") {
		t.Fatalf("Start() = %v", err)
	}
	if b.EBI.IsOpen(0) || b.Components.Initialized() != 0 {
		t.Errorf("components left initialized")
	}
}

func TestBoardImages(t *testing.T) {
	cfg := smallConfig("pdma")
	dir := t.TempDir()
	raw := make([]byte, 2*16*8)
	for i := range raw {
		raw[i] = byte(i)
	}
	cfg.Images.First = filepath.Join(dir, "img1.bin")
	cfg.Images.Second = filepath.Join(dir, "img2.bin")
	if err := os.WriteFile(cfg.Images.First, raw, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Images.Second, raw[:10], 0644); err != nil {
		t.Fatal(err)
	}

	b, err := NewBoard(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	// The second image is truncated.
	err = b.Start()
	if err == nil || !strings.Contains(err.Error(), "img2.bin") {
		t.Fatalf("Start() = %v", err)
	}

	os.WriteFile(cfg.Images.Second, raw, 0644)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if got := b.Display.Buffers().Pix[1][1]; got != 0x0302 {
		t.Errorf("pixel 1 = %04x, want 0302", got)
	}
}

func TestBoardRun(t *testing.T) {
	frames := make(chan panel.Frame)
	b, err := NewBoard(smallConfig("gdma"), frames)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	timeout := time.After(10 * time.Second)
	for n := 0; n < 3; {
		select {
		case f := <-frames:
			if f.Stats.ActiveLines != 8 || len(f.Pix) != 16*8 {
				t.Errorf("frame %d: %+v", f.Seq, f.Stats)
			}
			n++
		case <-timeout:
			t.Fatal("no frames")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	if b.Display.Stats().Frames == 0 {
		t.Errorf("no completion interrupt")
	}
}
