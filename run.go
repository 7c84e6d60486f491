package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/BurntSushi/toml"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"

	"ebilcd/emu"
	"ebilcd/emu/log"
	"ebilcd/hw/panel"
	"ebilcd/hw/screen"
)

// runMain runs the board headless, until interrupted or after the requested
// number of frames.
func runMain(args Run, cfg emu.Config) {
	frames := make(chan panel.Frame)
	board, err := emu.NewBoard(cfg, frames)
	checkf(err, "failed to create board")
	checkf(board.Start(), "failed to start display")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return board.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case f := <-frames:
				if args.Frames != 0 && f.Seq >= args.Frames {
					cancel()
					return nil
				}
			}
		}
	})
	runErr := g.Wait()
	checkf(board.Stop(), "failed to stop display")
	checkf(runErr, "emulation error")

	st := board.Display.Stats()
	fmt.Printf("frames: %d, buffer switches: %d, spurious interrupts: %d\n", st.Frames, st.Patches, st.Spurious)
	fmt.Printf("panel: %d frames decoded, %d dropped\n", board.Panel.Frames(), board.Panel.Dropped())
}

// viewMain runs the board and shows the panel in a window, until the window
// is closed or the program is interrupted.
func viewMain(args View, cfg emu.Config) {
	var exitcode int
	sdl.Main(func() {
		frames := make(chan panel.Frame)
		board, err := emu.NewBoard(cfg, frames)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create board: %v\n", err)
			exitcode = 1
			return
		}

		t := cfg.Timing()
		w, err := screen.NewWindow("ebilcd", int(t.HACT), int(t.VACT), max(args.Scale, 1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create window: %v\n", err)
			exitcode = 1
			return
		}
		defer w.Close()

		if err := board.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start display: %v\n", err)
			exitcode = 1
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- board.Run(ctx) }()

		screen.Show(ctx, w, frames)
		cancel()
		if err := <-done; err != nil {
			fmt.Fprintf(os.Stderr, "emulation error: %v\n", err)
			exitcode = 1
		}
		if err := board.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to stop display: %v\n", err)
			exitcode = 1
		}
	})
	os.Exit(exitcode)
}

// snapshotMain steps the board synchronously and writes the last decoded
// frame as a BMP image.
func snapshotMain(args Snapshot, cfg emu.Config) {
	board, err := emu.NewBoard(cfg, nil)
	checkf(err, "failed to create board")
	checkf(board.Start(), "failed to start display")
	checkf(board.Step(args.Frames), "emulation error")

	last, ok := board.Panel.Last()
	if !ok {
		fatalf("no frame decoded after %d frames", args.Frames)
	}
	checkf(board.Stop(), "failed to stop display")

	f, err := os.Create(args.Output)
	checkf(err, "failed to create snapshot file")
	if err := bmp.Encode(f, last.RGBA()); err != nil {
		f.Close()
		fatalf("failed to encode snapshot: %s", err)
	}
	checkf(f.Close(), "failed to write snapshot")

	log.ModEmu.InfoZ("snapshot written").
		String("path", args.Output).
		Uint64("seq", last.Seq).
		End()
}

// dumpMain prints the descriptor ring built for the configuration.
func dumpMain(args Dump, cfg emu.Config) {
	board, err := emu.NewBoard(cfg, nil)
	checkf(err, "failed to create board")
	checkf(board.Start(), "failed to start display")

	chain := board.Display.Chain()
	if args.JSON {
		err = chain.WriteJSON(os.Stdout, board.Bus)
	} else {
		err = chain.WriteText(os.Stdout, board.Bus)
	}
	checkf(err, "failed to dump descriptor ring")
	checkf(board.Stop(), "failed to stop display")
}

// configMain prints the effective configuration, or saves it.
func configMain(args Config, path string, cfg emu.Config) {
	if args.Save {
		checkf(emu.SaveConfig(cfg, path), "failed to save configuration")
		return
	}
	checkf(toml.NewEncoder(os.Stdout).Encode(cfg), "failed to encode configuration")
}
