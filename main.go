package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"ebilcd/emu"
)

func main() {
	args := parseArgs(os.Args[1:])

	if args.mode == versionMode {
		printVersion()
		return
	}

	var (
		cfg emu.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = emu.LoadConfig(args.ConfigPath)
		checkf(err, "failed to load configuration")
	} else {
		cfg = emu.LoadConfigOrDefault()
	}

	switch args.mode {
	case runMode:
		args.Run.apply(&cfg)
		runMain(args.Run, cfg)
	case viewMode:
		args.View.apply(&cfg)
		viewMain(args.View, cfg)
	case snapshotMode:
		args.Snapshot.apply(&cfg)
		snapshotMain(args.Snapshot, cfg)
	case dumpMode:
		args.Dump.apply(&cfg)
		dumpMain(args.Dump, cfg)
	case configMode:
		configMain(args.Config, args.ConfigPath, cfg)
	}
}

func printVersion() {
	version := "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		version = bi.Main.Version
	}
	fmt.Println("ebilcd", version)
}
