package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"ebilcd/emu"
	"ebilcd/emu/log"
)

type mode byte

const (
	runMode      mode = iota // Run the machine headless
	viewMode                 // Run the machine and show the panel
	snapshotMode             // Write a decoded frame to a BMP file
	dumpMode                 // Print the descriptor ring
	configMode               // Show or save the configuration
	versionMode              // Show ebilcd version
)

type (
	CLI struct {
		Run      Run      `cmd:"" help:"Run the display and the demo, headless. (default command)" default:"true"`
		View     View     `cmd:"" help:"Run the display and show the panel in a window."`
		Snapshot Snapshot `cmd:"" help:"Run some frames and write the last decoded one as BMP."`
		Dump     Dump     `cmd:"" help:"Print the DMA descriptor ring."`
		Config   Config   `cmd:"" help:"Show the effective configuration, or save it."`
		Version  Version  `cmd:"" help:"Show ebilcd version."`

		ConfigPath string     `name:"config" help:"${config_help}" type:"path" placeholder:"FILE"`
		Log        logModMask `help:"${log_help}" placeholder:"mod0,mod1,..."`

		mode mode
	}

	// Overrides are settings that can be given on the command line, on top
	// of the configuration file.
	Overrides struct {
		Backend   string   `name:"backend" help:"DMA engine running the ring: pdma or gdma." placeholder:"ENGINE"`
		Mode      string   `name:"mode" help:"Ring layout: sync or de-only." placeholder:"MODE"`
		FrameRate *float64 `name:"fps" help:"Frame rate pacing, 0 runs as fast as possible."`
	}

	Run struct {
		Overrides
		Frames uint64 `name:"frames" help:"Stop after N frames. (0 runs until interrupted)" default:"0"`
	}

	View struct {
		Overrides
		Scale int `name:"scale" help:"Window scale factor." default:"2"`
	}

	Snapshot struct {
		Overrides
		Output string `arg:"" name:"output.bmp" help:"BMP file to write." type:"path"`
		Frames int    `name:"frames" help:"Number of frames to run before taking the snapshot." default:"24"`
	}

	Dump struct {
		Overrides
		JSON bool `name:"json" help:"Write JSON instead of text."`
	}

	Config struct {
		Save bool `name:"save" help:"Save the effective configuration to the config file."`
	}

	Version struct{}
)

func (o Overrides) apply(cfg *emu.Config) {
	if o.Backend != "" {
		cfg.Display.Backend = o.Backend
	}
	if o.Mode != "" {
		cfg.Panel.Mode = o.Mode
	}
	if o.FrameRate != nil {
		cfg.Display.FrameRate = *o.FrameRate
	}
}

var vars = kong.Vars{
	"config_help": "Configuration file. (default: config.toml in the user config directory)",
	"log_help":    "Enable logging for specified modules.",
}

func parseArgs(args []string) CLI {
	var cfg CLI
	parser, err := kong.New(&cfg,
		kong.Name("ebilcd"),
		kong.Description("Sync-type LCD timing generator over EBI and DMA, on an emulated machine."),
		kong.UsageOnError(),
		kong.Help(printHelp),
		vars)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args)
	checkf(err, "failed to parse command line")
	checkf(ctx.Error, "failed to parse command line")

	switch ctx.Command() {
	case "view":
		cfg.mode = viewMode
	case "snapshot <output.bmp>":
		cfg.mode = snapshotMode
	case "dump":
		cfg.mode = dumpMode
	case "config":
		cfg.mode = configMode
	case "version":
		cfg.mode = versionMode
	default:
		cfg.mode = runMode
	}
	return cfg
}

func printHelp(options kong.HelpOptions, ctx *kong.Context) error {
	if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
		return err
	}
	loggingHelp := `
Log modules:
  The --log flag accepts a comma-separated list of modules.

  Valid log modules are:
%s

  As a special case, the following values are accepted:
    - no                     Disable all logging.
    - all                    Enable all logs.
`
	var strs []string
	for _, m := range log.ModuleNames() {
		strs = append(strs, "    - "+m)
	}

	fmt.Fprintf(os.Stderr, loggingHelp, strings.Join(strs, "\n"))
	return nil
}

type logModMask log.ModuleMask

// Decode decodes a comma-separated list of module names into a module mask.
//
// Implements kong.MapperValue interface.
func (lm logModMask) Decode(ctx *kong.DecodeContext) error {
	nolog := false
	allLogs := false

	tok := ctx.Scan.Pop()
	for _, v := range strings.Split(tok.Value.(string), ",") {
		switch v {
		case "all":
			allLogs = true
		case "no":
			nolog = true
		default:
			mod, ok := log.ModuleByName(v)
			if !ok {
				return fmt.Errorf("unknown log module %s", v)
			}
			lm |= logModMask(mod.Mask())
		}
	}

	if nolog {
		if allLogs {
			return fmt.Errorf("cannot use 'all' and 'no' together")
		}
		if lm != 0 {
			return fmt.Errorf("cannot combine 'no' with other log modules")
		}
		log.Disable()
		return nil
	}

	if allLogs {
		lm = logModMask(log.ModuleMaskAll)
	}

	log.EnableDebugModules(log.ModuleMask(lm))
	return nil
}

func checkf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	fatalf(format+".\n"+err.Error(), args...)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal error:")
	fmt.Fprintf(os.Stderr, "\n\t%s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}
