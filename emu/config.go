package emu

import (
	"io/fs"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-faster/errors"
	"github.com/kirsle/configdir"

	"ebilcd/disp"
	"ebilcd/emu/log"
	"ebilcd/hw/ebi"
)

type Config struct {
	Panel   PanelConfig   `toml:"panel"`
	Display DisplayConfig `toml:"display"`
	EBI     EBIConfig     `toml:"ebi"`
	Images  ImagesConfig  `toml:"images"`
}

type PanelConfig struct {
	Mode string `toml:"mode"` // "sync" or "de-only"

	HFP  uint32 `toml:"hfp"`
	HPW  uint32 `toml:"hpw"`
	HBP  uint32 `toml:"hbp"`
	HACT uint32 `toml:"hact"`
	VFP  uint32 `toml:"vfp"`
	VPW  uint32 `toml:"vpw"`
	VBP  uint32 `toml:"vbp"`
	VACT uint32 `toml:"vact"`

	VSync SignalConfig `toml:"vsync"`
	HSync SignalConfig `toml:"hsync"`
	DE    SignalConfig `toml:"de"`
}

type SignalConfig struct {
	Bit       uint `toml:"bit"`
	ActiveLow bool `toml:"active_low"`
}

type DisplayConfig struct {
	Buffers   int     `toml:"buffers"`
	Backend   string  `toml:"backend"`    // "pdma" or "gdma"
	FrameRate float64 `toml:"frame_rate"` // frames per second, 0 runs as fast as possible
}

type EBIConfig struct {
	Bank     int    `toml:"bank"`
	BusWidth int    `toml:"bus_width"`
	MCLKDiv  int    `toml:"mclk_div"`
	TCTL     uint32 `toml:"tctl"`
}

// ImagesConfig names raw little-endian RGB565 files shown by the demo.
// Empty paths use generated patterns.
type ImagesConfig struct {
	First  string `toml:"first"`
	Second string `toml:"second"`
}

// DefaultConfig is the 480x272 panel on EBI bank 0.
func DefaultConfig() Config {
	cfg := Config{
		Panel: PanelConfig{Mode: disp.ModeSync.String()},
		Display: DisplayConfig{
			Buffers:   disp.MinBuffers,
			Backend:   "gdma",
			FrameRate: 60,
		},
		EBI: EBIConfig{
			BusWidth: 16,
			MCLKDiv:  4,
		},
	}
	cfg.SetTiming(disp.WQVGA)
	cfg.SetSignals(disp.DefaultSignals)
	return cfg
}

func (c Config) Timing() disp.TimingSpec {
	p := c.Panel
	return disp.TimingSpec{
		HFP: p.HFP, HPW: p.HPW, HBP: p.HBP, HACT: p.HACT,
		VFP: p.VFP, VPW: p.VPW, VBP: p.VBP, VACT: p.VACT,
	}
}

func (c *Config) SetTiming(t disp.TimingSpec) {
	p := &c.Panel
	p.HFP, p.HPW, p.HBP, p.HACT = t.HFP, t.HPW, t.HBP, t.HACT
	p.VFP, p.VPW, p.VBP, p.VACT = t.VFP, t.VPW, t.VBP, t.VACT
}

func (c Config) Signals() disp.Signals {
	sig := func(s SignalConfig) disp.Signal { return disp.Signal{Bit: s.Bit, ActiveLow: s.ActiveLow} }
	return disp.Signals{
		VSync: sig(c.Panel.VSync),
		HSync: sig(c.Panel.HSync),
		DE:    sig(c.Panel.DE),
	}
}

func (c *Config) SetSignals(s disp.Signals) {
	sig := func(s disp.Signal) SignalConfig { return SignalConfig{Bit: s.Bit, ActiveLow: s.ActiveLow} }
	c.Panel.VSync = sig(s.VSync)
	c.Panel.HSync = sig(s.HSync)
	c.Panel.DE = sig(s.DE)
}

// Mode returns the ring layout, sync if the setting is invalid.
func (c Config) Mode() disp.Mode {
	m, _ := disp.ParseMode(c.Panel.Mode)
	return m
}

func (c Config) mclkDiv() (ebi.MCLKDiv, error) {
	d := c.EBI.MCLKDiv
	if d <= 0 || d > 128 || d&(d-1) != 0 {
		return 0, errors.Wrapf(disp.ErrConfig, "mclk divider %d", d)
	}
	return ebi.MCLKDiv(bits.TrailingZeros(uint(d))), nil
}

// Validate checks the settings the board needs before anything is built.
// The display checks the rest at init.
func (c Config) Validate() error {
	if _, err := disp.ParseMode(c.Panel.Mode); err != nil {
		return err
	}
	switch c.Display.Backend {
	case "pdma", "gdma":
	default:
		return errors.Wrapf(disp.ErrConfig, "unknown dma backend %q", c.Display.Backend)
	}
	if c.Display.FrameRate < 0 {
		return errors.Wrapf(disp.ErrConfig, "frame rate %v", c.Display.FrameRate)
	}
	if c.EBI.Bank < 0 || c.EBI.Bank >= ebi.NumBanks {
		return errors.Wrapf(disp.ErrConfig, "ebi bank %d", c.EBI.Bank)
	}
	// Each pixel is a single 16-bit transfer, an 8-bit bus would split it.
	if c.EBI.BusWidth != 16 {
		return errors.Wrapf(disp.ErrConfig, "ebi bus width %d, the panel needs 16", c.EBI.BusWidth)
	}
	if _, err := c.mclkDiv(); err != nil {
		return err
	}
	return c.Timing().Validate()
}

var ConfigDir = sync.OnceValue(func() string {
	dir := configdir.LocalConfig("ebilcd")
	if err := configdir.MakePath(dir); err != nil {
		log.ModEmu.Fatalf("failed to create directory %s: %v", dir, err)
	}
	return dir
})

const cfgFilename = "config.toml"

// DefaultConfigPath is the config file in the user config directory.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), cfgFilename)
}

// LoadConfig reads the configuration at path. Settings missing from the
// file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return DefaultConfig(), errors.Wrapf(err, "load config %s", path)
	}
	for _, key := range md.Undecoded() {
		log.ModEmu.WarnZ("unknown config key").Stringer("key", key).String("file", path).End()
	}
	return cfg, nil
}

// LoadConfigOrDefault loads the configuration from the ebilcd config
// directory, or provides the default one.
func LoadConfigOrDefault() Config {
	path := DefaultConfigPath()
	cfg, err := LoadConfig(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.ModEmu.WarnZ("using default config").Error("err", err).End()
		}
		return DefaultConfig()
	}
	return cfg
}

// SaveConfig writes cfg to path, or into the ebilcd config directory if
// path is empty.
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}
