package disp

import (
	"fmt"

	"github.com/go-faster/errors"
)

// StageKind is one of the four stages of a scanline or a frame, in raster
// order.
type StageKind uint8

const (
	FrontPorch StageKind = iota
	SyncPulse
	BackPorch
	Active

	NumStages = 4
)

var stageNames = [NumStages]string{"FP", "PW", "BP", "ACT"}

func (k StageKind) String() string {
	if k < NumStages {
		return stageNames[k]
	}
	return fmt.Sprintf("StageKind(%d)", k)
}

type Axis uint8

const (
	Horizontal Axis = iota
	Vertical
)

func (a Axis) String() string {
	if a == Horizontal {
		return "H"
	}
	return "V"
}

// Stage is a stage of one axis.
type Stage struct {
	Axis Axis
	Kind StageKind
}

func (s Stage) String() string { return s.Axis.String() + s.Kind.String() }

// TimingSpec describes a video mode. Horizontal durations are in pixel
// clocks (one 16-bit bus transfer each), vertical durations in lines.
type TimingSpec struct {
	HFP, HPW, HBP, HACT uint32
	VFP, VPW, VBP, VACT uint32
}

// WQVGA is the 480x272 panel the board ships with.
var WQVGA = TimingSpec{
	HFP: 5, HPW: 41, HBP: 30, HACT: 480,
	VFP: 27, VPW: 10, VBP: 2, VACT: 272,
}

// Horizontal returns the horizontal stage durations, in stage order.
func (t TimingSpec) Horizontal() [NumStages]uint32 {
	return [NumStages]uint32{t.HFP, t.HPW, t.HBP, t.HACT}
}

// Vertical returns the vertical stage durations, in stage order.
func (t TimingSpec) Vertical() [NumStages]uint32 {
	return [NumStages]uint32{t.VFP, t.VPW, t.VBP, t.VACT}
}

func (t TimingSpec) HTotal() uint32 { return t.HFP + t.HPW + t.HBP + t.HACT }
func (t TimingSpec) VTotal() uint32 { return t.VFP + t.VPW + t.VBP + t.VACT }

// HBlank is the number of pixel clocks preceding the active pixels of a
// line.
func (t TimingSpec) HBlank() uint32 { return t.HFP + t.HPW + t.HBP }

// VBlank is the number of lines preceding the first active line.
func (t TimingSpec) VBlank() uint32 { return t.VFP + t.VPW + t.VBP }

// LineBytes is the size of one line of a frame buffer.
func (t TimingSpec) LineBytes() uint32 { return t.HACT * BytesPerPixel }

// BufferSize is the size of a frame buffer.
func (t TimingSpec) BufferSize() uint32 { return t.LineBytes() * t.VACT }

func (t TimingSpec) String() string {
	return fmt.Sprintf("%dx%d H[%d %d %d] V[%d %d %d]",
		t.HACT, t.VACT, t.HFP, t.HPW, t.HBP, t.VFP, t.VPW, t.VBP)
}

// Validate checks that every stage has a non-zero duration. A zero stage
// would need a zero-length transfer, which no engine can encode.
func (t TimingSpec) Validate() error {
	for _, ax := range []struct {
		axis Axis
		d    [NumStages]uint32
	}{
		{Horizontal, t.Horizontal()},
		{Vertical, t.Vertical()},
	} {
		for k, d := range ax.d {
			if d == 0 {
				return errors.Wrapf(ErrConfig, "%v duration is zero", Stage{ax.axis, StageKind(k)})
			}
		}
	}
	return nil
}

func classify(d [NumStages]uint32, idx uint32) (StageKind, bool) {
	var sum uint32
	for k := range d {
		sum += d[k]
		if idx < sum {
			return StageKind(k), true
		}
	}
	return 0, false
}

// Classify returns the vertical stage of scanline line. It panics if line
// is outside [0, VTotal).
func (t TimingSpec) Classify(line int) StageKind {
	if line >= 0 {
		if k, ok := classify(t.Vertical(), uint32(line)); ok {
			return k
		}
	}
	panic(fmt.Sprintf("disp: line %d out of range [0, %d)", line, t.VTotal()))
}

// ClassifyPixel returns the horizontal stage of pixel clock x within a
// line. It panics if x is outside [0, HTotal).
func (t TimingSpec) ClassifyPixel(x int) StageKind {
	if x >= 0 {
		if k, ok := classify(t.Horizontal(), uint32(x)); ok {
			return k
		}
	}
	panic(fmt.Sprintf("disp: pixel %d out of range [0, %d)", x, t.HTotal()))
}
