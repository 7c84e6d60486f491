package screen

import (
	"context"
	"time"

	"ebilcd/emu/log"
	"ebilcd/hw/panel"
)

const pollPeriod = 10 * time.Millisecond

// Show draws frames as they arrive, until ctx is done, frames is closed or
// the window is closed. It returns true in the last case.
func Show(ctx context.Context, w *Window, frames <-chan panel.Frame) (closed bool) {
	poll := time.NewTicker(pollPeriod)
	defer poll.Stop()

	var shown uint64
	for {
		select {
		case <-ctx.Done():
			return false
		case f, ok := <-frames:
			if !ok {
				return false
			}
			w.Draw(f.RGBA().Pix)
			shown++
			if f.Stats.ShortLines != 0 || f.Stats.Overruns != 0 {
				log.ModPanel.DebugZ("showing incomplete frame").Uint64("seq", f.Seq).End()
			}
		case <-poll.C:
			if w.Poll() {
				log.ModEmu.InfoZ("window closed").Uint64("shown", shown).End()
				return true
			}
		}
	}
}
