package disp

import "github.com/go-faster/errors"

var (
	// ErrConfig reports an invalid video mode, wiring or memory layout.
	ErrConfig      = errors.New("disp: invalid configuration")
	ErrRunning     = errors.New("disp: already running")
	ErrNotRunning  = errors.New("disp: not running")
	ErrSwapTimeout = errors.New("disp: timeout waiting for buffer swap")
)
