package log

import (
	"io"

	"gopkg.in/Sirupsen/logrus.v0"
)

type Level = logrus.Level

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

func init() {
	// Filtering is done per module, so the logrus logger must let
	// everything through.
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
}

var disabled bool

// Disable turns off all logging, warnings and errors included.
func Disable() {
	disabled = true
	logrus.SetOutput(io.Discard)
}

// SetOutput redirects all logs to w.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}

// A LogContextAdder adds fields to every log entry. The machine uses it to
// tag entries with the current frame number.
type LogContextAdder interface {
	AddLogContext(z *EntryZ)
}

var contexts []LogContextAdder

func AddContext(ctx LogContextAdder) {
	contexts = append(contexts, ctx)
}

func ResetContexts() {
	contexts = nil
}
