// Package ulog implements a small leveled logger for udevil, modeled on the
// message-level conventions of the host distribution's container tooling:
// a single signed integer knob (env var or -d/-v/-q/-s flags) controls
// verbosity, and the same knob is propagated to any child process that
// re-execs itself.
package ulog

import "fmt"

// messageLevel orders log severities from the most severe (negative) to the
// most verbose (positive), matching the convention that passing a bigger
// number to -d/--debug reveals more detail.
type messageLevel int

const (
	FatalLevel messageLevel = iota - 4
	ErrorLevel
	WarnLevel
	LogLevel
	InfoLevel
	VerboseLevel
	Verbose2Level
	Verbose3Level
	DebugLevel
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case DebugLevel:
		return "DEBUG"
	default:
		return fmt.Sprintf("VERBOSE%d", int(l)-int(InfoLevel))
	}
}
