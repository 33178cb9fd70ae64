package ulog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const envMessageLevel = "UDEVIL_MESSAGELEVEL"

var messageColors = map[messageLevel]*color.Color{
	FatalLevel: color.New(color.FgRed),
	ErrorLevel: color.New(color.FgRed),
	WarnLevel:  color.New(color.FgYellow),
	InfoLevel:  color.New(color.FgBlue),
}

var (
	loggerLevel = InfoLevel
	colorOutput = true
	logWriter   = io.Writer(os.Stderr)
)

func init() {
	if l, err := strconv.Atoi(os.Getenv(envMessageLevel)); err == nil {
		loggerLevel = messageLevel(l)
	}
}

func prefix(msgLevel messageLevel) string {
	tag := msgLevel.String() + ":"
	if loggerLevel < DebugLevel {
		if colorOutput {
			if c, ok := messageColors[msgLevel]; ok {
				return c.Sprintf("%-8s ", tag)
			}
		}
		return fmt.Sprintf("%-8s ", tag)
	}

	pc, _, _, ok := runtime.Caller(3)
	funcName := "????()"
	if ok {
		if details := runtime.FuncForPC(pc); details != nil {
			parts := strings.Split(details.Name(), ".")
			funcName = parts[len(parts)-1] + "()"
		}
	}
	uidPid := fmt.Sprintf("[U=%d,P=%d]", os.Geteuid(), os.Getpid())
	return fmt.Sprintf("%-8s%-19s%-30s", tag, uidPid, funcName)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	if loggerLevel < msgLevel {
		return
	}
	message := strings.TrimRight(fmt.Sprintf(format, a...), "\n")
	fmt.Fprintf(logWriter, "%s%s\n", prefix(msgLevel), message)
}

// Fatalf logs an ERROR-level message then exits with status 1, the core's
// usage/non-policy failure exit code.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(1)
}

// Errorf writes an ERROR level message without exiting.
func Errorf(format string, a ...interface{}) { writef(ErrorLevel, format, a...) }

// Warningf writes a WARNING level message.
func Warningf(format string, a ...interface{}) { writef(WarnLevel, format, a...) }

// Infof writes an INFO level message, shown by default.
func Infof(format string, a ...interface{}) { writef(InfoLevel, format, a...) }

// Verbosef writes a VERBOSE level message, shown with -v.
func Verbosef(format string, a ...interface{}) { writef(VerboseLevel, format, a...) }

// Debugf writes a DEBUG level message, shown with -d.
func Debugf(format string, a ...interface{}) { writef(DebugLevel, format, a...) }

// SetLevel sets the logger verbosity and whether ANSI color is used.
func SetLevel(l int, color bool) {
	loggerLevel = messageLevel(l)
	colorOutput = color
}

// GetLevel returns the current verbosity as a plain integer.
func GetLevel() int { return int(loggerLevel) }

// EnvVar returns UDEVIL_MESSAGELEVEL=<n> for propagation to a re-exec'd
// child process (e.g. a validate/success hook run under a changed identity).
func EnvVar() string {
	return fmt.Sprintf("%s=%d", envMessageLevel, loggerLevel)
}

// SetWriter installs a new log destination, returning the previous one so
// tests can capture and later restore output.
func SetWriter(w io.Writer) io.Writer {
	old := logWriter
	if w != nil {
		logWriter = w
	}
	return old
}
