// Package rbxlog is the build engine's leveled console logger: colored,
// key-value structured output in the teacher's printer.go idiom, gated by
// a verbose flag and the NO_COLOR convention.
package rbxlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

// Logger writes leveled, key-value-annotated lines to an output stream.
// Debug lines are suppressed unless Verbose is set, matching rebuild's
// "-v" CLI flag (SPEC_FULL.md §2.1, §2.4).
type Logger struct {
	Out     io.Writer
	Err     io.Writer
	Verbose bool
}

// New returns a Logger writing Info/Debug to stdout and Error to stderr.
func New(verbose bool) *Logger {
	return &Logger{Out: os.Stdout, Err: os.Stderr, Verbose: verbose}
}

func formatKV(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// Info prints msg at the default informational level.
func (l *Logger) Info(msg string, kv ...any) {
	l.line(l.Out, green, "info", msg, kv)
}

// Debug prints msg only when Verbose is set.
func (l *Logger) Debug(msg string, kv ...any) {
	if !l.Verbose {
		return
	}
	l.line(l.Out, cyan, "debug", msg, kv)
}

// Warn prints msg at the warning level.
func (l *Logger) Warn(msg string, kv ...any) {
	l.line(l.Out, yellow, "warn", msg, kv)
}

// Error prints msg to the error stream.
func (l *Logger) Error(msg string, kv ...any) {
	l.line(l.Err, red, "error", msg, kv)
}

func (l *Logger) line(w io.Writer, c *color.Color, level, msg string, kv []any) {
	if w == nil {
		w = os.Stdout
	}
	ts := gray.Sprint(time.Now().Format("15:04:05.000"))
	tag := c.Sprintf("%-5s", level)
	fields := formatKV(kv)
	if fields != "" {
		fmt.Fprintf(w, "%s %s %s  %s\n", ts, tag, msg, fields)
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", ts, tag, msg)
}

// Event prints a target/phase/duration summary line at the info level.
// The CLI's post-build summary (SPEC_FULL.md §10) is printed with Info,
// not through Event.
func (l *Logger) Event(target, phase string, dur time.Duration) {
	l.Info("target event", "target", target, "phase", phase, "duration", dur)
}
