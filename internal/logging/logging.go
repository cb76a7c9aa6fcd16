// Package logging sets up the linker's structured logger: a slog front end
// fanned out via github.com/samber/slog-multi to a stderr text handler
// (colored via github.com/fatih/color when stderr is a TTY) and, when
// requested, a JSON file handler — grounded in bobbydeveaux-starbucks-mugs'
// direct log/slog usage and Manu343726-cucaracha's slog-multi dependency.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/term"
)

// Options configures New.
type Options struct {
	Verbose bool
	LogFile string // optional path; "" disables the file handler
}

// New builds the linker's logger and returns it along with a closer for
// any opened log file (always safe to call, even if LogFile was empty).
func New(opts Options) (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{newStderrHandler(level)}
	closer := func() error { return nil }

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
			closer = f.Close
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer
}

// newStderrHandler renders a plain text handler, wrapping stderr with
// color only when it's an interactive terminal (matching the pack's
// "color on TTY, plain otherwise" convention).
func newStderrHandler(level slog.Level) slog.Handler {
	var w io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		w = colorWriter{out: os.Stderr}
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// colorWriter tints warning/error lines yellow/red; everything else
// passes through unchanged.
type colorWriter struct {
	out io.Writer
}

func (c colorWriter) Write(p []byte) (int, error) {
	switch {
	case strings.Contains(string(p), "level=ERROR"):
		_, err := color.New(color.FgRed).Fprint(c.out, string(p))
		return len(p), err
	case strings.Contains(string(p), "level=WARN"):
		_, err := color.New(color.FgYellow).Fprint(c.out, string(p))
		return len(p), err
	default:
		return c.out.Write(p)
	}
}
