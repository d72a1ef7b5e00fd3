package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newCommandLogger logs to stderr: text on a terminal, JSON when piped so CI
// and scripts get machine-parseable records.
func newCommandLogger(command string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(stderr) {
		handler = slog.NewTextHandler(stderr, options)
	} else {
		handler = slog.NewJSONHandler(stderr, options)
	}
	return slog.New(handler).With("command", command)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
