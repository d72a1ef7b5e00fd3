package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fpp-125/docbot/internal/provision"
	"github.com/fpp-125/docbot/internal/store/sqlite"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// painter styles status tags only when writing to a terminal.
type painter struct {
	color bool
}

func newPainter(w io.Writer) painter {
	return painter{color: isTerminal(w)}
}

func (p painter) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p painter) tag(status string) string {
	switch status {
	case doctorStatusPass, sqlite.StatusSucceeded:
		return p.render(okStyle, "[OK]")
	case doctorStatusWarn:
		return p.render(warnStyle, "[WARN]")
	case sqlite.StatusSkipped:
		return p.render(warnStyle, "[SKIP]")
	case sqlite.StatusRunning:
		return p.render(faintStyle, "[..]")
	default:
		return p.render(failStyle, "[FAIL]")
	}
}

func (p painter) faint(text string) string {
	return p.render(faintStyle, text)
}

// stepPrinter reports provisioning progress one line per finished step.
type stepPrinter struct {
	w     io.Writer
	paint painter
}

func (s stepPrinter) StepStarted(int, string) {}

func (s stepPrinter) StepFinished(_ int, name string, out provision.Outcome, err error, elapsed time.Duration) {
	status := sqlite.StatusSucceeded
	detail := out.Notice
	switch {
	case err != nil:
		status = sqlite.StatusFailed
		detail = err.Error()
	case out.Skipped:
		status = sqlite.StatusSkipped
	}
	line := fmt.Sprintf("  %s %s", s.paint.tag(status), name)
	if detail != "" {
		line += ": " + detail
	}
	fmt.Fprintf(s.w, "%s %s\n", line, s.paint.faint(elapsed.Round(10*time.Millisecond).String()))
}
