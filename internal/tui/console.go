package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arena/internal/pipeline"
	"github.com/kingrea/arena/internal/preflight"
	"github.com/kingrea/arena/internal/snapshot"
)

// Console prints one styled line per pipeline event.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	palette palette
}

// NewConsole writes to out, picking a color profile that suits it.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, palette: newPalette(lipgloss.NewRenderer(out))}
}

// Observe implements pipeline.Observer.
func (c *Console) Observe(e pipeline.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	style := c.palette.forState(e.State)
	label := fmt.Sprintf("%-11s", friendlyLabel(string(e.Stage)))
	line := style.Render(stateIcon(e.State)+" "+label) + " " + c.palette.detail.Render(string(e.State))
	lines := strings.Split(strings.TrimSpace(e.Message), "\n")
	if lines[0] != "" {
		line += "  " + lines[0]
	}
	fmt.Fprintln(c.out, line)
	for _, extra := range lines[1:] {
		fmt.Fprintln(c.out, "              "+c.palette.detail.Render(extra))
	}
}

// Stream returns a writer that echoes external process output dimmed.
func (c *Console) Stream() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		text := strings.TrimRight(string(p), "\n")
		for _, line := range strings.Split(text, "\n") {
			fmt.Fprintln(c.out, c.palette.detail.Render("  │ "+line))
		}
		return len(p), nil
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// RenderSummary describes a finished run.
func RenderSummary(out io.Writer, s pipeline.Summary, err error) string {
	p := newPalette(lipgloss.NewRenderer(out))
	var b strings.Builder
	b.WriteString(p.title.Render("Run summary") + "\n")
	if s.Run.ID != "" {
		fmt.Fprintf(&b, "  run id:     %s\n", s.Run.ID)
	}
	if s.Outcome.ResultsPath != "" {
		fmt.Fprintf(&b, "  results:    %s\n", s.Outcome.ResultsPath)
	}
	if s.Results != nil {
		fmt.Fprintf(&b, "  games:      %d\n", s.Results.TotalGames)
		for i, row := range s.Results.Rankings {
			if i == 5 {
				fmt.Fprintf(&b, "              … %d more\n", len(s.Results.Rankings)-5)
				break
			}
			fmt.Fprintf(&b, "  %2d. %-20s %s\n", row.Rank, row.Name,
				p.detail.Render(fmt.Sprintf("mu %.2f  sigma %.2f  skill %.2f", row.Mu, row.Sigma, row.ConservativeSkill)))
		}
	}
	for _, w := range s.Warnings {
		b.WriteString("  " + p.warning.Render("warning: "+w.Error()) + "\n")
	}
	if s.Validated {
		status := s.Validation.Status.String()
		style := p.skipped
		if s.Validation.Status == snapshot.StatusValid {
			style = p.done
		} else if s.Validation.Status == snapshot.StatusInvalid {
			style = p.warning
		}
		fmt.Fprintf(&b, "  snapshot:   %s\n", style.Render(status))
	}
	switch {
	case s.Receipt != nil:
		fmt.Fprintf(&b, "  upload:     %s\n", p.done.Render(fmt.Sprintf("sent (slot %d)", s.Receipt.Slot)))
	case s.UploadError != nil:
		fmt.Fprintf(&b, "  upload:     %s\n", p.warning.Render("failed: "+s.UploadError.Error()))
	}
	if err != nil {
		fmt.Fprintf(&b, "  %s\n", p.failed.Render(fmt.Sprintf("failed (exit %d): %v", pipeline.ExitCode(err), err)))
	} else {
		fmt.Fprintf(&b, "  %s\n", p.done.Render("ok"))
	}
	return b.String()
}

// RenderReport lists every preflight check with its outcome.
func RenderReport(out io.Writer, report preflight.Report) string {
	p := newPalette(lipgloss.NewRenderer(out))
	var b strings.Builder
	b.WriteString(p.title.Render("Preflight") + "\n")
	for _, res := range report.Results {
		var mark string
		switch {
		case res.Passed():
			mark = p.done.Render("✓")
		case res.Advisory:
			mark = p.warning.Render("!")
		default:
			mark = p.failed.Render("✗")
		}
		line := fmt.Sprintf("  %s %-24s", mark, res.Name)
		if res.Err != nil {
			line += " " + res.Err.Error()
		} else if res.Detail != "" {
			line += " " + p.detail.Render(res.Detail)
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return b.String()
}
