package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arena/internal/pipeline"
)

const (
	colorDone    = lipgloss.Color("#4CAF50")
	colorFailed  = lipgloss.Color("#FF6B6B")
	colorRunning = lipgloss.Color("#5B8DEF")
	colorWarning = lipgloss.Color("#F7B801")
	colorSkipped = lipgloss.Color("#999999")
	colorDefault = lipgloss.Color("#CCCCCC")
	colorDetail  = lipgloss.Color("#A0AEC0")
)

type palette struct {
	done    lipgloss.Style
	failed  lipgloss.Style
	running lipgloss.Style
	warning lipgloss.Style
	skipped lipgloss.Style
	pending lipgloss.Style
	detail  lipgloss.Style
	title   lipgloss.Style
}

func newPalette(r *lipgloss.Renderer) palette {
	return palette{
		done:    r.NewStyle().Foreground(colorDone).Bold(true),
		failed:  r.NewStyle().Foreground(colorFailed).Bold(true),
		running: r.NewStyle().Foreground(colorRunning).Bold(true),
		warning: r.NewStyle().Foreground(colorWarning).Bold(true),
		skipped: r.NewStyle().Foreground(colorSkipped),
		pending: r.NewStyle().Foreground(colorDefault),
		detail:  r.NewStyle().Foreground(colorDetail),
		title:   r.NewStyle().Bold(true),
	}
}

func (p palette) forState(state pipeline.State) lipgloss.Style {
	switch state {
	case pipeline.StateDone:
		return p.done
	case pipeline.StateFailed:
		return p.failed
	case pipeline.StateRunning:
		return p.running
	case pipeline.StateWarning:
		return p.warning
	case pipeline.StateSkipped:
		return p.skipped
	default:
		return p.pending
	}
}

func stateIcon(state pipeline.State) string {
	switch state {
	case pipeline.StateDone:
		return "✓"
	case pipeline.StateFailed:
		return "✗"
	case pipeline.StateWarning:
		return "!"
	case pipeline.StateSkipped:
		return "-"
	case pipeline.StateRunning:
		return "…"
	default:
		return " "
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
