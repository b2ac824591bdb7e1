package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arena/internal/pipeline"
)

const maxOutputLines = 6

type eventMsg pipeline.Event

type outputMsg string

type finishedMsg struct {
	err error
}

type stageRow struct {
	stage   pipeline.Stage
	state   pipeline.State
	message string
}

type progressModel struct {
	rows     []stageRow
	index    map[pipeline.Stage]int
	spinner  spinner.Model
	palette  palette
	runID    string
	warnings []string
	output   []string
	cancel   context.CancelFunc
	stopping bool
	finished bool
	err      error
}

func newProgressModel(r *lipgloss.Renderer, cancel context.CancelFunc) progressModel {
	rows := make([]stageRow, len(pipeline.Stages))
	index := make(map[pipeline.Stage]int, len(pipeline.Stages))
	for i, stage := range pipeline.Stages {
		rows[i] = stageRow{stage: stage}
		index[stage] = i
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	pal := newPalette(r)
	s.Style = pal.running
	return progressModel{rows: rows, index: index, spinner: s, palette: pal, cancel: cancel}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(pipeline.Event(msg))
		return m, nil
	case outputMsg:
		m.output = append(m.output, strings.TrimSpace(string(msg)))
		if len(m.output) > maxOutputLines {
			m.output = m.output[len(m.output)-maxOutputLines:]
		}
		return m, nil
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) apply(e pipeline.Event) {
	i, ok := m.index[e.Stage]
	if !ok {
		return
	}
	row := &m.rows[i]
	if e.Stage == pipeline.StageTournament && e.State == pipeline.StateRunning {
		m.runID = e.Message
	}
	if e.State == pipeline.StateWarning {
		m.warnings = append(m.warnings, friendlyLabel(string(e.Stage))+": "+firstLine(e.Message))
		if row.state == pipeline.StateRunning {
			return
		}
	}
	row.state = e.State
	row.message = firstLine(e.Message)
}

func (m progressModel) View() string {
	title := "arena tournament"
	if m.runID != "" {
		title += " · " + m.runID
	}
	lines := []string{m.palette.title.Render(title), ""}
	for _, row := range m.rows {
		icon := stateIcon(row.state)
		if row.state == pipeline.StateRunning {
			icon = m.spinner.View()
		}
		style := m.palette.forState(row.state)
		label := fmt.Sprintf("%-11s", friendlyLabel(string(row.stage)))
		line := fmt.Sprintf("%s %s", style.Render(icon), style.Render(label))
		if row.message != "" {
			line += "  " + m.palette.detail.Render(row.message)
		}
		lines = append(lines, line)
	}
	if len(m.output) > 0 {
		lines = append(lines, "")
		for _, out := range m.output {
			lines = append(lines, m.palette.detail.Render("  │ "+out))
		}
	}
	if len(m.warnings) > 0 {
		lines = append(lines, "")
		for _, w := range m.warnings {
			lines = append(lines, m.palette.warning.Render("! "+w))
		}
	}
	footer := "ctrl+c=stop (services are still torn down)"
	if m.stopping {
		footer = "stopping, waiting for teardown…"
	}
	if m.finished {
		footer = ""
	}
	lines = append(lines, "", m.palette.detail.Render(footer))
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Progress runs the stage list as a bubbletea program.
type Progress struct {
	program *tea.Program
	done    chan error
}

// NewProgress prepares a progress view on out. cancel is called when the
// user asks to stop.
func NewProgress(in io.Reader, out io.Writer, cancel context.CancelFunc) *Progress {
	model := newProgressModel(lipgloss.NewRenderer(out), cancel)
	program := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithoutSignalHandler())
	return &Progress{program: program, done: make(chan error, 1)}
}

// Start runs the program in the background.
func (p *Progress) Start() {
	go func() {
		_, err := p.program.Run()
		p.done <- err
	}()
}

// Observe implements pipeline.Observer.
func (p *Progress) Observe(e pipeline.Event) {
	p.program.Send(eventMsg(e))
}

// Stream returns a writer that shows the tail of external process output.
func (p *Progress) Stream() io.Writer {
	return writerFunc(func(b []byte) (int, error) {
		for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
			if strings.TrimSpace(line) != "" {
				p.program.Send(outputMsg(line))
			}
		}
		return len(b), nil
	})
}

// Finish stops the program and waits for it to restore the terminal.
func (p *Progress) Finish(err error) error {
	p.program.Send(finishedMsg{err: err})
	return <-p.done
}
