// Package progress implements a terminal progress renderer: a live
// spinner-and-bar bubbletea program when stdout is a TTY, and a quiet
// line-per-update fallback otherwise (piped output, CI logs).
package progress

import (
	"fmt"
	"io"
	"sync"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Renderer receives phase transitions and per-file progress updates.
type Renderer interface {
	Update(percentComplete float64, message string)
	Complete(summary string)
}

// New builds a Renderer writing to w. isTTY is detected from w when w is an
// *os.File; callers writing to a non-file io.Writer should construct a
// plainRenderer directly via NewPlain.
func New(w io.Writer) Renderer {
	if f, ok := w.(fdHolder); ok && isatty.IsTerminal(f.Fd()) {
		return newTTYRenderer(w)
	}
	return &plainRenderer{w: w}
}

// NewPlain always renders one line per update, regardless of terminal.
func NewPlain(w io.Writer) Renderer {
	return &plainRenderer{w: w}
}

type fdHolder interface {
	Fd() uintptr
}

// ttyRenderer drives a bubbletea program that renders a lime progress bar
// and spinner in place, the same look the teacher's indexingModel uses for
// its TUI, cut down to the one bar this renderer's two-method interface can
// actually feed. The program is started lazily on the first Update so a
// Renderer built but never driven (e.g. an empty indexing run) never opens
// a program at all.
type ttyRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	program *tea.Program
	started bool
	done    chan struct{}
}

func newTTYRenderer(w io.Writer) *ttyRenderer {
	return &ttyRenderer{w: w}
}

func (r *ttyRenderer) ensureStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.done = make(chan struct{})

	m := newProgressModel()
	r.program = tea.NewProgram(m, tea.WithOutput(r.w), tea.WithoutInput())
	go func() {
		_, _ = r.program.Run()
		close(r.done)
	}()
}

func (r *ttyRenderer) Update(percentComplete float64, message string) {
	r.ensureStarted()
	r.program.Send(progressMsg{percent: percentComplete, message: message})
}

func (r *ttyRenderer) Complete(summary string) {
	r.ensureStarted()
	r.program.Send(completeMsg{summary: summary})
	<-r.done
}

const (
	colorLime     = "154"
	colorDarkGray = "238"
)

// progressModel is a bubbletea model rendering a single lime progress bar
// with spinner and message line, the same palette as the interactive index
// TUI but reduced to the single percent/message stream this renderer's
// Renderer interface actually carries.
type progressModel struct {
	bar      bprogress.Model
	spinner  spinner.Model
	percent  float64
	message  string
	done     bool
	summary  string
	barStyle lipgloss.Style
	dimStyle lipgloss.Style
}

type progressMsg struct {
	percent float64
	message string
}

type completeMsg struct {
	summary string
}

func newProgressModel() progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLime))

	b := bprogress.New(
		bprogress.WithSolidFill(colorLime),
		bprogress.WithWidth(40),
		bprogress.WithoutPercentage(),
	)

	return progressModel{
		bar:      b,
		spinner:  s,
		barStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorLime)),
		dimStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.percent = msg.percent
		m.message = msg.message
		return m, nil
	case completeMsg:
		m.done = true
		m.summary = msg.summary
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return m.summary + "\n"
	}
	pct := m.percent / 100
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	bar := m.bar.ViewAs(pct)
	pctStr := m.barStyle.Render(fmt.Sprintf("%5.1f%%", m.percent))
	return fmt.Sprintf("%s %s %s  %s", m.spinner.View(), bar, pctStr, m.dimStyle.Render(m.message))
}

type plainRenderer struct {
	w io.Writer
}

func (r *plainRenderer) Update(percentComplete float64, message string) {
	fmt.Fprintf(r.w, "[%5.1f%%] %s\n", percentComplete, message)
}

func (r *plainRenderer) Complete(summary string) {
	fmt.Fprintln(r.w, summary)
}
