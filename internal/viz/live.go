package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/kinfit/internal/fit"
)

const (
	historyCapacity = 200
	maxParamLines   = 12
)

var (
	statsStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2)
	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// ProgressMsg carries one iteration report into the view.
type ProgressMsg fit.Progress

type doneMsg struct {
	res *fit.Result
	err error
}

// LiveModel follows a running fit: iteration counters, a log10 chi-square
// history and the current free parameter values.
type LiveModel struct {
	title      string
	start      time.Time
	last       fit.Progress
	history    []float64
	cancel     context.CancelFunc
	cancelling bool
	done       bool
	res        *fit.Result
	err        error
}

func NewLiveModel(title string, cancel context.CancelFunc) LiveModel {
	return LiveModel{
		title:   title,
		start:   time.Now(),
		history: make([]float64, 0, historyCapacity),
		cancel:  cancel,
	}
}

func (m LiveModel) Init() tea.Cmd { return nil }

// Update records progress and quits once the fit has returned.
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil && !m.cancelling {
				m.cancel()
			}
			m.cancelling = true
		}
	case ProgressMsg:
		m.last = fit.Progress(msg)
		if len(m.history) == historyCapacity {
			m.history = m.history[1:]
		}
		m.history = append(m.history, math.Log10(math.Max(msg.ChiSquare, 1e-300)))
	case doneMsg:
		m.done, m.res, m.err = true, msg.res, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m LiveModel) View() string {
	var s strings.Builder
	s.WriteString(Title.Render(strings.ToUpper(m.title)) + "\n")

	status := "RUNNING"
	switch {
	case m.done && m.res != nil:
		status = strings.ToUpper(m.res.Status.String())
	case m.done:
		status = "FAILED"
	case m.cancelling:
		status = "CANCELLING"
	}
	s.WriteString(StatusStyle(strings.ToLower(status)).Render(status) + "\n\n")

	if len(m.history) > 1 {
		chart := asciigraph.Plot(m.history, asciigraph.Height(6), asciigraph.Width(50), asciigraph.Caption("log10 chi-square"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	s.WriteString(Metric("iteration", fmt.Sprint(m.last.Iteration)) + "\n")
	s.WriteString(Metric("evaluations", fmt.Sprint(m.last.Evaluations)) + "\n")
	s.WriteString(Metric("chi-square", fmt.Sprintf("%.6g", m.last.ChiSquare)) + "\n")
	if m.last.Lambda > 0 {
		s.WriteString(Metric("lambda", fmt.Sprintf("%.3g", m.last.Lambda)) + "\n")
	}
	s.WriteString(Metric("elapsed", time.Since(m.start).Round(time.Millisecond).String()) + "\n")

	s.WriteString("\nPARAMETERS\n")
	for i, name := range m.last.Free {
		if i == maxParamLines {
			s.WriteString(Subtle.Render(fmt.Sprintf("  ... %d more", len(m.last.Free)-i)) + "\n")
			break
		}
		s.WriteString("  " + Metric(name, fmt.Sprintf("%.6g", m.last.Values[i])) + "\n")
	}
	s.WriteString(helpStyle.Render("Q: cancel"))
	return statsStyle.Render(s.String()) + "\n"
}

// Result returns the fit outcome once the view has finished.
func (m LiveModel) Result() (*fit.Result, error) { return m.res, m.err }

// RunLive runs fn in the background and renders its progress until it
// returns. fn must pass the observer to the fitter it runs.
func RunLive(ctx context.Context, title string, fn func(ctx context.Context, observer func(fit.Progress)) (*fit.Result, error)) (*fit.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewLiveModel(title, cancel))
	go func() {
		res, err := fn(ctx, func(pr fit.Progress) { p.Send(ProgressMsg(pr)) })
		p.Send(doneMsg{res: res, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(LiveModel).Result()
}
