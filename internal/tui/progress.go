// Package tui renders interactive progress for imaging jobs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	counterStyle = lipgloss.NewStyle().Faint(true)
)

// ProgressMsg carries the latest byte count from the imaging engine.
type ProgressMsg int64

// DoneMsg terminates the display with the job verdict.
type DoneMsg struct {
	Success bool
	Message string
}

// Model is a bubbletea model showing a single imaging job: a ratio bar when
// the source size is known, a plain byte counter otherwise.
type Model struct {
	title   string
	total   int64
	current int64
	bar     progress.Model
	done    bool
	aborted bool
	success bool
	message string
}

// NewModel creates a progress model. total may be zero when the source size
// is unknown.
func NewModel(title string, total int64) Model {
	return Model{
		title: title,
		total: total,
		bar:   progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		if int64(msg) > m.current {
			m.current = int64(msg)
		}
		return m, nil
	case DoneMsg:
		m.done = true
		m.success = msg.Success
		m.message = msg.Message
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.aborted = true
			m.message = "cancelling"
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 8
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	if m.total > 0 {
		ratio := float64(m.current) / float64(m.total)
		if ratio > 1 {
			ratio = 1
		}
		b.WriteString(m.bar.ViewAs(ratio))
		b.WriteString("\n")
		b.WriteString(counterStyle.Render(fmt.Sprintf("%s / %s", humanBytes(m.current), humanBytes(m.total))))
	} else {
		b.WriteString(counterStyle.Render(humanBytes(m.current) + " written"))
	}
	b.WriteString("\n")

	if m.done {
		if m.success {
			b.WriteString(successStyle.Render("✓ " + m.message))
		} else {
			b.WriteString(failureStyle.Render("✗ " + m.message))
		}
		b.WriteString("\n")
	} else if m.aborted {
		b.WriteString(failureStyle.Render(m.message))
		b.WriteString("\n")
	}
	return b.String()
}

// Finished reports whether the display ended with a job verdict. False after
// a user abort, where the caller still owes the engine a cancellation.
func (m Model) Finished() bool { return m.done }

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
