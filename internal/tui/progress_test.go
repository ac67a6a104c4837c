package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelFinishedOnlyAfterVerdict(t *testing.T) {
	m := NewModel("Imaging /dev/sdb", 0)
	if m.Finished() {
		t.Fatal("fresh model must not report finished")
	}

	next, _ := m.Update(ProgressMsg(1024))
	m = next.(Model)
	if m.Finished() {
		t.Fatal("progress alone must not finish the display")
	}

	next, cmd := m.Update(DoneMsg{Success: true, Message: "imaging completed successfully"})
	m = next.(Model)
	if !m.Finished() {
		t.Fatal("a job verdict must finish the display")
	}
	if cmd == nil {
		t.Fatal("verdict should quit the program")
	}
}

func TestModelCtrlCAbortsWithoutVerdict(t *testing.T) {
	m := NewModel("Imaging /dev/sdb", 0)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)

	if m.Finished() {
		t.Fatal("ctrl+c must not count as a job verdict; the caller owes a cancellation")
	}
	if cmd == nil {
		t.Fatal("ctrl+c should quit the program")
	}
	if !strings.Contains(m.View(), "cancelling") {
		t.Fatalf("view should show the pending cancel, got %q", m.View())
	}
}

func TestModelProgressNeverMovesBackward(t *testing.T) {
	m := NewModel("Imaging /dev/sdb", 2048)
	for _, n := range []int64{512, 1024, 768} {
		next, _ := m.Update(ProgressMsg(n))
		m = next.(Model)
	}
	if m.current != 1024 {
		t.Fatalf("stale progress must not lower the counter, got %d", m.current)
	}
}
