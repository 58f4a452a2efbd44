package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/store"
)

func update(t *testing.T, m WatchModel, msgs ...tea.Msg) WatchModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(WatchModel)
	}
	return m
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func logMsg(level entry.Level, msg string) LogMsg {
	return LogMsg{Type: entry.TypeLogUpdate, Level: level, Message: msg, Timestamp: "2024-01-02 03:04:05"}
}

func newTestModel() WatchModel {
	m := NewWatchModel("Live view", "ws://127.0.0.1:8080/ws", make(chan tea.Msg), entry.LevelInfo)
	return m
}

func TestWatchModelFiltersByLevel(t *testing.T) {
	m := update(t, newTestModel(),
		tea.WindowSizeMsg{Width: 100, Height: 30},
		logMsg(entry.LevelDebug, "noise"),
		logMsg(entry.LevelInfo, "started"),
		logMsg(entry.LevelError, "failed"),
	)
	if got := len(m.Visible()); got != 2 {
		t.Fatalf("Visible() = %d entries, want 2", got)
	}

	m = update(t, m, keyPress("+"), keyPress("+"))
	if m.MinLevel != entry.LevelError {
		t.Fatalf("MinLevel = %v, want ERROR", m.MinLevel)
	}
	if got := m.Visible(); len(got) != 1 || got[0].Message != "failed" {
		t.Errorf("Visible() = %+v", got)
	}

	m = update(t, m, keyPress("-"), keyPress("-"), keyPress("-"), keyPress("-"), keyPress("-"))
	if m.MinLevel != entry.LevelTrace {
		t.Errorf("MinLevel = %v, want TRACE", m.MinLevel)
	}
	if got := len(m.Visible()); got != 3 {
		t.Errorf("Visible() = %d entries, want 3", got)
	}
	if !strings.Contains(m.View(), "noise") {
		t.Error("View() does not show the lowered level entry")
	}
}

func TestWatchModelPause(t *testing.T) {
	m := update(t, newTestModel(),
		tea.WindowSizeMsg{Width: 100, Height: 30},
		keyPress("p"),
		logMsg(entry.LevelInfo, "while paused"),
		logMsg(entry.LevelDebug, "hidden"),
	)
	if !m.Paused() {
		t.Fatal("model should be paused")
	}
	if m.Missed() != 1 {
		t.Errorf("Missed() = %d, want 1", m.Missed())
	}
	if strings.Contains(m.View(), "while paused") {
		t.Error("paused view should not show new entries")
	}

	m = update(t, m, keyPress("p"))
	if m.Paused() || m.Missed() != 0 {
		t.Errorf("after resume paused=%v missed=%d", m.Paused(), m.Missed())
	}
	if !strings.Contains(m.View(), "while paused") {
		t.Error("resumed view should show buffered entries")
	}
}

func TestWatchModelCapsLines(t *testing.T) {
	m := newTestModel()
	m.MaxLines = 3
	for i := 0; i < 5; i++ {
		m = update(t, m, logMsg(entry.LevelInfo, string(rune('a'+i))))
	}
	got := m.Visible()
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("Visible() = %+v, want c..e", got)
	}

	m = update(t, m, keyPress("c"))
	if len(m.Visible()) != 0 {
		t.Error("clear should drop every entry")
	}
}

func TestWatchModelStatusAndStats(t *testing.T) {
	m := newTestModel()
	if m.State() != StateConnecting {
		t.Fatalf("initial State() = %v", m.State())
	}
	if !strings.Contains(m.View(), "Connecting") {
		t.Error("initial view should show the connecting spinner")
	}

	stats := store.Stats{TotalLogs: 7, WarningCount: 2, ErrorCount: 1, ClientCount: 3}
	m = update(t, m,
		tea.WindowSizeMsg{Width: 120, Height: 30},
		StatusMsg{State: StateConnected},
		StatsMsg(stats),
	)
	if m.State() != StateConnected || m.Stats() != stats {
		t.Fatalf("State() = %v Stats() = %+v", m.State(), m.Stats())
	}
	if !strings.Contains(m.View(), "total 7") {
		t.Error("status bar missing counters")
	}

	next, cmd := m.Update(StatusMsg{State: StateDisconnected, Err: errors.New("connection reset")})
	m = next.(WatchModel)
	if cmd != nil {
		t.Error("a disconnected model should stop reading events")
	}
	if !strings.Contains(m.View(), "connection reset") {
		t.Error("view should show the disconnect reason")
	}
}

func TestWatchModelQuit(t *testing.T) {
	_, cmd := newTestModel().Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}

func TestWaitForEventClosedChannel(t *testing.T) {
	events := make(chan tea.Msg)
	close(events)
	msg := waitForEvent(events)()
	if got, ok := msg.(StatusMsg); !ok || got.State != StateDisconnected {
		t.Errorf("waitForEvent() = %#v, want disconnected status", msg)
	}
}
