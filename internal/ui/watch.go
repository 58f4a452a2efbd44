package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/store"
)

// DefaultMaxLines is how many entries the live view keeps.
const DefaultMaxLines = 2000

// watchKeyMap defines key bindings for the live view
type watchKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding
	Pause  key.Binding
	Clear  key.Binding
	Raise  key.Binding
	Lower  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Raise, k.Lower, k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom},
		{k.Pause, k.Clear, k.Raise, k.Lower},
		{k.Help, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "oldest"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "follow"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
		Raise: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "raise level"),
		),
		Lower: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "lower level"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// WatchModel is the live log view. Server messages arrive on Events and are
// read one at a time so the program never blocks the reader.
type WatchModel struct {
	Title  string
	Target string
	Events <-chan tea.Msg

	// MinLevel hides entries below it. Entries are kept and reappear when
	// the level is lowered.
	MinLevel entry.Level
	MaxLines int

	entries []entry.Wire
	stats   store.Stats
	state   ConnState
	lastErr error
	paused  bool
	// missed counts entries that arrived while paused
	missed int

	ready    bool
	width    int
	height   int
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keys     watchKeyMap
}

// NewWatchModel creates a live view fed from events.
func NewWatchModel(title, target string, events <-chan tea.Msg, minLevel entry.Level) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return WatchModel{
		Title:    title,
		Target:   target,
		Events:   events,
		MinLevel: minLevel,
		MaxLines: DefaultMaxLines,
		state:    StateConnecting,
		spinner:  s,
		help:     help.New(),
		keys:     newWatchKeyMap(),
	}
}

// waitForEvent reads the next server message. A closed channel means the
// connection is gone for good.
func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return StatusMsg{State: StateDisconnected}
		}
		return msg
	}
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.Events))
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		bodyHeight := max(m.height-m.chromeHeight(), 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = bodyHeight
		}
		m.help.Width = m.width
		m.refresh(true)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			if !m.paused {
				m.missed = 0
				m.refresh(true)
			}
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.entries = nil
			m.missed = 0
			m.refresh(true)
			return m, nil
		case key.Matches(msg, m.keys.Raise):
			if m.MinLevel < entry.LevelFatal {
				m.MinLevel++
				m.refresh(true)
			}
			return m, nil
		case key.Matches(msg, m.keys.Lower):
			if m.MinLevel > entry.LevelTrace {
				m.MinLevel--
				m.refresh(true)
			}
			return m, nil
		case key.Matches(msg, m.keys.Top):
			m.viewport.GotoTop()
			return m, nil
		case key.Matches(msg, m.keys.Bottom):
			m.viewport.GotoBottom()
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			if m.ready {
				m.viewport.Height = max(m.height-m.chromeHeight(), 1)
			}
			return m, nil
		}

	case LogMsg:
		m.add(entry.Wire(msg))
		return m, waitForEvent(m.Events)

	case StatsMsg:
		m.stats = store.Stats(msg)
		return m, waitForEvent(m.Events)

	case ReplyMsg:
		if msg.Status == "error" {
			m.lastErr = fmt.Errorf("server: %s", msg.Message)
		}
		return m, waitForEvent(m.Events)

	case StatusMsg:
		m.state = msg.State
		if msg.Err != nil {
			m.lastErr = msg.Err
		}
		if m.state == StateDisconnected {
			return m, nil
		}
		return m, waitForEvent(m.Events)

	case spinner.TickMsg:
		if m.state != StateConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// add stores an entry, dropping the oldest beyond MaxLines.
func (m *WatchModel) add(w entry.Wire) {
	m.entries = append(m.entries, w)
	if m.MaxLines > 0 && len(m.entries) > m.MaxLines {
		drop := len(m.entries) - m.MaxLines
		m.entries = append(m.entries[:0:0], m.entries[drop:]...)
	}
	if m.paused {
		if w.Level >= m.MinLevel {
			m.missed++
		}
		return
	}
	m.refresh(m.viewport.AtBottom())
}

// Visible returns the stored entries at or above MinLevel.
func (m WatchModel) Visible() []entry.Wire {
	var out []entry.Wire
	for _, w := range m.entries {
		if w.Level >= m.MinLevel {
			out = append(out, w)
		}
	}
	return out
}

// Paused reports whether the view is frozen.
func (m WatchModel) Paused() bool { return m.paused }

// State returns the connection state last reported.
func (m WatchModel) State() ConnState { return m.state }

// Stats returns the counters of the last stats_update.
func (m WatchModel) Stats() store.Stats { return m.stats }

// Missed returns how many visible entries arrived while paused.
func (m WatchModel) Missed() int { return m.missed }

func (m *WatchModel) refresh(follow bool) {
	if !m.ready {
		return
	}
	visible := m.Visible()
	lines := make([]string, len(visible))
	for i, w := range visible {
		lines[i] = FormatLine(w)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

// chromeHeight is the number of rows used by everything but the log body.
func (m WatchModel) chromeHeight() int {
	return lipgloss.Height(m.renderTitle()) + 1 + lipgloss.Height(m.help.View(m.keys))
}

// View implements tea.Model
func (m WatchModel) View() string {
	if !m.ready {
		return m.spinner.View() + " Connecting to " + m.Target + "..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTitle(),
		m.viewport.View(),
		m.renderStatusBar(),
		m.help.View(m.keys),
	)
}

func (m WatchModel) renderTitle() string {
	title := HeaderTitleStyle.Render(strings.ToUpper(m.Title))
	target := HeaderCommandStyle.Render(m.Target)
	return lipgloss.JoinHorizontal(lipgloss.Top, title, target)
}

func (m WatchModel) renderStatusBar() string {
	var state string
	switch m.state {
	case StateConnecting:
		state = m.spinner.View() + " connecting"
	case StateConnected:
		state = lipgloss.NewStyle().Foreground(SuccessColor).Render(SuccessMarker + " connected")
	default:
		state = lipgloss.NewStyle().Foreground(ErrorColor).Render(FailureMarker + " disconnected")
	}

	counters := fmt.Sprintf("total %d  warn %d  err %d  viewers %d  level ≥ %s",
		m.stats.TotalLogs, m.stats.WarningCount, m.stats.ErrorCount, m.stats.ClientCount, m.MinLevel)
	bar := StatusBarStyle.Width(max(m.width, 1)).Render(state + "  " + counters)

	if m.paused {
		bar = PausedStyle.Render(fmt.Sprintf("PAUSED +%d", m.missed)) + bar
	}
	if m.lastErr != nil {
		bar = lipgloss.JoinVertical(lipgloss.Left, bar, ErrorMessageStyle.Render(m.lastErr.Error()))
	}
	return bar
}

// RunWatch runs the live view until the user quits.
func RunWatch(m WatchModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
