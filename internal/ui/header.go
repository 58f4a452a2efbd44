package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner printed before a command's output.
type Header struct {
	Title  string            // e.g., "LIVE VIEW"
	Target string            // e.g., "ws://10.0.0.2:8080/ws"
	Params map[string]string // e.g., {"Min level": "WARNING"}
	Width  int               // Terminal width for responsive rendering
}

// NewHeader creates a new header with the given values
func NewHeader(title, target string, params map[string]string) *Header {
	return &Header{
		Title:  title,
		Target: target,
		Params: params,
		Width:  min(GetTerminalWidth(), MaxContentWidth),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	targetLine := HeaderCommandStyle.Render(h.Target)
	topSection := lipgloss.JoinVertical(lipgloss.Left, titleLine, targetLine)

	content := topSection
	if len(h.Params) > 0 {
		divider := RenderHorizontalDivider(max(width-6, 10), "─")
		content = lipgloss.JoinVertical(lipgloss.Left, topSection, divider, h.renderParams())
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2). // Account for border characters
		Render(content)
}

// renderParams lists the parameters sorted by key.
func (h *Header) renderParams() string {
	keys := make([]string, 0, len(h.Params))
	for k := range h.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, HeaderParamKeyStyle.Render(k+":")+" "+HeaderParamValueStyle.Render(h.Params[k]))
	}
	return strings.Join(lines, "\n")
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
