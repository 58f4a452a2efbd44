package ui

import (
	"bytes"
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/store"
)

// LogMsg is a log_update pushed by the server.
type LogMsg entry.Wire

// StatsMsg is a stats_update pushed by the server.
type StatsMsg store.Stats

// ReplyMsg is the server's answer to something the viewer sent.
type ReplyMsg struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConnState is the state of the viewer connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// StatusMsg reports a connection state change. Err is set when the
// connection was lost.
type StatusMsg struct {
	State ConnState
	Err   error
}

// Decode turns a WebSocket text message into a Bubble Tea message. A "pong"
// keepalive answer decodes to nil.
func Decode(data []byte) (tea.Msg, error) {
	data = bytes.TrimSpace(data)
	if string(data) == "pong" {
		return nil, nil
	}

	var envelope struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode server message: %w", err)
	}

	switch envelope.Type {
	case entry.TypeLogUpdate:
		var w entry.Wire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to decode log update: %w", err)
		}
		return LogMsg(w), nil
	case entry.TypeStatsUpdate:
		var s store.Stats
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode stats update: %w", err)
		}
		return StatsMsg(s), nil
	case "":
		if envelope.Status != "" {
			var r ReplyMsg
			if err := json.Unmarshal(data, &r); err != nil {
				return nil, fmt.Errorf("failed to decode reply: %w", err)
			}
			return r, nil
		}
	}
	return nil, fmt.Errorf("unknown server message type %q", envelope.Type)
}

// FormatLine renders one log entry for the live view.
func FormatLine(w entry.Wire) string {
	return TimestampStyle.Render(w.Timestamp) + " " +
		LevelStyle(w.Level).Render(w.Level.String()) + " " +
		w.Message
}
