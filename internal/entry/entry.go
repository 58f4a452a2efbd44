// Package entry defines the log entry that flows from producers to the store
// and viewers, its severity levels and the raw TCP line format.
package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TimeLayout is the timestamp format used on the wire, in the text logs and in
// raw TCP acknowledgements.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrUnknownLevel = errors.New("unknown log level")
	ErrNoLevel      = errors.New("no [LEVEL] section")
	ErrNoMessage    = errors.New("no {message} section")
)

// Entry is one parsed log line on its way to the store and the viewers.
// It is not modified after creation.
type Entry struct {
	Level      Level
	SourceIP   string
	SourcePort int
	Message    string
	// Timestamp is kept as received so viewers see what the producer sent.
	Timestamp string
}

// Time parses Timestamp. The zero time is returned for free-form values.
func (e Entry) Time() time.Time {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, e.Timestamp, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Source returns the producer as ip:port.
func (e Entry) Source() string {
	return net.JoinHostPort(e.SourceIP, strconv.Itoa(e.SourcePort))
}

// Text renders the entry as one plain-text log line.
func (e Entry) Text() string {
	return fmt.Sprintf("[%s] [%s] %s > %s", e.Timestamp, e.Level, e.Source(), e.Message)
}

// Message types pushed to viewers.
const (
	TypeLogUpdate   = "log_update"
	TypeStatsUpdate = "stats_update"
)

// Wire is the JSON shape of an entry exchanged over WebSocket and returned
// by the query API.
type Wire struct {
	Type      string `json:"type,omitempty"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ToWire converts e for the given message type ("" for API rows).
func (e Entry) ToWire(typ string) Wire {
	return Wire{Type: typ, Level: e.Level, Message: e.Message, Timestamp: e.Timestamp}
}

// DecodeWire parses a JSON entry sent by a producer and attributes it to the
// given peer. A missing timestamp is filled with the current time.
func DecodeWire(data []byte, ip string, port int) (Entry, error) {
	var w struct {
		Level     string `json:"level"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Entry{}, fmt.Errorf("failed to decode entry: %w", err)
	}
	if w.Level == "" {
		return Entry{}, ErrNoLevel
	}
	level, err := ParseLevel(w.Level)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Level:      level,
		SourceIP:   ip,
		SourcePort: port,
		Message:    w.Message,
		Timestamp:  w.Timestamp,
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(TimeLayout)
	}
	return e, nil
}
