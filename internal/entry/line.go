package entry

import (
	"regexp"
	"strings"
)

var (
	levelRe  = regexp.MustCompile(`\[([A-Za-z]+)\]`)
	sourceRe = regexp.MustCompile(`^\s*<([^>]*)>`)
	atRe     = regexp.MustCompile(`^\s*at\s+(\d{4}-\d{2}-\d{2}\s\d{2}:\d{2}:\d{2})`)
	// wholeTailRe matches what may follow the message of a finished line.
	wholeTailRe = regexp.MustCompile(`^\s*(\[[A-Za-z]+\])?\s*(at\s+\d{4}-\d{2}-\d{2}\s\d{2}:\d{2}:\d{2})?\s*$`)
)

// Line is a raw TCP log line split into its sections.
//
// Producers write `[LEVEL]{message}`. The two sections may come in either
// order. File-tailing producers may also prefix `<source>` and append
// `at YYYY-MM-DD HH:MM:SS`.
type Line struct {
	Source    string
	Level     Level
	Message   string
	Timestamp string
}

// ParseLine extracts the level and message from one raw line. The message is
// everything between the first '{' and the last '}', so it may itself contain
// brackets and braces.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")

	open := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if open < 0 || end < open {
		return Line{}, ErrNoMessage
	}

	var l Line
	l.Message = raw[open+1 : end]

	outside := raw[:open] + raw[end+1:]
	m := levelRe.FindStringSubmatch(outside)
	if m == nil {
		return Line{}, ErrNoLevel
	}
	level, err := ParseLevel(m[1])
	if err != nil {
		return Line{}, err
	}
	l.Level = level

	if s := sourceRe.FindStringSubmatch(raw[:open]); s != nil {
		l.Source = s[1]
	}
	if ts := atRe.FindStringSubmatch(raw[end+1:]); ts != nil {
		l.Timestamp = ts[1]
	}
	return l, nil
}

// Whole reports whether raw, received without a newline, is already a
// finished line: it parses and nothing after the message is a partial level
// or timestamp.
func Whole(raw string) bool {
	if _, err := ParseLine(raw); err != nil {
		return false
	}
	return wholeTailRe.MatchString(raw[strings.LastIndexByte(raw, '}')+1:])
}

// Entry attributes the line to a peer. A line without its own timestamp gets
// the given fallback.
func (l Line) Entry(ip string, port int, fallback string) Entry {
	ts := l.Timestamp
	if ts == "" {
		ts = fallback
	}
	return Entry{
		Level:      l.Level,
		SourceIP:   ip,
		SourcePort: port,
		Message:    l.Message,
		Timestamp:  ts,
	}
}

// Format renders a line in the form ParseLine accepts.
func Format(level Level, message string) string {
	return "[" + level.String() + "]{" + message + "}"
}
