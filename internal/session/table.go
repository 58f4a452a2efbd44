// Package session tracks per-connection metadata for the event loop.
package session

import (
	"sort"
	"sync"
	"time"
)

// Protocol is the classification of a connection, fixed by its first payload.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolRaw
	ProtocolHTTP
	ProtocolWebSocket
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUnknown:
		return "unknown"
	case ProtocolRaw:
		return "raw"
	case ProtocolHTTP:
		return "http"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return "invalid"
	}
}

// WSState is the close-handshake state of a WebSocket session.
type WSState int

const (
	WSNone WSState = iota
	WSOpen
	WSClosing
	WSClosed
)

// Session is the metadata of one open connection handle.
type Session struct {
	Handle       int
	PeerIP       string
	PeerPort     int
	Protocol     Protocol
	ConnectTime  time.Time
	TotalBytes   uint64
	MessageCount uint64
	WSState      WSState
	// Pending holds received bytes that do not yet form a whole request or frame.
	Pending []byte
}

// Unknown is returned by Get for handles that are not in the table.
var Unknown = Session{Handle: -1, PeerIP: "unknown", Protocol: ProtocolUnknown}

// IsUnknown reports whether s is the sentinel returned for a missing handle.
func (s Session) IsUnknown() bool {
	return s.Handle == -1
}

// Table maps connection handles to sessions. All methods are safe for
// concurrent use and are serialized by one mutex; callbacks passed to Apply
// run under that mutex and must not block.
type Table struct {
	mu       sync.Mutex
	sessions map[int]Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[int]Session)}
}

// Add inserts or replaces the session for s.Handle.
func (t *Table) Add(s Session) {
	t.mu.Lock()
	t.sessions[s.Handle] = s
	t.mu.Unlock()
}

// Remove deletes the session for handle. Missing handles are ignored.
func (t *Table) Remove(handle int) {
	t.mu.Lock()
	delete(t.sessions, handle)
	t.mu.Unlock()
}

// Get returns a copy of the session, or Unknown when absent.
func (t *Table) Get(handle int) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[handle]
	if !ok {
		return Unknown
	}
	return s
}

// Update replaces an existing session. It reports false when the handle is
// no longer in the table, so a late update cannot resurrect a closed session.
func (t *Table) Update(s Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[s.Handle]; !ok {
		return false
	}
	t.sessions[s.Handle] = s
	return true
}

// Apply mutates the session for handle in place and returns the result.
// The second return value is false when the handle is absent.
func (t *Table) Apply(handle int, fn func(*Session)) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[handle]
	if !ok {
		return Unknown, false
	}
	fn(&s)
	t.sessions[handle] = s
	return s, true
}

func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CountBy returns the number of sessions with the given classification.
func (t *Table) CountBy(p Protocol) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.sessions {
		if s.Protocol == p {
			n++
		}
	}
	return n
}

// Handles returns the sorted handles of sessions with the given classification.
func (t *Table) Handles(p Protocol) []int {
	t.mu.Lock()
	handles := make([]int, 0, len(t.sessions))
	for h, s := range t.sessions {
		if s.Protocol == p && (p != ProtocolWebSocket || s.WSState == WSOpen) {
			handles = append(handles, h)
		}
	}
	t.mu.Unlock()
	sort.Ints(handles)
	return handles
}
