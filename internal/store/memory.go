package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/muurk/logrelay/internal/entry"
)

type memRow struct {
	id   int64
	at   time.Time
	data entry.Entry
}

// Memory keeps rows in process memory. Rows are lost on exit.
type Memory struct {
	mu     sync.Mutex
	rows   []memRow
	nextID int64
	open   int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Prepare(context.Context, int) error {
	return nil
}

func (m *Memory) Dial(context.Context) (Conn, error) {
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	return &memConn{m: m}, nil
}

func (m *Memory) Close() error {
	return nil
}

// Open returns the number of connections dialed and not yet closed.
func (m *Memory) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memConn struct {
	m      *Memory
	closed bool
}

func (c *memConn) Insert(_ context.Context, e entry.Entry) error {
	at := e.Time()
	if at.IsZero() {
		at = time.Now()
	}
	c.m.mu.Lock()
	c.m.nextID++
	c.m.rows = append(c.m.rows, memRow{id: c.m.nextID, at: at, data: e})
	c.m.mu.Unlock()
	return nil
}

func matches(levels []entry.Level, l entry.Level) bool {
	if len(levels) == 0 {
		return true
	}
	for _, want := range levels {
		if want == l {
			return true
		}
	}
	return false
}

func (c *memConn) Query(_ context.Context, q Query) ([]entry.Entry, error) {
	q = normalize(q)

	c.m.mu.Lock()
	selected := make([]memRow, 0, len(c.m.rows))
	for _, r := range c.m.rows {
		if matches(q.Levels, r.data.Level) {
			selected = append(selected, r)
		}
	}
	c.m.mu.Unlock()

	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].at.Equal(selected[j].at) {
			return selected[i].at.After(selected[j].at)
		}
		return selected[i].id > selected[j].id
	})

	if q.Offset >= len(selected) {
		return nil, nil
	}
	selected = selected[q.Offset:]
	if len(selected) > q.Limit {
		selected = selected[:q.Limit]
	}
	out := make([]entry.Entry, len(selected))
	for i, r := range selected {
		out[i] = r.data
	}
	return out, nil
}

func (c *memConn) Count(_ context.Context, levels ...entry.Level) (int64, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var n int64
	for _, r := range c.m.rows {
		if matches(levels, r.data.Level) {
			n++
		}
	}
	return n, nil
}

func (c *memConn) Close() error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.m.open--
	}
	return nil
}
