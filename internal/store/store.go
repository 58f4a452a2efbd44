// Package store persists log entries and hands out store connections through
// a bounded pool.
//
// A Dialer knows one storage backend: it creates the database and schema
// (Prepare) and opens connections (Dial). Pool sits on top and gates checkout
// with a counting semaphore, so at most size connections are ever in use.
// Two backends exist: MySQL for deployments and Memory for development and
// tests.
package store

import (
	"context"
	"errors"

	"github.com/muurk/logrelay/internal/entry"
)

var (
	// ErrPoolExhausted is returned by TryAcquire when every connection is checked out.
	// Callers treat it like a persistence failure.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrPoolClosed    = errors.New("connection pool destroyed")
	// ErrPersistence wraps every failure to write or read the store.
	ErrPersistence = errors.New("persistence failure")
)

// DefaultLimit is used by queries that do not set a limit.
const DefaultLimit = 100

// Query selects rows newest first.
type Query struct {
	Limit  int
	Offset int
	// Levels restricts the result when non-empty.
	Levels []entry.Level
}

// Conn is one connection to the store. A Conn is used by one goroutine at a time.
type Conn interface {
	Insert(ctx context.Context, e entry.Entry) error
	Query(ctx context.Context, q Query) ([]entry.Entry, error)
	// Count returns the number of stored rows, restricted to levels when given.
	Count(ctx context.Context, levels ...entry.Level) (int64, error)
	Close() error
}

// Dialer is a storage backend.
type Dialer interface {
	// Prepare creates the database and schema if absent and sizes the backend
	// for size concurrent connections.
	Prepare(ctx context.Context, size int) error
	Dial(ctx context.Context) (Conn, error)
	// Close releases backend resources after every Conn has been closed.
	Close() error
}

// Stats is the summary served by the stats endpoint.
type Stats struct {
	TotalLogs    int64 `json:"totalLogs"`
	WarningCount int64 `json:"warningCount"`
	ErrorCount   int64 `json:"errorCount"`
	ClientCount  int   `json:"clientCount"`
}

// ReadStats fills the store counters of Stats. Errors count ERROR and FATAL.
func ReadStats(ctx context.Context, c Conn) (Stats, error) {
	var s Stats
	var err error
	if s.TotalLogs, err = c.Count(ctx); err != nil {
		return s, err
	}
	if s.WarningCount, err = c.Count(ctx, entry.LevelWarning); err != nil {
		return s, err
	}
	if s.ErrorCount, err = c.Count(ctx, entry.LevelError, entry.LevelFatal); err != nil {
		return s, err
	}
	return s, nil
}

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
