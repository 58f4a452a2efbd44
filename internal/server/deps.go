package server

import (
	"time"

	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/metrics"
	"github.com/muurk/logrelay/internal/session"
	"github.com/muurk/logrelay/internal/store"
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int
	// WSPath is the only path on which upgrade requests become WebSocket sessions.
	WSPath    string
	StaticDir string
	// LogDir holds log.txt and log.html for the download endpoint.
	LogDir   string
	ServerID string
	// StatsInterval is the period of stats_update pushes. Zero disables them.
	StatsInterval time.Duration
}

const (
	DefaultWSPath        = "/ws"
	DefaultServerID      = "logrelay-01"
	DefaultStatsInterval = 5 * time.Second
)

func (c *Config) withDefaults() *Config {
	out := *c
	if out.WSPath == "" {
		out.WSPath = DefaultWSPath
	}
	if out.ServerID == "" {
		out.ServerID = DefaultServerID
	}
	return &out
}

// Leaser hands out store connections without waiting. *store.Pool implements it.
type Leaser interface {
	TryAcquire() (store.Conn, error)
	Release(store.Conn)
}

// Deps are the shared components injected into the event loop and its
// handlers. Sessions and Ingest are created when nil; Store and Metrics are
// optional.
type Deps struct {
	Sessions *session.Table
	Store    Leaser
	Ingest   *ingest.Pipeline
	Metrics  *metrics.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Sessions == nil {
		d.Sessions = session.NewTable()
	}
	if d.Ingest == nil {
		d.Ingest = &ingest.Pipeline{Metrics: d.Metrics}
	}
	return d
}
