package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logbuf"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
	"github.com/muurk/logrelay/internal/store"
)

const (
	maxQueryLimit = 1000
	queryTimeout  = 3 * time.Second
)

// wsReply answers a producer's WebSocket message.
type wsReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// statsUpdate is the stats push sent to viewers.
type statsUpdate struct {
	Type string `json:"type"`
	store.Stats
}

var wsQueued = mustJSON(wsReply{Status: "ok", Message: "Log queued"})

// api holds the built-in HTTP and WebSocket handlers.
type api struct {
	deps   Deps
	logDir string
}

func (a *api) register(r *Router) {
	r.HandleGet("/api/logs", a.logs)
	r.HandleGet("/api/stats", a.stats)
	r.HandleGet("/api/download-log", a.downloadLog)
	r.HandleMessage(a.message)
}

// logs serves /api/logs?limit=&offset=&level=, newest first.
func (a *api) logs(req *protocol.Request, _ session.Session) *protocol.Response {
	q := store.Query{
		Limit:  req.QueryInt("limit", store.DefaultLimit),
		Offset: req.QueryInt("offset", 0),
	}
	if q.Limit <= 0 {
		q.Limit = store.DefaultLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if lv := req.Query["level"]; lv != "" && !strings.EqualFold(lv, "ALL") {
		level, err := entry.ParseLevel(lv)
		if err != nil {
			return protocol.ErrorResponse(400, err.Error())
		}
		q.Levels = []entry.Level{level}
	}

	var rows []entry.Entry
	err := a.withConn(func(ctx context.Context, c store.Conn) error {
		var err error
		rows, err = c.Query(ctx, q)
		return err
	})
	if err != nil {
		return storeError(err)
	}

	out := make([]entry.Wire, 0, len(rows))
	for _, e := range rows {
		out = append(out, e.ToWire(""))
	}
	return protocol.JSONResponse(200, out)
}

// stats serves /api/stats.
func (a *api) stats(_ *protocol.Request, _ session.Session) *protocol.Response {
	st, err := a.readStats()
	if err != nil {
		return storeError(err)
	}
	return protocol.JSONResponse(200, st)
}

// readStats combines the store counters with the number of open sessions.
// Without a store only the session count is filled in.
func (a *api) readStats() (store.Stats, error) {
	var st store.Stats
	if a.deps.Store != nil {
		err := a.withConn(func(ctx context.Context, c store.Conn) error {
			var err error
			st, err = store.ReadStats(ctx, c)
			return err
		})
		if err != nil {
			return st, err
		}
	}
	st.ClientCount = a.deps.Sessions.Count()
	return st, nil
}

// downloadLog serves /api/download-log?type=txt|html as an attachment.
func (a *api) downloadLog(req *protocol.Request, _ session.Session) *protocol.Response {
	var name string
	switch typ := req.Query["type"]; typ {
	case "", "html":
		name = logbuf.HTMLFile
	case "txt":
		name = logbuf.TextFile
	default:
		return protocol.ErrorResponse(400, "type must be txt or html")
	}

	data, err := os.ReadFile(filepath.Join(a.logDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.ErrorResponse(404, "Log file not found")
	}
	if err != nil {
		logging.Error("Failed to read log file", zap.String("file", name), zap.Error(err))
		return protocol.ErrorResponse(500, "failed to read log file")
	}

	resp := protocol.NewResponse(200)
	resp.Headers["Content-Type"] = protocol.ContentType(name)
	resp.Headers["Content-Disposition"] = `attachment; filename="` + name + `"`
	resp.Body = data
	return resp
}

// message handles a WebSocket data message: "ping" gets "pong", anything
// else must be a JSON entry.
func (a *api) message(sess session.Session, payload []byte) []byte {
	if string(bytes.TrimSpace(payload)) == "ping" {
		return []byte("pong")
	}
	_, err := a.deps.Ingest.WebSocketMessage(sessionAddr(sess), sess.PeerIP, sess.PeerPort, payload)
	if err != nil {
		return mustJSON(wsReply{Status: "error", Message: err.Error()})
	}
	return wsQueued
}

// withConn leases a store connection without waiting, so a busy pool turns
// into an error response instead of a stalled event loop.
func (a *api) withConn(fn func(context.Context, store.Conn) error) error {
	if a.deps.Store == nil {
		return store.ErrPoolClosed
	}
	c, err := a.deps.Store.TryAcquire()
	if err != nil {
		return err
	}
	defer a.deps.Store.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return fn(ctx, c)
}

func storeError(err error) *protocol.Response {
	if errors.Is(err, store.ErrPoolExhausted) || errors.Is(err, store.ErrPoolClosed) {
		return protocol.ErrorResponse(503, "store unavailable")
	}
	logging.Error("Store query failed", zap.Error(err))
	return protocol.ErrorResponse(500, "store query failed")
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func sessionAddr(s session.Session) string {
	return hostPort(s.PeerIP, s.PeerPort)
}

func hostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
