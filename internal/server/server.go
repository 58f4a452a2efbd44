//go:build linux

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
)

// readBufferSize is the size of the loop's single read buffer.
const readBufferSize = 64 * 1024

// Server is the epoll event loop serving raw TCP, HTTP and WebSocket
// clients on one port.
type Server struct {
	config *Config
	deps   Deps
	router *Router
	api    *api

	poller  *poller
	lfd     int
	port    int
	conns   *connSet
	readBuf []byte

	completeMu sync.Mutex
	completed  []completion
	loopClosed bool

	stopping atomic.Bool
	done     chan struct{}
}

// New creates a Server. The listener is not created until Init.
func New(config *Config, deps Deps) *Server {
	cfg := config.withDefaults()
	deps = deps.withDefaults()

	s := &Server{
		config:  cfg,
		deps:    deps,
		router:  NewRouter(cfg.StaticDir),
		api:     &api{deps: deps, logDir: cfg.LogDir},
		lfd:     -1,
		conns:   newConnSet(),
		readBuf: make([]byte, readBufferSize),
		done:    make(chan struct{}),
	}
	s.api.register(s.router)

	deps.Metrics.Gauge("sessions", "Open client sessions.", func() float64 {
		return float64(deps.Sessions.Count())
	})
	deps.Metrics.Gauge("viewers", "Open WebSocket sessions.", func() float64 {
		return float64(deps.Sessions.CountBy(session.ProtocolWebSocket))
	})
	return s
}

// Router returns the router so callers can register more routes before Run.
func (s *Server) Router() *Router {
	return s.router
}

// Sessions returns the session table shared with the handlers.
func (s *Server) Sessions() *session.Table {
	return s.deps.Sessions
}

// Port returns the bound port. It is only meaningful after Init.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port of the listener after Init.
func (s *Server) Addr() string {
	host := s.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return hostPort(host, s.port)
}

// Init creates the listening socket and the epoll instance. Every failure
// is a bind error.
func (s *Server) Init() error {
	fd, port, err := listenSocket(s.config.Host, s.config.Port)
	if err != nil {
		return &Error{Type: ErrTypeBind, Op: "listen", Err: err}
	}
	p, err := newPoller()
	if err != nil {
		_ = unix.Close(fd)
		return &Error{Type: ErrTypeBind, Op: "epoll", Err: err}
	}
	if err := p.add(fd); err != nil {
		_ = unix.Close(fd)
		p.close()
		return &Error{Type: ErrTypeBind, Op: "register listener", Err: err}
	}

	s.lfd, s.port, s.poller = fd, port, p
	logging.Info("Server listening for connections",
		zap.String("addr", s.Addr()),
		zap.String("ws_path", s.config.WSPath),
		zap.String("static_dir", s.config.StaticDir),
		zap.String("server_id", s.config.ServerID),
	)
	return nil
}

// Run blocks dispatching readiness events until Stop is called or the wait
// itself fails. Per-connection errors are logged and never end the loop.
func (s *Server) Run() error {
	if s.poller == nil {
		return errNotInitialized
	}
	defer close(s.done)
	defer s.teardown()

	stopStats := s.startStatsPush()
	defer stopStats()

	for {
		events, err := s.poller.wait()
		if err != nil {
			return &Error{Type: ErrTypePoll, Op: "epoll_wait", Err: err}
		}
		for _, ev := range events {
			fd := int(ev.Fd)
			switch fd {
			case s.poller.wakefd:
				s.poller.drainWake()
				if s.stopping.Load() {
					logging.Info("Event loop stopping")
					return nil
				}
				s.writeCompleted()
			case s.lfd:
				s.acceptAll()
			default:
				s.handleEvent(fd, ev.Events)
			}
		}
	}
}

// Stop wakes the loop and makes Run return. It does not wait; use Done.
func (s *Server) Stop() {
	if s.poller == nil || s.stopping.Swap(true) {
		return
	}
	s.completeMu.Lock()
	defer s.completeMu.Unlock()
	if s.loopClosed {
		return
	}
	if err := s.poller.wake(); err != nil {
		logging.Error("Failed to wake event loop", zap.Error(err))
	}
}

// Done is closed when Run has returned and every connection is closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Serve runs the loop until ctx ends, then stops it and waits for Run to
// return.
func (s *Server) Serve(ctx context.Context) error {
	if s.poller == nil {
		if err := s.Init(); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Run()
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received, stopping server...")
		s.Stop()
		return <-errChan
	case err := <-errChan:
		return err
	}
}

// ActiveSessions returns the number of open connections.
func (s *Server) ActiveSessions() int {
	return s.deps.Sessions.Count()
}

func (s *Server) teardown() {
	if s.lfd >= 0 {
		_ = s.poller.del(s.lfd)
		_ = unix.Close(s.lfd)
		s.lfd = -1
	}
	for _, c := range s.conns.all() {
		s.closeConn(c.fd, "server_stopped")
	}
	s.completeMu.Lock()
	s.loopClosed = true
	s.completed = nil
	s.completeMu.Unlock()
	s.poller.close()
	logging.Info("All connections closed")
}

// Publish pushes a persisted entry to every viewer as a log_update.
func (s *Server) Publish(e entry.Entry) {
	data, err := json.Marshal(e.ToWire(entry.TypeLogUpdate))
	if err != nil {
		logging.Error("Failed to encode log update", zap.Error(err))
		return
	}
	s.Broadcast(data)
}

// Broadcast sends msg as one TEXT frame to every open WebSocket session. The
// frame is encoded once. A failed peer is skipped and does not affect the
// others.
func (s *Server) Broadcast(msg []byte) (delivered, failed int) {
	frame := protocol.EncodeFrame(protocol.OpcodeText, msg)
	for _, fd := range s.deps.Sessions.Handles(session.ProtocolWebSocket) {
		c := s.conns.get(fd)
		if c == nil {
			continue
		}
		if err := c.writeViewer(frame); err != nil {
			failed++
			logging.Debug("Broadcast to viewer failed",
				zap.String("remote_addr", c.remote),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	s.deps.Metrics.ObserveBroadcast(delivered, failed)
	return delivered, failed
}

// startStatsPush sends stats_update to viewers every StatsInterval while at
// least one is connected.
func (s *Server) startStatsPush() (stop func()) {
	if s.config.StatsInterval <= 0 {
		return func() {}
	}
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(s.config.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				s.pushStats()
			}
		}
	}()
	return func() {
		close(quit)
		<-finished
	}
}

func (s *Server) pushStats() {
	if s.deps.Sessions.CountBy(session.ProtocolWebSocket) == 0 {
		return
	}
	st, err := s.api.readStats()
	if err != nil {
		logging.Debug("Skipping stats push", zap.Error(err))
		return
	}
	data, err := json.Marshal(statsUpdate{Type: entry.TypeStatsUpdate, Stats: st})
	if err != nil {
		return
	}
	s.Broadcast(data)
}

func (s *Server) String() string {
	return fmt.Sprintf("logrelay server %s (%d sessions)", s.Addr(), s.ActiveSessions())
}
