// Package rawtcp runs a second listener that speaks only the raw line
// protocol. It uses gnet's multi-reactor engine, so a fleet of chatty
// producers can be served apart from the HTTP and WebSocket port.
//
// Lines are parsed, ingested and acknowledged exactly like raw sessions on
// the main server, and the sessions are kept in the same session table.
package rawtcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/metrics"
	"github.com/muurk/logrelay/internal/session"
)

// Config holds the listener configuration
type Config struct {
	Host      string
	Port      int
	ServerID  string
	Multicore bool
}

// connState is stored in each gnet.Conn's context.
type connState struct {
	ip     string
	port   int
	remote string
	// held is the unterminated tail left in gnet's inbound buffer.
	held int
}

// Server is a gnet event handler for raw producers.
type Server struct {
	gnet.BuiltinEventEngine

	cfg      Config
	sessions *session.Table
	pipeline *ingest.Pipeline
	metrics  *metrics.Metrics

	eng    gnet.Engine
	booted chan struct{}
}

// New creates a raw listener. sessions and pipeline are shared with the main
// server.
func New(cfg Config, sessions *session.Table, pipeline *ingest.Pipeline, m *metrics.Metrics) *Server {
	if sessions == nil {
		sessions = session.NewTable()
	}
	if pipeline == nil {
		pipeline = &ingest.Pipeline{Metrics: m}
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		pipeline: pipeline,
		metrics:  m,
		booted:   make(chan struct{}),
	}
}

// Addr returns the gnet protocol address of the listener.
func (s *Server) Addr() string {
	return "tcp://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run blocks serving connections until Stop.
func (s *Server) Run() error {
	logging.Info("Starting raw TCP listener",
		zap.String("addr", s.Addr()),
		zap.Bool("multicore", s.cfg.Multicore),
	)
	err := gnet.Run(s, s.Addr(),
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReusePort(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLogger(logging.Named("gnet").Sugar()),
	)
	if err != nil {
		return fmt.Errorf("raw listener on %s: %w", s.Addr(), err)
	}
	return nil
}

// Ready is closed once the engine has booted.
func (s *Server) Ready() <-chan struct{} {
	return s.booted
}

// Stop shuts the engine down. It waits for the engine to boot first.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.booted:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.eng.Stop(ctx)
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	close(s.booted)
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	st := &connState{ip: "unknown", remote: c.RemoteAddr().String()}
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		st.ip, st.port = addr.IP.String(), addr.Port
	}
	c.SetContext(st)

	s.sessions.Add(session.Session{
		Handle:      c.Fd(),
		PeerIP:      st.ip,
		PeerPort:    st.port,
		Protocol:    session.ProtocolRaw,
		ConnectTime: time.Now(),
	})
	s.metrics.ObserveAccept(nil)
	logging.LogConnection(c.Fd(), st.remote, "connection_accepted")
	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	remote := ""
	if st, ok := c.Context().(*connState); ok {
		remote = st.remote
	}
	s.sessions.Remove(c.Fd())
	s.metrics.ObserveClose()
	if err != nil {
		logging.Debug("Raw connection closed with error", zap.String("remote_addr", remote), zap.Error(err))
	}
	logging.LogConnection(c.Fd(), remote, "connection_closed")
	return gnet.None
}

// OnTraffic processes every whole line in the inbound buffer and
// acknowledges each accepted line. An unterminated tail stays in the buffer
// until the rest of its line arrives.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	st, ok := c.Context().(*connState)
	if !ok {
		return gnet.Close
	}
	buf, err := c.Peek(-1)
	if err != nil {
		return gnet.Close
	}
	fresh := len(buf) - st.held
	s.metrics.ObserveRead(fresh)

	fd := c.Fd()
	s.sessions.Apply(fd, func(ss *session.Session) { ss.TotalBytes += uint64(fresh) })

	lines, rest := ingest.SplitLines(buf)
	for _, line := range lines {
		if _, err := s.pipeline.RawLine(st.remote, st.ip, st.port, line); err != nil {
			continue
		}
		sess, ok := s.sessions.Apply(fd, func(ss *session.Session) { ss.MessageCount++ })
		if !ok {
			return gnet.Close
		}
		ack := ingest.NewAck(s.cfg.ServerID, st.remote, len(line), sess.MessageCount, sess.TotalBytes)
		if _, err := c.Write(ack.Bytes()); err != nil {
			logging.Warn("Failed to send ack", zap.String("remote_addr", st.remote), zap.Error(err))
			return gnet.Close
		}
	}

	if len(rest) > ingest.MaxLineSize {
		logging.LogRawLine(st.remote, rest[:64], "line exceeds maximum size")
		return gnet.Close
	}
	if _, err := c.Discard(len(buf) - len(rest)); err != nil {
		return gnet.Close
	}
	st.held = len(rest)
	return gnet.None
}
