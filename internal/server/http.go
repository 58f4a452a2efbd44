//go:build linux

package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
	"github.com/muurk/logrelay/internal/version"
)

// handleHTTP appends data to the session's pending bytes and dispatches the
// first whole request found there. Routes run off the loop, so later
// requests wait in the pending bytes until the response is written. A valid
// upgrade on the WebSocket path switches the session to WebSocket and hands
// it any bytes that follow.
func (s *Server) handleHTTP(c *conn, sess session.Session, data []byte) {
	buf := append(sess.Pending, data...)

	for len(buf) > 0 {
		if c.busy {
			if len(buf) > protocol.MaxRequestSize {
				logging.Warn("Pipelined requests exceed the buffer limit",
					zap.String("remote_addr", c.remote),
					zap.Int("pending", len(buf)),
				)
				s.closeConn(c.fd, "http_rejected")
				return
			}
			break
		}

		n, ok, err := protocol.RequestComplete(buf)
		if err != nil {
			code := 400
			if errors.Is(err, protocol.ErrRequestTooLarge) {
				code = 413
			}
			logging.Warn("Rejecting HTTP input",
				zap.String("remote_addr", c.remote),
				zap.Error(err),
			)
			s.respond(c, "", protocol.ErrorResponse(code, err.Error()), false)
			return
		}
		if !ok {
			break
		}
		raw := buf[:n]
		buf = buf[n:]

		req, err := protocol.ParseRequest(raw)
		if err != nil {
			if !s.respond(c, "", protocol.ErrorResponse(400, err.Error()), true) {
				return
			}
			continue
		}
		logging.LogHTTPRequest(c.remote, req.Method, req.Path, req.Headers)
		sess, _ = s.deps.Sessions.Apply(c.fd, func(ss *session.Session) { ss.MessageCount++ })

		if req.Path == s.config.WSPath && protocol.IsUpgrade(req) {
			s.upgrade(c, req, buf)
			return
		}

		s.serveAsync(c, req, sess)
	}

	s.setPending(c.fd, buf)
}

// completion is a routed response waiting to be written by the loop.
type completion struct {
	c    *conn
	req  *protocol.Request
	resp *protocol.Response
}

// serveAsync runs the route in its own goroutine, since handlers query the
// store and read files. The response comes back through complete.
func (s *Server) serveAsync(c *conn, req *protocol.Request, sess session.Session) {
	c.busy = true
	go func() {
		resp := s.router.Serve(req, sess)
		s.complete(completion{c: c, req: req, resp: resp})
	}()
}

// complete queues a finished response and wakes the loop.
func (s *Server) complete(done completion) {
	s.completeMu.Lock()
	defer s.completeMu.Unlock()
	if s.loopClosed {
		return
	}
	s.completed = append(s.completed, done)
	if err := s.poller.wake(); err != nil {
		logging.Error("Failed to wake event loop", zap.Error(err))
	}
}

// writeCompleted writes every finished response, then resumes the requests
// that were pipelined behind it.
func (s *Server) writeCompleted() {
	s.completeMu.Lock()
	batch := s.completed
	s.completed = nil
	s.completeMu.Unlock()

	for _, done := range batch {
		c := done.c
		if s.conns.get(c.fd) != c {
			continue
		}
		c.busy = false
		if !s.respond(c, done.req.Method, done.resp, done.req.KeepAlive()) {
			continue
		}
		if sess := s.deps.Sessions.Get(c.fd); len(sess.Pending) > 0 {
			s.handleHTTP(c, sess, nil)
		}
	}
}

// upgrade completes the WebSocket handshake. An invalid handshake is
// answered with 400 and the session stays HTTP.
func (s *Server) upgrade(c *conn, req *protocol.Request, rest []byte) {
	if err := protocol.ValidateUpgrade(req); err != nil {
		logging.Warn("Invalid WebSocket upgrade request",
			zap.String("remote_addr", c.remote),
			zap.Error(err),
		)
		if s.respond(c, req.Method, protocol.ErrorResponse(400, err.Error()), req.KeepAlive()) {
			s.setPending(c.fd, rest)
		}
		return
	}

	if !s.respond(c, req.Method, protocol.HandshakeResponse(req), true) {
		return
	}
	sess, ok := s.deps.Sessions.Apply(c.fd, func(ss *session.Session) {
		ss.Protocol = session.ProtocolWebSocket
		ss.WSState = session.WSOpen
		ss.Pending = nil
	})
	if !ok {
		return
	}
	c.markViewer()
	logging.LogConnection(c.fd, c.remote, "websocket_opened")

	if len(rest) > 0 {
		s.handleWebSocket(c, sess, rest)
	}
}

// respond writes resp and, unless keepAlive, closes the connection once the
// response is out. It reports whether the connection is still open.
func (s *Server) respond(c *conn, method string, resp *protocol.Response, keepAlive bool) bool {
	if resp.StatusCode >= 200 {
		resp.Headers["Server"] = version.Agent("logrelay")
		if keepAlive {
			resp.Headers["Connection"] = "keep-alive"
		} else {
			resp.Headers["Connection"] = "close"
		}
	}

	data := resp.Serialize()
	s.deps.Metrics.ObserveHTTP(method, resp.StatusCode)
	logging.LogHTTPResponse(c.remote, resp.StatusCode, len(resp.Body))

	if err := c.write(data); err != nil {
		logging.Warn("Failed to send HTTP response",
			zap.String("remote_addr", c.remote),
			zap.Error(&Error{Type: ErrTypeWrite, Op: "response", FD: c.fd, Err: err}),
		)
		s.closeConn(c.fd, "write_error")
		return false
	}
	if !keepAlive {
		s.finish(c, "connection_closed")
		return false
	}
	return true
}
