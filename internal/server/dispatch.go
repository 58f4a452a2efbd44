//go:build linux

package server

import (
	"bytes"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/session"
)

// httpMethods are the request-line tokens that classify a session as HTTP.
var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
	[]byte("HEAD "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "),
	[]byte("TRACE "),
}

// classify decides a session's protocol from its first bytes. It reports
// false while the bytes are still a prefix of some method token.
func classify(data []byte) (session.Protocol, bool) {
	undecided := false
	for _, m := range httpMethods {
		if bytes.HasPrefix(data, m) {
			return session.ProtocolHTTP, true
		}
		if len(data) < len(m) && bytes.HasPrefix(m, data) {
			undecided = true
		}
	}
	if undecided {
		return session.ProtocolUnknown, false
	}
	return session.ProtocolRaw, true
}

// acceptAll accepts until the backlog is empty.
func (s *Server) acceptAll() {
	for {
		nfd, sa, err := unix.Accept4(s.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			}
			aerr := &Error{Type: ErrTypeAccept, Op: "accept", Err: err}
			s.deps.Metrics.ObserveAccept(aerr)
			logging.Error("Failed to accept connection", zap.Error(aerr))
			return
		}

		ip, port := sockaddrToHostPort(sa)
		remote := hostPort(ip, port)
		if err := s.poller.add(nfd); err != nil {
			_ = unix.Close(nfd)
			aerr := &Error{Type: ErrTypeAccept, Op: "register", FD: nfd, Err: err}
			s.deps.Metrics.ObserveAccept(aerr)
			logging.Error("Failed to register connection",
				zap.String("remote_addr", remote),
				zap.Error(aerr),
			)
			continue
		}

		s.conns.add(newConn(nfd, remote, s.poller))
		s.deps.Sessions.Add(session.Session{
			Handle:      nfd,
			PeerIP:      ip,
			PeerPort:    port,
			ConnectTime: time.Now(),
		})
		s.deps.Metrics.ObserveAccept(nil)
		logging.LogConnection(nfd, remote, "connection_accepted")
	}
}

// handleEvent flushes queued output on writability, then reads once from a
// ready client and dispatches the bytes by the session's protocol.
func (s *Server) handleEvent(fd int, events uint32) {
	c := s.conns.get(fd)
	if c == nil {
		_ = s.poller.del(fd)
		return
	}
	if events&unix.EPOLLERR != 0 {
		s.closeConn(fd, "connection_error")
		return
	}

	if events&unix.EPOLLOUT != 0 {
		drained, err := c.flush()
		if err != nil {
			logging.Warn("Failed to flush connection",
				zap.String("remote_addr", c.remote),
				zap.Error(&Error{Type: ErrTypeWrite, Op: "flush", FD: fd, Err: err}),
			)
			s.closeConn(fd, "write_error")
			return
		}
		if lingering, event := c.lingerState(); lingering && drained {
			s.closeConn(fd, event)
			return
		}
	}
	if lingering, _ := c.lingerState(); lingering {
		if events&unix.EPOLLHUP != 0 {
			s.closeConn(fd, "connection_closed")
		}
		return
	}
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) == 0 {
		return
	}

	n, err := unix.Read(fd, s.readBuf)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return
	case err != nil:
		rerr := &Error{Type: ErrTypeRead, Op: "read", FD: fd, Err: err}
		logging.Warn("Failed to read from connection",
			zap.String("remote_addr", c.remote),
			zap.Error(rerr),
		)
		s.closeConn(fd, "read_error")
		return
	case n == 0:
		s.finish(c, "connection_closed")
		return
	}
	s.deps.Metrics.ObserveRead(n)

	sess, ok := s.deps.Sessions.Apply(fd, func(ss *session.Session) {
		ss.TotalBytes += uint64(n)
	})
	if !ok {
		s.closeConn(fd, "session_missing")
		return
	}

	data := s.readBuf[:n]
	if sess.Protocol == session.ProtocolUnknown {
		buf := append(append([]byte(nil), sess.Pending...), data...)
		proto, decided := classify(buf)
		if !decided {
			s.deps.Sessions.Apply(fd, func(ss *session.Session) { ss.Pending = buf })
			return
		}
		sess, _ = s.deps.Sessions.Apply(fd, func(ss *session.Session) {
			ss.Protocol = proto
			ss.Pending = nil
		})
		logging.Debug("Classified connection",
			zap.String("remote_addr", c.remote),
			zap.String("protocol", proto.String()),
		)
		data = buf
	}

	switch sess.Protocol {
	case session.ProtocolRaw:
		s.handleRaw(c, sess, data)
	case session.ProtocolHTTP:
		s.handleHTTP(c, sess, data)
	case session.ProtocolWebSocket:
		s.handleWebSocket(c, sess, data)
	}
}

// closeConn deregisters and closes fd and drops its session. Closing an
// unknown fd is a no-op.
func (s *Server) closeConn(fd int, event string) {
	c := s.conns.remove(fd)
	if c == nil {
		return
	}
	_ = s.poller.del(fd)
	c.close()
	s.deps.Sessions.Remove(fd)
	s.deps.Metrics.ObserveClose()
	logging.LogConnection(fd, c.remote, event)
}

// finish closes c once its queued output is written, or now when nothing
// is queued.
func (s *Server) finish(c *conn, event string) {
	if c.linger(event) {
		s.closeConn(c.fd, event)
	}
}

// setPending stores the unconsumed tail of a session's input.
func (s *Server) setPending(fd int, rest []byte) {
	var pending []byte
	if len(rest) > 0 {
		pending = append([]byte(nil), rest...)
	}
	s.deps.Sessions.Apply(fd, func(ss *session.Session) { ss.Pending = pending })
}
