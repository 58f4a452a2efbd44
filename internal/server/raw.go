//go:build linux

package server

import (
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/session"
)

// handleRaw processes every line in the session's pending bytes plus data.
// Each accepted line is ingested and acknowledged; lines that do not parse
// get no reply. An unterminated tail waits for the rest of its line.
func (s *Server) handleRaw(c *conn, sess session.Session, data []byte) {
	buf := append(sess.Pending, data...)
	lines, rest := ingest.SplitLines(buf)

	for _, line := range lines {
		if _, err := s.deps.Ingest.RawLine(c.remote, sess.PeerIP, sess.PeerPort, line); err != nil {
			continue
		}

		sess, _ = s.deps.Sessions.Apply(c.fd, func(ss *session.Session) {
			ss.MessageCount++
		})
		ack := ingest.NewAck(s.config.ServerID, c.remote, len(line), sess.MessageCount, sess.TotalBytes)
		if err := c.write(ack.Bytes()); err != nil {
			logging.Warn("Failed to send ack",
				zap.String("remote_addr", c.remote),
				zap.Error(&Error{Type: ErrTypeWrite, Op: "ack", FD: c.fd, Err: err}),
			)
			s.closeConn(c.fd, "write_error")
			return
		}
	}

	if len(rest) > ingest.MaxLineSize {
		logging.LogRawLine(c.remote, rest[:64], "line exceeds maximum size")
		s.closeConn(c.fd, "line_too_long")
		return
	}
	s.setPending(c.fd, rest)
}
