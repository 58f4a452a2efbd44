//go:build linux

package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
)

// Close status codes sent by the server.
const (
	closeProtocolError = 1002
	closeTooBig        = 1009
)

// handleWebSocket decodes every whole frame in the session's pending bytes
// plus data. A partial frame stays pending until more bytes arrive.
func (s *Server) handleWebSocket(c *conn, sess session.Session, data []byte) {
	buf := append(sess.Pending, data...)

	for len(buf) > 0 {
		f, n, err := protocol.DecodeFrame(buf)
		if errors.Is(err, protocol.ErrIncompleteFrame) {
			break
		}
		if err != nil {
			logging.Warn("Rejecting WebSocket frame",
				zap.String("remote_addr", c.remote),
				zap.Error(err),
			)
			s.failWebSocket(c, closeTooBig)
			return
		}
		buf = buf[n:]

		s.deps.Metrics.ObserveFrame(f.OpcodeString())
		logging.LogFrame(c.remote, "recv", f.Opcode, f.Payload)
		if !s.handleFrame(c, f) {
			return
		}
	}

	s.setPending(c.fd, buf)
}

// handleFrame dispatches one frame by opcode. It reports false once the
// connection has been closed.
func (s *Server) handleFrame(c *conn, f *protocol.Frame) bool {
	if !f.Masked {
		logging.Warn("Client frame is not masked", zap.String("remote_addr", c.remote))
		s.failWebSocket(c, closeProtocolError)
		return false
	}

	switch f.Opcode {
	case protocol.OpcodeText, protocol.OpcodeBinary:
		if c.fragBuf != nil {
			s.failWebSocket(c, closeProtocolError)
			return false
		}
		if !f.FIN {
			c.fragOp = f.Opcode
			c.fragBuf = append([]byte{}, f.Payload...)
			return true
		}
		return s.handleMessage(c, f.Payload)

	case protocol.OpcodeContinuation:
		if c.fragBuf == nil {
			s.failWebSocket(c, closeProtocolError)
			return false
		}
		if len(c.fragBuf)+len(f.Payload) > protocol.MaxFrameSize {
			s.failWebSocket(c, closeTooBig)
			return false
		}
		c.fragBuf = append(c.fragBuf, f.Payload...)
		if !f.FIN {
			return true
		}
		payload := c.fragBuf
		c.fragBuf = nil
		return s.handleMessage(c, payload)

	case protocol.OpcodePing:
		return s.sendFrame(c, protocol.OpcodePong, f.Payload)

	case protocol.OpcodePong:
		return true

	case protocol.OpcodeClose:
		s.deps.Sessions.Apply(c.fd, func(ss *session.Session) { ss.WSState = session.WSClosing })
		logging.Debug("WebSocket close received",
			zap.String("remote_addr", c.remote),
			zap.Uint16("code", protocol.CloseCode(f.Payload)),
		)
		_ = c.write(protocol.EncodeFrame(protocol.OpcodeClose, f.Payload))
		s.deps.Sessions.Apply(c.fd, func(ss *session.Session) { ss.WSState = session.WSClosed })
		s.finish(c, "websocket_closed")
		return false

	default:
		logging.Debug("Ignoring WebSocket frame",
			zap.String("remote_addr", c.remote),
			zap.String("opcode", f.OpcodeString()),
		)
		return true
	}
}

// handleMessage passes one whole data message to the router's message
// handler and sends its reply as a TEXT frame.
func (s *Server) handleMessage(c *conn, payload []byte) bool {
	sess, ok := s.deps.Sessions.Apply(c.fd, func(ss *session.Session) { ss.MessageCount++ })
	if !ok {
		return false
	}
	reply := s.router.message(sess, payload)
	if reply == nil {
		return true
	}
	return s.sendFrame(c, protocol.OpcodeText, reply)
}

func (s *Server) sendFrame(c *conn, opcode byte, payload []byte) bool {
	logging.LogFrame(c.remote, "send", opcode, payload)
	if err := c.write(protocol.EncodeFrame(opcode, payload)); err != nil {
		logging.Warn("Failed to send WebSocket frame",
			zap.String("remote_addr", c.remote),
			zap.Error(&Error{Type: ErrTypeWrite, Op: "frame", FD: c.fd, Err: err}),
		)
		s.closeConn(c.fd, "write_error")
		return false
	}
	return true
}

// failWebSocket sends a CLOSE with code and closes the connection.
func (s *Server) failWebSocket(c *conn, code uint16) {
	_ = c.write(protocol.CloseFrame(code))
	s.finish(c, "websocket_failed")
}
