//go:build linux

package server

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxOutbound bounds the bytes queued for a peer that is not reading. The
// first queued write is always accepted, so one large response still goes
// out to a slow but live reader.
const maxOutbound = 4 << 20

// Interest sets registered with the poller.
const (
	readInterest  = unix.EPOLLIN | unix.EPOLLRDHUP
	writeInterest = unix.EPOLLOUT
)

// conn guards writes to one client socket. Writes come from the event loop
// (replies) and from writer workers (broadcasts), so they are serialized by
// mu, and closed stops a broadcast from reaching a descriptor number that
// has been reused by a newer connection.
//
// Writes never block. Bytes the socket does not take are queued in out and
// EPOLLOUT is armed until the loop has flushed them.
type conn struct {
	fd     int
	remote string
	p      *poller

	mu       sync.Mutex
	closed   bool
	viewer   bool
	out      []byte
	interest uint32

	// lingering conns are closed once out drains and read nothing more.
	lingering  bool
	closeEvent string

	// Owned by the event loop.
	fragOp  byte
	fragBuf []byte
	busy    bool
}

func newConn(fd int, remote string, p *poller) *conn {
	return &conn{fd: fd, remote: remote, p: p, interest: readInterest}
}

// write sends data or queues what the socket does not take.
func (c *conn) write(data []byte) error {
	return c.send(data, false)
}

// writeViewer is write restricted to conns that completed a WebSocket upgrade.
func (c *conn) writeViewer(data []byte) error {
	return c.send(data, true)
}

// markViewer flags the conn as an open WebSocket.
func (c *conn) markViewer() {
	c.mu.Lock()
	c.viewer = true
	c.mu.Unlock()
}

func (c *conn) send(data []byte, viewerOnly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.lingering || (viewerOnly && !c.viewer) {
		return errConnClosed
	}

	if len(c.out) > 0 {
		if len(c.out)+len(data) > maxOutbound {
			// The loop sees the hangup and tears the session down.
			c.out = nil
			_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
			return errSlowReader
		}
		c.out = append(c.out, data...)
		return nil
	}

	n, err := writeSome(c.fd, data)
	if err != nil {
		return err
	}
	if n == len(data) {
		return nil
	}
	c.out = append([]byte(nil), data[n:]...)
	return c.updateInterest()
}

// flush writes queued bytes until the socket would block. It reports
// whether the queue is empty. Only the event loop calls it.
func (c *conn) flush() (drained bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, errConnClosed
	}
	n, err := writeSome(c.fd, c.out)
	c.out = c.out[n:]
	if err != nil {
		return false, err
	}
	if len(c.out) > 0 {
		return false, nil
	}
	c.out = nil
	return true, c.updateInterest()
}

// linger stops reading and arranges for the conn to be closed once queued
// bytes are written. It reports true when nothing is queued and the caller
// should close now.
func (c *conn) linger(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.out) == 0 {
		return true
	}
	c.lingering = true
	c.closeEvent = event
	_ = c.updateInterest()
	return false
}

// lingerState reports whether the conn is waiting to close, with the event
// to log when it does.
func (c *conn) lingerState() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lingering, c.closeEvent
}

// queued returns the number of bytes waiting for the socket.
func (c *conn) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out)
}

// updateInterest re-registers the conn when its interest set changes. The
// caller holds mu.
func (c *conn) updateInterest() error {
	var want uint32 = readInterest
	if c.lingering {
		want = 0
	}
	if len(c.out) > 0 {
		want |= writeInterest
	}
	if want == c.interest {
		return nil
	}
	c.interest = want
	return c.p.mod(c.fd, want)
}

// close marks the conn closed and closes the descriptor. It reports false
// when the conn was already closed.
func (c *conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.out = nil
	_ = unix.Close(c.fd)
	return true
}

// writeSome writes until data is gone or the socket would block.
func writeSome(fd int, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := unix.Write(fd, data[written:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return written, nil
		case err != nil:
			return written, err
		}
		written += n
	}
	return written, nil
}

// connSet indexes live conns by descriptor.
type connSet struct {
	mu    sync.RWMutex
	conns map[int]*conn
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[int]*conn)}
}

func (s *connSet) add(c *conn) {
	s.mu.Lock()
	s.conns[c.fd] = c
	s.mu.Unlock()
}

func (s *connSet) get(fd int) *conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[fd]
}

func (s *connSet) remove(fd int) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conns[fd]
	delete(s.conns, fd)
	return c
}

func (s *connSet) all() []*conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}
