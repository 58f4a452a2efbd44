// Package client talks to a logrelay server: raw TCP producers, the query
// API and WebSocket viewers.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/discovery"
	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/store"
	"github.com/muurk/logrelay/internal/version"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultWSPath       = "/ws"
)

var ErrInvalidLine = errors.New("line is not in [LEVEL]{message} form")

// Client addresses one server.
type Client struct {
	// Addr is host:port of the main listener (HTTP, WebSocket and raw).
	Addr string
	// RawAddr is where raw lines are sent. Empty means Addr.
	RawAddr string
	WSPath  string
	Timeout time.Duration
	// PingInterval is how often a viewer sends "ping". Zero disables it.
	PingInterval time.Duration
	// OnConnect is called by Watch once the WebSocket handshake is done.
	OnConnect func()

	http *fasthttp.Client
}

// New returns a client for addr with default settings.
func New(addr string) *Client {
	return &Client{
		Addr:         addr,
		WSPath:       DefaultWSPath,
		Timeout:      DefaultTimeout,
		PingInterval: DefaultPingInterval,
	}
}

// FromRelay returns a client for a discovered server.
func FromRelay(r *discovery.Relay) *Client {
	c := New(r.Addr())
	c.RawAddr = r.RawAddr()
	if r.WSPath != "" {
		c.WSPath = r.WSPath
	}
	return c
}

func (c *Client) rawAddr() string {
	if c.RawAddr != "" {
		return c.RawAddr
	}
	return c.Addr
}

// WebSocketURL returns the viewer URL.
func (c *Client) WebSocketURL() string {
	path := c.WSPath
	if path == "" {
		path = DefaultWSPath
	}
	return (&url.URL{Scheme: "ws", Host: c.Addr, Path: path}).String()
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// RawConn is a producer connection speaking the raw line protocol.
type RawConn struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// DialRaw opens a producer connection.
func (c *Client) DialRaw(ctx context.Context) (*RawConn, error) {
	d := net.Dialer{Timeout: c.timeout()}
	conn, err := d.DialContext(ctx, "tcp", c.rawAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.rawAddr(), err)
	}
	return &RawConn{conn: conn, r: bufio.NewReader(conn), timeout: c.timeout()}, nil
}

// Send formats and sends one entry and waits for its acknowledgement.
func (r *RawConn) Send(level entry.Level, message string) (ingest.Ack, error) {
	return r.SendLine(entry.Format(level, message))
}

// SendLine sends a line already in [LEVEL]{message} form and waits for its
// acknowledgement. Lines the server would reject are refused locally since
// the server does not answer them.
func (r *RawConn) SendLine(line string) (ingest.Ack, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return ingest.Ack{}, fmt.Errorf("%w: embedded newline", ErrInvalidLine)
	}
	if _, err := entry.ParseLine(line); err != nil {
		return ingest.Ack{}, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}

	_ = r.conn.SetDeadline(time.Now().Add(r.timeout))
	if _, err := r.conn.Write([]byte(line + "\n")); err != nil {
		return ingest.Ack{}, fmt.Errorf("failed to send line: %w", err)
	}
	reply, err := r.r.ReadBytes('\n')
	if err != nil {
		return ingest.Ack{}, fmt.Errorf("failed to read acknowledgement: %w", err)
	}
	var ack ingest.Ack
	if err := json.Unmarshal(reply, &ack); err != nil {
		return ingest.Ack{}, fmt.Errorf("failed to decode acknowledgement %q: %w", reply, err)
	}
	return ack, nil
}

func (r *RawConn) Close() error {
	return r.conn.Close()
}

func (c *Client) httpClient() *fasthttp.Client {
	if c.http == nil {
		c.http = &fasthttp.Client{
			Name:         version.Agent("logrelay"),
			ReadTimeout:  c.timeout(),
			WriteTimeout: c.timeout(),
		}
	}
	return c.http
}

// getJSON fetches path from the API and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := url.URL{Scheme: "http", Host: c.Addr, Path: path, RawQuery: query.Encode()}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout())
	}
	if err := c.httpClient().DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("GET %s: %d %s", path, code, apiErr.Error)
		}
		return fmt.Errorf("GET %s: status %d", path, code)
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}

// History returns up to limit stored entries, oldest first. A nil level
// returns every level.
func (c *Client) History(ctx context.Context, limit int, level *entry.Level) ([]entry.Wire, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if level != nil {
		q.Set("level", level.String())
	}
	var rows []entry.Wire
	if err := c.getJSON(ctx, "/api/logs", q, &rows); err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return rows, nil
}

// Stats returns the server counters.
func (c *Client) Stats(ctx context.Context) (store.Stats, error) {
	var s store.Stats
	err := c.getJSON(ctx, "/api/stats", nil, &s)
	return s, err
}

// Viewer is a WebSocket session. Reads and writes may run concurrently
// with each other.
type Viewer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DialViewer opens a WebSocket session.
func (c *Client) DialViewer(ctx context.Context) (*Viewer, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout()}
	conn, _, err := dialer.DialContext(ctx, c.WebSocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.WebSocketURL(), err)
	}
	return &Viewer{conn: conn}, nil
}

// Publish sends an entry as a WebSocket producer. The server answers with
// a status reply that the read loop receives.
func (v *Viewer) Publish(level entry.Level, message string) error {
	data, err := json.Marshal(entry.Wire{Level: level, Message: message, Timestamp: time.Now().Format(entry.TimeLayout)})
	if err != nil {
		return err
	}
	return v.write(data)
}

func (v *Viewer) ping() error {
	return v.write([]byte("ping"))
}

func (v *Viewer) write(data []byte) error {
	v.wmu.Lock()
	defer v.wmu.Unlock()
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage returns the next text message.
func (v *Viewer) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := v.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (v *Viewer) Close() error {
	v.wmu.Lock()
	_ = v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	v.wmu.Unlock()
	return v.conn.Close()
}

// Watch streams text messages to fn until ctx is done or the connection
// fails. A "ping" is sent every PingInterval to keep idle sessions open.
// fn runs on the reading goroutine.
func (c *Client) Watch(ctx context.Context, fn func([]byte)) error {
	v, err := c.DialViewer(ctx)
	if err != nil {
		return err
	}
	logging.Info("Viewer connected", zap.String("url", c.WebSocketURL()))
	if c.OnConnect != nil {
		c.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		var tick <-chan time.Time
		if c.PingInterval > 0 {
			t := time.NewTicker(c.PingInterval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				_ = v.Close()
				return
			case <-done:
				return
			case <-tick:
				if err := v.ping(); err != nil {
					logging.Debug("Ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		data, err := v.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_ = v.conn.Close()
			return fmt.Errorf("connection lost: %w", err)
		}
		fn(data)
	}
}
