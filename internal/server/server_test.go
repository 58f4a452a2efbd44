//go:build linux

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/muurk/logrelay/internal/dbwriter"
	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
	"github.com/muurk/logrelay/internal/store"
)

const testTimeout = 3 * time.Second

type harness struct {
	srv    *Server
	mem    *store.Memory
	writer *dbwriter.Writer
	addr   string
}

// startServer runs a server on a free loopback port with a memory store and
// one writer worker.
func startServer(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	mem := store.NewMemory()
	pool, err := store.NewPool(context.Background(), mem, 2)
	if err != nil {
		t.Fatal(err)
	}
	pipeline := &ingest.Pipeline{}
	srv := New(&cfg, Deps{Store: pool, Ingest: pipeline})
	writer := dbwriter.New(pool, srv, dbwriter.Options{Wait: 10 * time.Millisecond})
	pipeline.Queue = writer
	writer.Start(1)

	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()

	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(testTimeout):
			t.Error("Run() did not return after Stop()")
		}
		writer.Shutdown()
		_ = pool.Destroy()
	})
	return &harness{srv: srv, mem: mem, writer: writer, addr: srv.Addr()}
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", h.addr, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.SetDeadline(time.Now().Add(testTimeout))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readAck(t *testing.T, r *bufio.Reader) ingest.Ack {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading ack: %v", err)
	}
	var ack ingest.Ack
	if err := json.Unmarshal(line, &ack); err != nil {
		t.Fatalf("ack %q: %v", line, err)
	}
	return ack
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in          string
		want        session.Protocol
		wantDecided bool
	}{
		{"GET / HTTP/1.1\r\n", session.ProtocolHTTP, true},
		{"POST /api HTTP/1.1\r\n", session.ProtocolHTTP, true},
		{"DELETE /x HTTP/1.1\r\n", session.ProtocolHTTP, true},
		{"[WARNING]{disk}\n", session.ProtocolRaw, true},
		{"GETTING\n", session.ProtocolRaw, true},
		{"{x}[TRACE]\n", session.ProtocolRaw, true},
		{"GE", session.ProtocolUnknown, false},
		{"OPTI", session.ProtocolUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, decided := classify([]byte(tt.in))
			if got != tt.want || decided != tt.wantDecided {
				t.Errorf("classify(%q) = %v, %v, want %v, %v", tt.in, got, decided, tt.want, tt.wantDecided)
			}
		})
	}
}

func TestRawIngestAndStats(t *testing.T) {
	h := startServer(t, Config{ServerID: "test-relay"})
	c := h.dial(t)

	if _, err := c.Write([]byte("[WARNING]{disk at 90%}\n")); err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(c)
	ack := readAck(t, r)

	want := ingest.Ack{
		Status:        "success",
		MessageSize:   22,
		ServerID:      "test-relay",
		Client:        c.LocalAddr().String(),
		MessageNumber: 1,
		TotalBytes:    23,
	}
	ack.Timestamp = ""
	if diff := cmp.Diff(want, ack); diff != "" {
		t.Errorf("ack (-want +got):\n%s", diff)
	}

	waitFor(t, "persisted entry", func() bool { return h.mem.Len() == 1 })

	resp, err := http.Get("http://" + h.addr + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.WarningCount != 1 || st.ErrorCount != 0 || st.TotalLogs != 1 {
		t.Errorf("stats = %+v, want one warning and no errors", st)
	}
	if st.ClientCount < 1 {
		t.Errorf("clientCount = %d, want the raw producer counted", st.ClientCount)
	}
}

func TestRawSkipsMalformedLines(t *testing.T) {
	h := startServer(t, Config{})
	c := h.dial(t)

	if _, err := c.Write([]byte("junk without sections\n[ERROR]{x}\r\n")); err != nil {
		t.Fatal(err)
	}
	ack := readAck(t, bufio.NewReader(c))
	if ack.MessageNumber != 1 || ack.MessageSize != 10 {
		t.Errorf("ack = %+v, want message 1 of size 10", ack)
	}

	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var buf [1]byte
	if _, err := c.Read(buf[:]); err == nil {
		t.Error("malformed line was answered")
	}
}

func TestRawLineSplitAcrossWrites(t *testing.T) {
	h := startServer(t, Config{})
	c := h.dial(t)

	if _, err := c.Write([]byte("[WARNING]{disk at")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := c.Write([]byte(" 90%}\n")); err != nil {
		t.Fatal(err)
	}

	ack := readAck(t, bufio.NewReader(c))
	if ack.MessageNumber != 1 || ack.MessageSize != 22 || ack.TotalBytes != 23 {
		t.Errorf("ack = %+v, want message 1 of size 22 after 23 bytes", ack)
	}
	waitFor(t, "persisted entry", func() bool { return h.mem.Len() == 1 })
}

func TestRawLineWithoutNewline(t *testing.T) {
	h := startServer(t, Config{})
	c := h.dial(t)

	if _, err := c.Write([]byte("[ERROR]{no newline}")); err != nil {
		t.Fatal(err)
	}
	ack := readAck(t, bufio.NewReader(c))
	if ack.MessageNumber != 1 || ack.MessageSize != 19 {
		t.Errorf("ack = %+v, want message 1 of size 19", ack)
	}
}

func rawHTTP(t *testing.T, c net.Conn, r *bufio.Reader, req string) *http.Response {
	t.Helper()
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp
}

func TestHTTPKeepAliveAndErrors(t *testing.T) {
	h := startServer(t, Config{StaticDir: t.TempDir()})
	c := h.dial(t)
	r := bufio.NewReader(c)

	resp := rawHTTP(t, c, r, "PUT /thing HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.StatusCode != 405 {
		t.Errorf("PUT status = %d, want 405", resp.StatusCode)
	}

	resp = rawHTTP(t, c, r, "GET /broken\r\n\r\n")
	if resp.StatusCode != 400 {
		t.Errorf("malformed status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("malformed Content-Type = %q", ct)
	}

	// A request split across two writes is answered once it is whole.
	if _, err := c.Write([]byte("GET /api/stats HTT")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	resp = rawHTTP(t, c, r, "P/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Errorf("split request status = %d, want 200", resp.StatusCode)
	}

	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("after Connection: close, read error = %v, want EOF", err)
	}
}

func TestStaticOverHTTP(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root+"/index.html", "<p>viewer</p>")
	h := startServer(t, Config{StaticDir: root})

	resp, err := http.Get("http://" + h.addr + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "<p>viewer</p>" {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}
}

func dialWS(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWebSocketBroadcast(t *testing.T) {
	h := startServer(t, Config{})
	viewer := dialWS(t, h)
	producer := dialWS(t, h)

	if err := producer.WriteMessage(websocket.TextMessage, []byte(`{"level":"ERROR","message":"boom"}`)); err != nil {
		t.Fatal(err)
	}
	for {
		_, msg, err := producer.ReadMessage()
		if err != nil {
			t.Fatalf("producer read: %v", err)
		}
		if string(msg) == `{"status":"ok","message":"Log queued"}` {
			break
		}
	}

	for {
		_, msg, err := viewer.ReadMessage()
		if err != nil {
			t.Fatalf("viewer read: %v", err)
		}
		var w entry.Wire
		if err := json.Unmarshal(msg, &w); err != nil {
			t.Fatalf("viewer message %s: %v", msg, err)
		}
		if w.Type != entry.TypeLogUpdate {
			continue
		}
		if w.Level != entry.LevelError || w.Message != "boom" || w.Timestamp == "" {
			t.Errorf("log_update = %+v", w)
		}
		break
	}

	if err := viewer.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	for {
		_, msg, err := viewer.ReadMessage()
		if err != nil {
			t.Fatalf("viewer read: %v", err)
		}
		if string(msg) == "pong" {
			break
		}
	}
}

func TestWebSocketBadEntryKeepsSession(t *testing.T) {
	h := startServer(t, Config{})
	ws := dialWS(t, h)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var reply wsReply
	if err := json.Unmarshal(msg, &reply); err != nil || reply.Status != "error" {
		t.Errorf("reply = %s, want status error", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, msg, err := ws.ReadMessage(); err != nil || string(msg) != "pong" {
		t.Errorf("after bad entry: %q, %v", msg, err)
	}
}

// handshake opens a WebSocket by hand so the test controls every frame.
func handshake(t *testing.T, h *harness) (net.Conn, *bufio.Reader) {
	t.Helper()
	c := h.dial(t)
	r := bufio.NewReader(c)
	resp := rawHTTP(t, c, r, "GET /ws HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n")
	if resp.StatusCode != 101 {
		t.Fatalf("handshake status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("Sec-WebSocket-Accept = %q", got)
	}
	return c, r
}

var testMask = [4]byte{1, 2, 3, 4}

func TestWebSocketControlFrames(t *testing.T) {
	h := startServer(t, Config{})
	c, r := handshake(t, h)

	if _, err := c.Write(protocol.EncodeMaskedFrame(protocol.OpcodePing, []byte("hi"), testMask)); err != nil {
		t.Fatal(err)
	}
	f, err := protocol.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.Opcode != protocol.OpcodePong || string(f.Payload) != "hi" {
		t.Errorf("got %v %q, want pong hi", f, f.Payload)
	}

	// A frame split across writes is decoded once whole.
	frame := protocol.EncodeMaskedFrame(protocol.OpcodeText, []byte("ping"), testMask)
	if _, err := c.Write(frame[:3]); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Write(frame[3:]); err != nil {
		t.Fatal(err)
	}
	f, err = protocol.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.Opcode != protocol.OpcodeText || string(f.Payload) != "pong" {
		t.Errorf("got %v %q, want text pong", f, f.Payload)
	}

	closePayload := []byte{0x03, 0xE8}
	if _, err := c.Write(protocol.EncodeMaskedFrame(protocol.OpcodeClose, closePayload, testMask)); err != nil {
		t.Fatal(err)
	}
	f, err = protocol.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.Opcode != protocol.OpcodeClose || protocol.CloseCode(f.Payload) != 1000 {
		t.Errorf("got %v code %d, want close 1000", f, protocol.CloseCode(f.Payload))
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("after close echo, read error = %v, want EOF", err)
	}
	waitFor(t, "session removal", func() bool { return h.srv.ActiveSessions() == 0 })
}

func TestWebSocketUnmaskedFrameCloses(t *testing.T) {
	h := startServer(t, Config{})
	c, r := handshake(t, h)

	if _, err := c.Write(protocol.EncodeFrame(protocol.OpcodeText, []byte("ping"))); err != nil {
		t.Fatal(err)
	}
	f, err := protocol.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.Opcode != protocol.OpcodeClose || protocol.CloseCode(f.Payload) != closeProtocolError {
		t.Errorf("got %v, want close %d", f, closeProtocolError)
	}
}

// stallClient pipelines requests for a large static file and never reads
// the responses.
func stallClient(t *testing.T, h *harness, requests int) net.Conn {
	t.Helper()
	c := h.dial(t)
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetReadBuffer(4096)
	}
	req := strings.Repeat("GET /big.bin HTTP/1.1\r\nHost: x\r\n\r\n", requests)
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSlowReaderDoesNotStallOthers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root+"/big.bin", strings.Repeat("0123456789abcdef", 512*1024))
	h := startServer(t, Config{StaticDir: root})

	stallClient(t, h, 3)
	time.Sleep(200 * time.Millisecond)

	client := &http.Client{Timeout: testTimeout}
	start := time.Now()
	resp, err := client.Get("http://" + h.addr + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("GET /api/stats took %v behind a client that does not read", elapsed)
	}
	if resp.StatusCode != 200 {
		t.Errorf("GET /api/stats status = %d", resp.StatusCode)
	}

	viewer := dialWS(t, h)
	producer := h.dial(t)
	start = time.Now()
	if _, err := producer.Write([]byte("[ERROR]{still flowing}\n")); err != nil {
		t.Fatal(err)
	}
	readAck(t, bufio.NewReader(producer))
	for {
		_, msg, err := viewer.ReadMessage()
		if err != nil {
			t.Fatalf("viewer read: %v", err)
		}
		var w entry.Wire
		if err := json.Unmarshal(msg, &w); err == nil && w.Type == entry.TypeLogUpdate {
			if w.Message != "still flowing" {
				t.Errorf("log_update = %+v", w)
			}
			break
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ack and broadcast took %v behind a client that does not read", elapsed)
	}
}

func TestBroadcastSkipsStalledViewer(t *testing.T) {
	h := startServer(t, Config{})
	stalled, _ := handshake(t, h)
	if tc, ok := stalled.(*net.TCPConn); ok {
		_ = tc.SetReadBuffer(4096)
	}
	waitFor(t, "viewer session", func() bool {
		return h.srv.Sessions().CountBy(session.ProtocolWebSocket) == 1
	})

	msg := []byte(strings.Repeat("x", 256*1024))
	start := time.Now()
	for i := 0; i < 64; i++ {
		h.srv.Broadcast(msg)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("64 broadcasts to a stalled viewer took %v", elapsed)
	}

	c := h.dial(t)
	r := bufio.NewReader(c)
	start = time.Now()
	resp := rawHTTP(t, c, r, "GET /api/stats HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Errorf("GET /api/stats status = %d", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("GET /api/stats took %v after flooding a stalled viewer", elapsed)
	}

	// 16 MiB cannot all be buffered for a peer that never reads, so the
	// stalled viewer is dropped.
	waitFor(t, "stalled viewer removal", func() bool {
		return h.srv.Sessions().CountBy(session.ProtocolWebSocket) == 0
	})
}

func TestPipelinedResponsesInOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root+"/a.txt", "first")
	writeFile(t, root+"/b.txt", "second")
	h := startServer(t, Config{StaticDir: root})
	c := h.dial(t)
	r := bufio.NewReader(c)

	req := "GET /a.txt HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /api/stats HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /b.txt HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"first", "", "second"} {
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			t.Fatalf("reading response: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if want != "" && string(body) != want {
			t.Errorf("body = %q, want %q", body, want)
		}
		if want == "" && !strings.Contains(string(body), "totalLogs") {
			t.Errorf("stats body = %q", body)
		}
	}
}

func TestStopClosesSessions(t *testing.T) {
	cfg := Config{Host: "127.0.0.1"}
	srv := New(&cfg, Deps{})
	if err := srv.Init(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Run() }()

	c, err := net.DialTimeout("tcp", srv.Addr(), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	waitFor(t, "session", func() bool { return srv.ActiveSessions() == 1 })

	srv.Stop()
	select {
	case <-srv.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done() not closed after Stop()")
	}
	if srv.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d after Stop()", srv.ActiveSessions())
	}
	_ = c.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Error("client connection still open after Stop()")
	}
}

func TestInitBindError(t *testing.T) {
	srv := New(&Config{Host: "127.0.0.1", Port: 70000}, Deps{})
	err := srv.Init()
	if !IsBindError(err) {
		t.Fatalf("Init() error = %v, want bind error", err)
	}
	if err := srv.Run(); !errors.Is(err, errNotInitialized) {
		t.Errorf("Run() before Init error = %v", err)
	}
}
