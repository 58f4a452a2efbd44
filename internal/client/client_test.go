//go:build linux

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muurk/logrelay/internal/dbwriter"
	"github.com/muurk/logrelay/internal/discovery"
	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/server"
	"github.com/muurk/logrelay/internal/store"
	"github.com/muurk/logrelay/internal/ui"
)

const testTimeout = 3 * time.Second

// startServer runs a relay on a loopback port that persists every level.
func startServer(t *testing.T) (*server.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	pool, err := store.NewPool(context.Background(), mem, 2)
	if err != nil {
		t.Fatal(err)
	}
	pipeline := &ingest.Pipeline{}
	srv := server.New(&server.Config{Host: "127.0.0.1", ServerID: "test-relay"}, server.Deps{Store: pool, Ingest: pipeline})
	writer := dbwriter.New(pool, srv, dbwriter.Options{Policy: dbwriter.All{}, Wait: 10 * time.Millisecond})
	pipeline.Queue = writer
	writer.Start(1)

	if err := srv.Init(); err != nil {
		t.Fatal(err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run() }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-runErr:
		case <-time.After(testTimeout):
			t.Error("server did not stop")
		}
		writer.Shutdown()
		_ = pool.Destroy()
	})
	return srv, mem
}

func waitLen(t *testing.T, mem *store.Memory, n int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for mem.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("store has %d entries, want %d", mem.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRawSendAndHistory(t *testing.T) {
	srv, mem := startServer(t)
	c := New(srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	raw, err := c.DialRaw(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	ack, err := raw.Send(entry.LevelInfo, "first")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.Status != "success" || ack.ServerID != "test-relay" || ack.MessageNumber != 1 {
		t.Errorf("ack = %+v", ack)
	}
	if ack.MessageSize != len("[INFO]{first}") {
		t.Errorf("MessageSize = %d", ack.MessageSize)
	}

	ack, err = raw.SendLine("{second}[ERROR]\n")
	if err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}
	if ack.MessageNumber != 2 {
		t.Errorf("MessageNumber = %d, want 2", ack.MessageNumber)
	}

	if _, err := raw.SendLine("no level here"); !errors.Is(err, ErrInvalidLine) {
		t.Errorf("SendLine(invalid) error = %v, want ErrInvalidLine", err)
	}
	if _, err := raw.SendLine("[INFO]{a}\n[INFO]{b}"); !errors.Is(err, ErrInvalidLine) {
		t.Errorf("SendLine(two lines) error = %v, want ErrInvalidLine", err)
	}

	waitLen(t, mem, 2)

	rows, err := c.History(ctx, 10, nil)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("History() = %d rows, want 2", len(rows))
	}
	got := map[string]entry.Level{}
	for _, r := range rows {
		got[r.Message] = r.Level
	}
	if got["first"] != entry.LevelInfo || got["second"] != entry.LevelError {
		t.Errorf("History() = %+v", rows)
	}

	level := entry.LevelError
	rows, err = c.History(ctx, 10, &level)
	if err != nil {
		t.Fatalf("History(ERROR) error = %v", err)
	}
	if len(rows) != 1 || rows[0].Message != "second" {
		t.Errorf("History(ERROR) = %+v", rows)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalLogs != 2 || stats.ErrorCount != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWatchReceivesBroadcast(t *testing.T) {
	srv, _ := startServer(t)
	c := New(srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan any, 16)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.Watch(ctx, func(data []byte) {
			msg, err := ui.Decode(data)
			if err == nil && msg != nil {
				msgs <- msg
			}
		})
	}()

	// Wait for the viewer session before producing.
	deadline := time.Now().Add(testTimeout)
	for srv.ActiveSessions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer did not connect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	producer, err := c.DialViewer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer producer.Close()
	if err := producer.Publish(entry.LevelWarning, "disk at 91%"); err != nil {
		t.Fatal(err)
	}
	// The producer is a viewer too, so its own log_update may come first.
	for {
		data, err := producer.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		reply, err := ui.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if r, ok := reply.(ui.ReplyMsg); ok {
			if r.Status != "ok" {
				t.Errorf("producer reply = %+v", r)
			}
			break
		}
	}

	timeout := time.After(testTimeout)
	for {
		select {
		case msg := <-msgs:
			if lm, ok := msg.(ui.LogMsg); ok {
				if lm.Message != "disk at 91%" || lm.Level != entry.LevelWarning {
					t.Errorf("log update = %+v", lm)
				}
				cancel()
				if err := <-watchErr; err != nil {
					t.Errorf("Watch() error = %v", err)
				}
				return
			}
		case <-timeout:
			t.Fatal("no log update received")
		}
	}
}

func TestWatchConnectionRefused(t *testing.T) {
	c := New("127.0.0.1:1")
	c.Timeout = time.Second
	if err := c.Watch(context.Background(), func([]byte) {}); err == nil {
		t.Error("Watch() should fail when nothing listens")
	}
}

func TestFromRelay(t *testing.T) {
	c := FromRelay(&discovery.Relay{IP: "10.0.0.2", Port: 8080, WSPath: "/live", RawPort: 9090})
	if c.Addr != "10.0.0.2:8080" || c.rawAddr() != "10.0.0.2:9090" {
		t.Errorf("Addr = %q rawAddr = %q", c.Addr, c.rawAddr())
	}
	if got := c.WebSocketURL(); got != "ws://10.0.0.2:8080/live" {
		t.Errorf("WebSocketURL() = %q", got)
	}
}
