// Package server implements the logrelay event loop: one listening port
// serving raw TCP producers, HTTP clients and WebSocket viewers.
//
// The loop is a single goroutine blocked in epoll_wait. Every socket is
// non-blocking and registered level-triggered for readability. On each
// readiness event the loop reads once, then dispatches the bytes by the
// session's protocol.
//
// # Classification
//
// A session is classified once, from its first bytes:
//   - an HTTP method token ("GET ", "POST ", ...) makes it HTTP
//   - an HTTP upgrade request on the WebSocket path turns it into WebSocket
//   - anything else makes it Raw
//
// # Raw protocol
//
// Producers write one entry per line:
//
//	[WARNING]{disk at 90%}
//	<app.log>[ERROR]{request failed} at 2026-03-01 12:00:00
//
// Each accepted line is answered with a JSON ack:
//
//	{"status":"success","timestamp":"2026-03-01 12:00:00","message_size":22,
//	 "server_id":"logrelay-01","client":"10.0.0.5:51234",
//	 "message_number":1,"total_bytes":23}
//
// Lines that do not parse are logged and skipped without a reply. A line
// split across reads is held until its newline arrives; a tail that is
// already a whole line is taken as is, for producers that send no newline.
//
// # HTTP and WebSocket
//
// HTTP requests and WebSocket frames are assembled in the session's pending
// buffer until whole, so a request or frame split across reads is handled
// the same as one that arrived at once. Routes run on their own goroutine
// and hand the response back to the loop through the eventfd; requests
// pipelined behind one in flight wait their turn. Built-in routes:
//   - GET /api/logs?limit=&offset=&level=
//   - GET /api/stats
//   - GET /api/download-log?type=txt|html
//
// Anything else is served from the static root.
//
// WebSocket producers send JSON entries and receive
// {"status":"ok","message":"Log queued"}. Viewers receive a log_update for
// every persisted entry and a periodic stats_update.
//
// # Usage Example
//
//	srv := server.New(&server.Config{Port: 8080, StaticDir: "./static"}, server.Deps{
//	    Store:  pool,
//	    Ingest: pipeline,
//	})
//	writer := dbwriter.New(pool, srv, dbwriter.Options{})
//	pipeline.Queue = writer
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Concurrency
//
// Only the loop goroutine reads sockets and closes them. Broadcasts run on
// writer goroutines; they share each connection's write lock with the loop
// and never write to a connection the loop has closed.
//
// No write waits for a peer. Bytes a socket does not take are queued on the
// connection and flushed when epoll reports it writable. A peer that falls
// more than 4 MiB behind is disconnected.
package server
