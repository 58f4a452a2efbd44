package server

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/protocol"
	"github.com/muurk/logrelay/internal/session"
)

// HandlerFunc answers one HTTP request.
type HandlerFunc func(req *protocol.Request, sess session.Session) *protocol.Response

// MessageHandler answers one WebSocket data message. A nil reply sends nothing.
type MessageHandler func(sess session.Session, payload []byte) []byte

// Router maps exact paths to handlers per method and serves files from a
// static root for everything else.
type Router struct {
	routes     map[string]map[string]HandlerFunc
	staticRoot string
	onMessage  MessageHandler
}

func NewRouter(staticRoot string) *Router {
	return &Router{
		routes: map[string]map[string]HandlerFunc{
			"GET":  {},
			"POST": {},
		},
		staticRoot: staticRoot,
	}
}

func (r *Router) HandleGet(p string, fn HandlerFunc) {
	r.handle("GET", p, fn)
}

func (r *Router) HandlePost(p string, fn HandlerFunc) {
	r.handle("POST", p, fn)
}

// HandleMessage sets the handler for WebSocket TEXT and BINARY messages.
func (r *Router) HandleMessage(fn MessageHandler) {
	r.onMessage = fn
}

func (r *Router) handle(method, p string, fn HandlerFunc) {
	if _, ok := r.routes[method][p]; ok {
		logging.Warn("Route already registered, keeping the first handler",
			zap.String("method", method),
			zap.String("path", p),
		)
		return
	}
	r.routes[method][p] = fn
}

// Serve dispatches req and compresses the response when the client allows it.
func (r *Router) Serve(req *protocol.Request, sess session.Session) *protocol.Response {
	routes, ok := r.routes[req.Method]
	if !ok {
		resp := protocol.ErrorResponse(405, "method not allowed")
		resp.Headers["Allow"] = "GET, POST"
		return resp
	}

	var resp *protocol.Response
	if fn, ok := routes[req.Path]; ok {
		resp = fn(req, sess)
	} else {
		resp = r.serveStatic(req)
	}
	return compress(req, resp)
}

func (r *Router) message(sess session.Session, payload []byte) []byte {
	if r.onMessage == nil {
		return nil
	}
	return r.onMessage(sess, payload)
}

// serveStatic maps the request path under the static root. Directory-like
// paths serve index.html.
func (r *Router) serveStatic(req *protocol.Request) *protocol.Response {
	if r.staticRoot == "" {
		return protocol.ErrorResponse(404, "not found")
	}

	clean := path.Clean("/" + req.Path)
	if strings.HasSuffix(req.Path, "/") {
		clean = path.Join(clean, "index.html")
	}
	full := filepath.Join(r.staticRoot, filepath.FromSlash(clean))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() {
		return protocol.ErrorResponse(404, "not found")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		logging.Error("Failed to read static file", zap.String("path", full), zap.Error(err))
		return protocol.ErrorResponse(500, "failed to read file")
	}
	resp := protocol.NewResponse(200)
	resp.Headers["Content-Type"] = protocol.ContentType(full)
	resp.Body = data
	return resp
}
