package metrics

import (
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
)

// AdminServer serves /metrics and /healthz on a separate port from the
// ingestion listener.
type AdminServer struct {
	addr   string
	srv    *fasthttp.Server
	ln     net.Listener
	health func() error
}

// NewAdminServer builds the admin listener. health may be nil.
func NewAdminServer(addr string, m *Metrics, health func() error) *AdminServer {
	a := &AdminServer{addr: addr, health: health}
	scrape := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	a.srv = &fasthttp.Server{
		Name:         "logrelay-admin",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				scrape(ctx)
			case "/healthz":
				a.serveHealth(ctx)
			default:
				ctx.Error("not found", fasthttp.StatusNotFound)
			}
		},
	}
	return a
}

func (a *AdminServer) serveHealth(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if a.health != nil {
		if err := a.health(); err != nil {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			fmt.Fprintf(ctx, `{"status":"unhealthy","error":%q}`, err.Error())
			return
		}
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"status":"ok"}`)
}

// Start binds the admin address and serves in the background.
func (a *AdminServer) Start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("failed to bind admin listener %s: %w", a.addr, err)
	}
	a.ln = ln
	go func() {
		if err := a.srv.Serve(ln); err != nil {
			logging.Warn("Admin listener stopped", zap.Error(err))
		}
	}()
	logging.Info("Admin listener started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (a *AdminServer) Addr() string {
	if a.ln != nil {
		return a.ln.Addr().String()
	}
	return a.addr
}

func (a *AdminServer) Shutdown() error {
	return a.srv.Shutdown()
}
