// Package metrics holds the Prometheus collectors of the server and the admin
// listener that exposes them.
//
// Every Observe method is safe on a nil *Metrics, so components built without
// metrics (tests, the client) pay nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "logrelay"

type Metrics struct {
	Registry *prometheus.Registry

	connsAccepted  prometheus.Counter
	connsClosed    prometheus.Counter
	acceptErrors   prometheus.Counter
	bytesRead      prometheus.Counter
	frames         *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	ingested       *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	persisted      prometheus.Counter
	persistFailed  prometheus.Counter
	broadcasts     prometheus.Counter
	broadcastFails prometheus.Counter
	linesFlushed   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Connections accepted by the event loop.",
		}),
		connsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Connections torn down by the event loop.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accept_errors_total",
			Help: "Failed accept or registration attempts.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_bytes_total",
			Help: "Bytes read from client connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_frames_total",
			Help: "Decoded WebSocket frames by opcode.",
		}, []string{"opcode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_ingested_total",
			Help: "Log entries accepted by protocol and level.",
		}, []string{"protocol", "level"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_skipped_total",
			Help: "Malformed log lines that were dropped.",
		}, []string{"protocol"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_persisted_total",
			Help: "Log entries written to the store.",
		}),
		persistFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "Log entries the store rejected.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_deliveries_total",
			Help: "Frames delivered to WebSocket viewers.",
		}),
		broadcastFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_failures_total",
			Help: "Frames that could not be delivered to a viewer.",
		}),
		linesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "log_lines_flushed_total",
			Help: "Lines appended to the text log files.",
		}, []string{"file"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connsAccepted, m.connsClosed, m.acceptErrors, m.bytesRead,
		m.frames, m.httpRequests, m.ingested, m.skipped,
		m.persisted, m.persistFailed, m.broadcasts, m.broadcastFails,
		m.linesFlushed,
	)
	return m
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, fn))
}

func (m *Metrics) ObserveAccept(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.acceptErrors.Inc()
		return
	}
	m.connsAccepted.Inc()
}

func (m *Metrics) ObserveClose() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

func (m *Metrics) ObserveRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) ObserveFrame(opcode string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(opcode).Inc()
}

func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveIngest(protocol, level string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(protocol, level).Inc()
}

func (m *Metrics) ObserveSkip(protocol string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ObservePersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persistFailed.Inc()
		return
	}
	m.persisted.Inc()
}

func (m *Metrics) ObserveBroadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(float64(delivered))
	m.broadcastFails.Add(float64(failed))
}

func (m *Metrics) ObserveFlush(file string, lines int) {
	if m == nil {
		return
	}
	m.linesFlushed.WithLabelValues(file).Add(float64(lines))
}
