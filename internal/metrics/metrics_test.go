package metrics

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAccept(nil)
	m.ObserveRead(10)
	m.ObserveIngest("raw", "INFO")
	m.ObservePersist(errors.New("x"))
	m.ObserveBroadcast(1, 1)
	m.Gauge("x", "y", func() float64 { return 0 })
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveAccept(nil)
	m.ObserveAccept(nil)
	m.ObserveAccept(errors.New("emfile"))
	m.ObservePersist(nil)
	m.ObservePersist(errors.New("down"))
	m.ObserveIngest("websocket", "ERROR")

	if got := testutil.ToFloat64(m.connsAccepted); got != 2 {
		t.Errorf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.acceptErrors); got != 1 {
		t.Errorf("accept errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.persistFailed); got != 1 {
		t.Errorf("persist failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ingested.WithLabelValues("websocket", "ERROR")); got != 1 {
		t.Errorf("ingested = %v, want 1", got)
	}
}

func TestAdminServer(t *testing.T) {
	m := New()
	m.Gauge("sessions", "Open sessions.", func() float64 { return 3 })
	var unhealthy atomic.Bool
	a := NewAdminServer("127.0.0.1:0", m, func() error {
		if unhealthy.Load() {
			return errors.New("store down")
		}
		return nil
	})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	body := get(t, "http://"+a.Addr()+"/metrics", http.StatusOK)
	if !strings.Contains(body, "logrelay_sessions 3") {
		t.Errorf("gauge missing from scrape output")
	}

	get(t, "http://"+a.Addr()+"/healthz", http.StatusOK)
	unhealthy.Store(true)
	if body := get(t, "http://"+a.Addr()+"/healthz", http.StatusServiceUnavailable); !strings.Contains(body, "store down") {
		t.Errorf("health body = %s", body)
	}
	get(t, "http://"+a.Addr()+"/nope", http.StatusNotFound)
}

func get(t *testing.T, url string, wantCode int) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantCode {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantCode)
	}
	return string(data)
}
