package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Request
		wantErr bool
	}{
		{
			name: "get with query",
			raw:  "GET /api/logs?limit=10&offset=5&level=ERROR HTTP/1.1\r\nHost: localhost\r\nX-Trace :  abc \r\n\r\n",
			want: &Request{
				Method:  "GET",
				Path:    "/api/logs",
				Version: "HTTP/1.1",
				Headers: map[string]string{"Host": "localhost", "X-Trace": "abc"},
				Query:   map[string]string{"limit": "10", "offset": "5", "level": "ERROR"},
				Body:    []byte{},
			},
		},
		{
			name: "post with body",
			raw:  "POST /submit HTTP/1.1\r\nContent-Length: 7\r\n\r\npayload",
			want: &Request{
				Method:  "POST",
				Path:    "/submit",
				Version: "HTTP/1.1",
				Headers: map[string]string{"Content-Length": "7"},
				Query:   map[string]string{},
				Body:    []byte("payload"),
			},
		},
		{
			name: "escaped query and flag parameter",
			raw:  "GET /search?q=disk%20full&verbose HTTP/1.0\r\n\r\n",
			want: &Request{
				Method:  "GET",
				Path:    "/search",
				Version: "HTTP/1.0",
				Headers: map[string]string{},
				Query:   map[string]string{"q": "disk full", "verbose": ""},
				Body:    []byte{},
			},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "two tokens", raw: "GET /\r\n\r\n", wantErr: true},
		{name: "not http version", raw: "GET / FTP/1.0\r\n\r\n", wantErr: true},
		{name: "raw log line", raw: "[INFO]{hello}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRequest) {
					t.Fatalf("ParseRequest() error = %v, want ErrMalformedRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest() unexpected error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRequest() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestHelpers(t *testing.T) {
	req, err := ParseRequest([]byte("GET /x?limit=abc&n=3 HTTP/1.1\r\nconnection: Close\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Header("Connection") != "Close" {
		t.Errorf("case-insensitive Header lookup failed")
	}
	if req.KeepAlive() {
		t.Error("KeepAlive() should be false for Connection: close")
	}
	if req.QueryInt("limit", 100) != 100 {
		t.Error("invalid number should yield the default")
	}
	if req.QueryInt("n", 0) != 3 {
		t.Error("QueryInt(n) should be 3")
	}
}

func TestRequestComplete(t *testing.T) {
	tests := []struct {
		name    string
		buf     string
		wantN   int
		wantOK  bool
		wantErr error
	}{
		{name: "no terminator yet", buf: "GET / HTTP/1.1\r\nHost: x\r\n"},
		{name: "headers only", buf: "GET / HTTP/1.1\r\n\r\n", wantN: 18, wantOK: true},
		{name: "body pending", buf: "POST / HTTP/1.1\r\nContent-Length: 4\r\n\r\nab"},
		{name: "body complete with pipelined tail", buf: "POST / HTTP/1.1\r\ncontent-length: 2\r\n\r\nabGET", wantN: 40, wantOK: true},
		{name: "bad length", buf: "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", wantErr: ErrMalformedRequest},
		{name: "too large", buf: "POST / HTTP/1.1\r\nContent-Length: 99999999\r\n\r\n", wantErr: ErrRequestTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := RequestComplete([]byte(tt.buf))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if n != tt.wantN || ok != tt.wantOK {
				t.Errorf("RequestComplete() = %d, %v; want %d, %v", n, ok, tt.wantN, tt.wantOK)
			}
		})
	}
}

func TestResponseSerialize(t *testing.T) {
	resp := NewResponse(404)
	resp.Headers["Content-Type"] = "text/plain; charset=utf-8"
	resp.Headers["Connection"] = "keep-alive"
	resp.Body = []byte("nope")
	got := string(resp.Serialize())
	want := "HTTP/1.1 404 Not Found\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"nope"
	if got != want {
		t.Errorf("Serialize() =\n%q\nwant\n%q", got, want)
	}
}

func TestJSONResponse(t *testing.T) {
	resp := JSONResponse(200, map[string]int{"totalLogs": 3})
	if string(resp.Body) != `{"totalLogs":3}` {
		t.Errorf("body = %s", resp.Body)
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("content type = %q", resp.Headers["Content-Type"])
	}
	bad := JSONResponse(200, make(chan int))
	if bad.StatusCode != 500 {
		t.Errorf("unencodable value should yield 500, got %d", bad.StatusCode)
	}
}

func TestHandshake(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"Host: localhost:8080\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateUpgrade(req); err != nil {
		t.Fatalf("ValidateUpgrade() error = %v", err)
	}

	// Sample key and accept value from RFC 6455 section 1.3.
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("AcceptKey() = %q", got)
	}

	out := string(HandshakeResponse(req).Serialize())
	if !strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("unexpected status line in %q", out)
	}
	if !strings.Contains(out, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("missing accept header in %q", out)
	}
	if strings.Contains(out, "Content-Length") {
		t.Errorf("101 response must not carry Content-Length")
	}

	delete(req.Headers, "Sec-WebSocket-Key")
	if err := ValidateUpgrade(req); !errors.Is(err, ErrHandshake) {
		t.Errorf("missing key: error = %v, want ErrHandshake", err)
	}
}

func TestStatusAndContentType(t *testing.T) {
	if StatusLine(405) != "405 Method Not Allowed" {
		t.Errorf("StatusLine(405) = %q", StatusLine(405))
	}
	if StatusLine(418) != "418 Unknown" {
		t.Errorf("StatusLine(418) = %q", StatusLine(418))
	}
	cases := map[string]string{
		"index.html":   "text/html; charset=utf-8",
		"app.JS":       "application/javascript",
		"style.css":    "text/css; charset=utf-8",
		"logo.png":     "image/png",
		"archive.tar":  "application/octet-stream",
		"no-extension": "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
