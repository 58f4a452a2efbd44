package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// MaxRequestSize bounds a buffered request, headers plus body.
const MaxRequestSize = 1 << 20

var (
	ErrMalformedRequest = errors.New("malformed http request")
	ErrRequestTooLarge  = errors.New("http request exceeds size limit")
)

var headerEnd = []byte("\r\n\r\n")

// Request is a parsed HTTP/1.x request. Header keys are kept as received.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

// Header looks a header up case-insensitively.
func (r *Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// QueryInt returns a numeric query parameter, or def when absent or invalid.
func (r *Request) QueryInt(name string, def int) int {
	v, ok := r.Query[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// KeepAlive reports whether the connection should stay open after the response.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.Header("Connection"))
	if r.Version == "HTTP/1.0" {
		return strings.Contains(conn, "keep-alive")
	}
	return !strings.Contains(conn, "close")
}

// RequestComplete reports whether buf holds at least one whole request and,
// if so, its length. A request is whole once the blank line is seen and the
// Content-Length bytes that follow it are present.
func RequestComplete(buf []byte) (int, bool, error) {
	idx := bytes.Index(buf, headerEnd)
	if idx < 0 {
		if len(buf) > MaxRequestSize {
			return 0, false, ErrRequestTooLarge
		}
		return 0, false, nil
	}

	bodyLen := 0
	for _, line := range bytes.Split(buf[:idx], []byte("\r\n"))[1:] {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !strings.EqualFold(string(bytes.TrimSpace(name)), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return 0, false, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedRequest, value)
		}
		bodyLen = n
	}

	total := idx + len(headerEnd) + bodyLen
	if total > MaxRequestSize {
		return 0, false, ErrRequestTooLarge
	}
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// ParseRequest parses one request. Header lines without a colon are ignored;
// a request line that does not have exactly method, target and version fails
// with ErrMalformedRequest.
func ParseRequest(data []byte) (*Request, error) {
	head, body, found := bytes.Cut(data, headerEnd)
	if !found {
		body = nil
	}
	lines := strings.Split(string(head), "\r\n")

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, lines[0])
	}

	req := &Request{
		Method:  parts[0],
		Version: parts[2],
		Headers: make(map[string]string, len(lines)-1),
		Query:   make(map[string]string),
		Body:    body,
	}

	path, rawQuery, _ := strings.Cut(parts[1], "?")
	req.Path = path
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		req.Query[unescape(k)] = unescape(v)
	}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return req, nil
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// Response is an HTTP response assembled by a handler.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// NewResponse returns an empty response with the given status.
func NewResponse(code int) *Response {
	return &Response{StatusCode: code, Headers: make(map[string]string)}
}

// JSONResponse returns a response with v encoded as its JSON body.
func JSONResponse(code int, v any) *Response {
	resp := NewResponse(code)
	resp.Headers["Content-Type"] = "application/json"
	data, err := json.Marshal(v)
	if err != nil {
		resp.StatusCode = 500
		data = []byte(`{"error":"failed to encode response"}`)
	}
	resp.Body = data
	return resp
}

// ErrorResponse returns {"error": msg} with the given status.
func ErrorResponse(code int, msg string) *Response {
	return JSONResponse(code, map[string]string{"error": msg})
}

// Serialize renders the status line, headers in sorted order and the body.
// Content-Length is always emitted except on 1xx responses.
func (r *Response) Serialize() []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	_, _ = bb.WriteString("HTTP/1.1 ")
	_, _ = bb.WriteString(StatusLine(r.StatusCode))
	_, _ = bb.WriteString("\r\n")

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = bb.WriteString(k)
		_, _ = bb.WriteString(": ")
		_, _ = bb.WriteString(r.Headers[k])
		_, _ = bb.WriteString("\r\n")
	}
	if r.StatusCode >= 200 {
		_, _ = bb.WriteString("Content-Length: ")
		_, _ = bb.WriteString(strconv.Itoa(len(r.Body)))
		_, _ = bb.WriteString("\r\n")
	}
	_, _ = bb.WriteString("\r\n")
	_, _ = bb.Write(r.Body)
	return append([]byte(nil), bb.B...)
}
