package server

import (
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"

	"github.com/muurk/logrelay/internal/protocol"
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 1024

// compress gzips resp when the client accepts gzip and the body is a large
// enough text payload.
func compress(req *protocol.Request, resp *protocol.Response) *protocol.Response {
	if resp == nil || len(resp.Body) < minCompressSize || resp.Headers["Content-Encoding"] != "" {
		return resp
	}
	if !acceptsGzip(req.Header("Accept-Encoding")) || !compressible(resp.Headers["Content-Type"]) {
		return resp
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	zw, err := gzip.NewWriterLevel(bb, gzip.DefaultCompression)
	if err != nil {
		return resp
	}
	if _, err := zw.Write(resp.Body); err != nil {
		return resp
	}
	if err := zw.Close(); err != nil {
		return resp
	}

	resp.Body = append([]byte(nil), bb.B...)
	resp.Headers["Content-Encoding"] = "gzip"
	resp.Headers["Vary"] = "Accept-Encoding"
	return resp
}

func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

func compressible(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "javascript") ||
		strings.Contains(ct, "xml")
}
