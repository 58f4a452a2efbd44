package protocol

import (
	"path/filepath"
	"strconv"
	"strings"
)

// statusTable is indexed by status code; the set of codes the server emits is fixed.
var statusTable = [506]string{
	101: "101 Switching Protocols",

	200: "200 OK",
	204: "204 No Content",

	301: "301 Moved Permanently",
	304: "304 Not Modified",

	400: "400 Bad Request",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	413: "413 Payload Too Large",

	500: "500 Internal Server Error",
	503: "503 Service Unavailable",
}

// StatusLine returns "<code> <reason>" for code.
func StatusLine(code int) string {
	if code > 0 && code < len(statusTable) && statusTable[code] != "" {
		return statusTable[code]
	}
	return strconv.Itoa(code) + " Unknown"
}

var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

// ContentType maps a file name to its MIME type by extension.
func ContentType(name string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}
