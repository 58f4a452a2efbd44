package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// websocketGUID is the fixed value appended to the client key (RFC 6455 section 1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrHandshake is returned when an upgrade request is not a valid WebSocket handshake.
var ErrHandshake = errors.New("websocket handshake failed")

// IsUpgrade reports whether req asks to switch to the websocket protocol.
// It does not validate the rest of the handshake.
func IsUpgrade(req *Request) bool {
	return strings.EqualFold(req.Header("Upgrade"), "websocket")
}

// ValidateUpgrade checks the headers a client must send to open a WebSocket.
func ValidateUpgrade(req *Request) error {
	if req.Method != "GET" {
		return fmt.Errorf("%w: method %s", ErrHandshake, req.Method)
	}
	if !IsUpgrade(req) {
		return fmt.Errorf("%w: Upgrade header %q", ErrHandshake, req.Header("Upgrade"))
	}
	if !strings.Contains(strings.ToLower(req.Header("Connection")), "upgrade") {
		return fmt.Errorf("%w: Connection header %q", ErrHandshake, req.Header("Connection"))
	}
	if req.Header("Sec-WebSocket-Key") == "" {
		return fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrHandshake)
	}
	return nil
}

// AcceptKey derives Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HandshakeResponse builds the 101 response for a validated upgrade request.
func HandshakeResponse(req *Request) *Response {
	resp := NewResponse(101)
	resp.Headers["Upgrade"] = "websocket"
	resp.Headers["Connection"] = "Upgrade"
	resp.Headers["Sec-WebSocket-Accept"] = AcceptKey(req.Header("Sec-WebSocket-Key"))
	return resp
}
