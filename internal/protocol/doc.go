// Package protocol implements the wire formats spoken on the logrelay port.
//
// Everything here is stateless: callers pass bytes in and get values or bytes
// back. The event loop in internal/server owns the buffering.
//
// # HTTP
//
// ParseRequest splits a request on CRLF into the request line, the headers up
// to the blank line, and the body. Query strings are split on '&' and '='.
// RequestComplete tells a caller holding a partial read whether a whole request
// (including its Content-Length body) is buffered yet. Response.Serialize
// renders a response with a status line from a fixed table.
//
// # WebSocket handshake
//
// ValidateUpgrade checks Upgrade, Connection and Sec-WebSocket-Key.
// HandshakeResponse answers with 101 Switching Protocols and
// Sec-WebSocket-Accept = base64(SHA-1(key + GUID)).
//
// # WebSocket frames
//
//	byte 0: FIN(1) RSV(3) opcode(4)
//	byte 1: MASK(1) length(7)   126 => 2 more length bytes, 127 => 8 more
//	[4 byte mask key when MASK is set]
//	payload, XORed with maskKey[i%4] when masked
//
// DecodeFrame returns ErrIncompleteFrame when the buffer ends before the
// declared payload does; the caller keeps the bytes and tries again later.
// EncodeFrame never sets the mask bit, since only client frames are masked.
package protocol
