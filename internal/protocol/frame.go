package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// WebSocket frame opcodes
const (
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2
	OpcodeClose        = 0x8
	OpcodePing         = 0x9
	OpcodePong         = 0xA
)

// MaxFrameSize bounds the declared payload length of a single frame.
const MaxFrameSize = 1 << 20

var (
	// ErrIncompleteFrame means the buffer ends before the declared frame does.
	// The caller keeps the bytes and retries once more data arrives.
	ErrIncompleteFrame = errors.New("incomplete websocket frame")
	ErrFrameTooLarge   = errors.New("websocket frame exceeds size limit")
)

// Frame is one decoded WebSocket frame.
type Frame struct {
	FIN     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  byte
	Masked  bool
	Length  uint64
	MaskKey [4]byte
	Payload []byte // unmasked
	Raw     []byte // wire bytes of this frame
}

// headerLen returns the size of the fixed part plus extended length and mask.
func headerLen(b1 byte) int {
	n := 2
	switch b1 & 0x7F {
	case 126:
		n += 2
	case 127:
		n += 8
	}
	if b1&0x80 != 0 {
		n += 4
	}
	return n
}

// DecodeFrame decodes the frame at the start of buf and returns it with the
// number of bytes it occupied. When buf holds less than one whole frame it
// returns ErrIncompleteFrame and consumes nothing.
func DecodeFrame(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncompleteFrame
	}
	hl := headerLen(buf[1])
	if len(buf) < hl {
		return nil, 0, ErrIncompleteFrame
	}

	f := &Frame{
		FIN:    buf[0]&0x80 != 0,
		RSV1:   buf[0]&0x40 != 0,
		RSV2:   buf[0]&0x20 != 0,
		RSV3:   buf[0]&0x10 != 0,
		Opcode: buf[0] & 0x0F,
		Masked: buf[1]&0x80 != 0,
	}

	pos := 2
	switch n := uint64(buf[1] & 0x7F); n {
	case 126:
		f.Length = uint64(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
	case 127:
		f.Length = binary.BigEndian.Uint64(buf[pos:])
		pos += 8
	default:
		f.Length = n
	}
	if f.Length > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, f.Length)
	}
	if f.Masked {
		copy(f.MaskKey[:], buf[pos:pos+4])
		pos += 4
	}

	end := pos + int(f.Length)
	if len(buf) < end {
		return nil, 0, ErrIncompleteFrame
	}

	f.Raw = buf[:end:end]
	if f.Masked {
		f.Payload = unmaskPayload(buf[pos:end], f.MaskKey)
	} else {
		f.Payload = append([]byte(nil), buf[pos:end]...)
	}
	return f, end, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	head := make([]byte, 2, 14)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	head = head[:headerLen(head[1])]
	if _, err := io.ReadFull(r, head[2:]); err != nil {
		return nil, fmt.Errorf("failed to read extended header: %w", err)
	}

	var length uint64
	switch n := uint64(head[1] & 0x7F); n {
	case 126:
		length = uint64(binary.BigEndian.Uint16(head[2:]))
	case 127:
		length = binary.BigEndian.Uint64(head[2:])
	default:
		length = n
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	buf := make([]byte, len(head)+int(length))
	copy(buf, head)
	if _, err := io.ReadFull(r, buf[len(head):]); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	f, _, err := DecodeFrame(buf)
	return f, err
}

// unmaskPayload XORs payload with the mask key. The operation is its own inverse.
func unmaskPayload(payload []byte, maskKey [4]byte) []byte {
	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ maskKey[i%4]
	}
	return out
}

func writeHeader(bb *bytebufferpool.ByteBuffer, opcode byte, n int, masked bool) {
	_ = bb.WriteByte(0x80 | (opcode & 0x0F))
	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	switch {
	case n < 126:
		_ = bb.WriteByte(maskBit | byte(n))
	case n <= 0xFFFF:
		_ = bb.WriteByte(maskBit | 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		_, _ = bb.Write(ext[:])
	default:
		_ = bb.WriteByte(maskBit | 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		_, _ = bb.Write(ext[:])
	}
}

// EncodeFrame builds a final, unmasked server-to-client frame.
func EncodeFrame(opcode byte, payload []byte) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	writeHeader(bb, opcode, len(payload), false)
	_, _ = bb.Write(payload)
	return append([]byte(nil), bb.B...)
}

// EncodeMaskedFrame builds a final client-to-server frame masked with key.
func EncodeMaskedFrame(opcode byte, payload []byte, key [4]byte) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	writeHeader(bb, opcode, len(payload), true)
	_, _ = bb.Write(key[:])
	_, _ = bb.Write(unmaskPayload(payload, key))
	return append([]byte(nil), bb.B...)
}

// CloseFrame builds a CLOSE frame carrying a status code.
func CloseFrame(code uint16) []byte {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], code)
	return EncodeFrame(OpcodeClose, p[:])
}

// CloseCode returns the status code of a CLOSE payload, or 1005 when absent.
func CloseCode(payload []byte) uint16 {
	if len(payload) < 2 {
		return 1005
	}
	return binary.BigEndian.Uint16(payload)
}

// OpcodeString returns a human-readable opcode name
func (f *Frame) OpcodeString() string {
	switch f.Opcode {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", f.Opcode)
	}
}

// IsControl reports whether the frame is CLOSE, PING or PONG.
func (f *Frame) IsControl() bool {
	return f.Opcode&0x8 != 0
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.OpcodeString(), f.Masked, f.Length)
}
