package ingest

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/muurk/logrelay/internal/entry"
)

// ProtocolRaw and ProtocolWebSocket label entries by how they arrived.
const (
	ProtocolRaw       = "raw"
	ProtocolWebSocket = "websocket"
)

// Ack is the reply to one accepted raw line.
type Ack struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	MessageSize   int    `json:"message_size"`
	ServerID      string `json:"server_id"`
	Client        string `json:"client"`
	MessageNumber uint64 `json:"message_number"`
	TotalBytes    uint64 `json:"total_bytes"`
}

// NewAck builds a success ack stamped with the current local time.
func NewAck(serverID, client string, size int, number, total uint64) Ack {
	return Ack{
		Status:        "success",
		Timestamp:     time.Now().Format(entry.TimeLayout),
		MessageSize:   size,
		ServerID:      serverID,
		Client:        client,
		MessageNumber: number,
		TotalBytes:    total,
	}
}

// Bytes renders the ack as one newline-terminated JSON object.
func (a Ack) Bytes() []byte {
	data, _ := json.Marshal(a)
	return append(data, '\n')
}

// MaxLineSize bounds an unterminated raw line held between reads.
const MaxLineSize = 1 << 20

// SplitLines splits buffered input into lines and returns the unterminated
// tail as rest, to be prefixed to the next read. A tail that is already a
// whole line is returned as a line, for producers that never send a newline.
// Carriage returns are trimmed and blank lines dropped.
func SplitLines(data []byte) (lines [][]byte, rest []byte) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if !entry.Whole(string(data)) {
				return lines, data
			}
			i = len(data)
		}
		line := bytes.TrimRight(data[:i], "\r")
		data = data[min(i+1, len(data)):]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// RawLine parses one raw line from ip:port and ingests it. Lines that do not
// parse are recorded as skipped and returned with the parse error.
func (p *Pipeline) RawLine(remoteAddr, ip string, port int, line []byte) (entry.Entry, error) {
	parsed, err := entry.ParseLine(string(line))
	if err != nil {
		p.Skip(ProtocolRaw, remoteAddr, line, err)
		return entry.Entry{}, err
	}
	e := parsed.Entry(ip, port, time.Now().Format(entry.TimeLayout))
	p.Ingest(ProtocolRaw, e)
	return e, nil
}

// WebSocketMessage decodes one JSON entry received from a WebSocket client
// and ingests it.
func (p *Pipeline) WebSocketMessage(remoteAddr, ip string, port int, payload []byte) (entry.Entry, error) {
	e, err := entry.DecodeWire(payload, ip, port)
	if err != nil {
		p.Skip(ProtocolWebSocket, remoteAddr, payload, err)
		return entry.Entry{}, err
	}
	p.Ingest(ProtocolWebSocket, e)
	return e, nil
}
