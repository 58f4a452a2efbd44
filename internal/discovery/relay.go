package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Relay is a logrelay server found on the network.
type Relay struct {
	// Instance is the advertised instance name (e.g. "logrelay")
	Instance string

	// Hostname is the mDNS hostname (e.g. "buildbox.local.")
	Hostname string

	IP   string
	Port int

	// WSPath is the WebSocket path from the "ws" TXT record
	WSPath string

	// RawPort is the standalone raw listener port from the "raw" TXT record, 0 when disabled
	RawPort int

	// Version is the server version from the "version" TXT record
	Version string

	// Metadata contains every TXT record
	Metadata map[string]string

	DiscoveredAt time.Time
}

func (r *Relay) String() string {
	return fmt.Sprintf("logrelay %s (%s) at %s", r.Instance, r.Hostname, r.Addr())
}

// Addr returns host:port of the main listener.
func (r *Relay) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// BaseURL returns the HTTP base URL of the relay.
func (r *Relay) BaseURL() string {
	return "http://" + r.Addr()
}

// WebSocketURL returns the viewer URL of the relay.
func (r *Relay) WebSocketURL() string {
	path := r.WSPath
	if path == "" {
		path = "/ws"
	}
	return "ws://" + r.Addr() + path
}

// RawAddr returns the address raw producers should use: the standalone
// listener when advertised, otherwise the main port.
func (r *Relay) RawAddr() string {
	if r.RawPort > 0 {
		return net.JoinHostPort(r.IP, strconv.Itoa(r.RawPort))
	}
	return r.Addr()
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (r *Relay) GetMetadata(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}
