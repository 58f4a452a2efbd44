package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
)

const (
	// ServiceType is the mDNS service type advertised by logrelay servers
	ServiceType = "_logrelay._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for relay discovery
	DefaultScanTimeout = 5 * time.Second
)

// TXT record keys.
const (
	txtVersion = "version"
	txtWSPath  = "ws"
	txtRaw     = "raw"
)

// Advertisement describes what a server announces.
type Advertisement struct {
	Instance string
	Port     int
	WSPath   string
	// RawPort is the standalone raw listener, 0 when disabled.
	RawPort int
	Version string
}

// TXT renders the advertisement's TXT records.
func (a Advertisement) TXT() []string {
	txt := []string{txtVersion + "=" + a.Version, txtWSPath + "=" + a.WSPath}
	if a.RawPort > 0 {
		txt = append(txt, txtRaw+"="+strconv.Itoa(a.RawPort))
	}
	return txt
}

// Advertiser keeps a service registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise registers the server on every multicast interface.
func Advertise(a Advertisement) (*Advertiser, error) {
	server, err := zeroconf.Register(a.Instance, ServiceType, ServiceDomain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising over mDNS",
		zap.String("instance", a.Instance),
		zap.String("service", ServiceType),
		zap.Int("port", a.Port),
		zap.Strings("txt", a.TXT()),
	)
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration. It is safe to call more than once.
func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.once.Do(a.server.Shutdown)
}

// Scanner handles mDNS relay discovery
type Scanner struct {
	// Timeout is the maximum time to wait for relays
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses for relays until the timeout and returns every one found.
func (s *Scanner) Scan(ctx context.Context) ([]*Relay, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu     sync.Mutex
		relays []*Relay
		done   = make(chan struct{})
	)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(done)
		for entry := range entries {
			if r := parseServiceEntry(entry); r != nil {
				mu.Lock()
				relays = append(relays, r)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	return relays, nil
}

// First returns the first relay found, or an error when none answers in time.
func (s *Scanner) First(ctx context.Context) (*Relay, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Relay, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if r := parseServiceEntry(entry); r != nil {
				select {
				case found <- r:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case r := <-found:
		return r, nil
	case <-ctx.Done():
		select {
		case r := <-found:
			return r, nil
		default:
		}
		return nil, fmt.Errorf("no logrelay server found within %s", s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Relay.
// Returns nil when the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Relay {
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		k, v, _ := strings.Cut(txt, "=")
		metadata[k] = v
	}

	r := &Relay{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		WSPath:       metadata[txtWSPath],
		Version:      metadata[txtVersion],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
	if raw, err := strconv.Atoi(metadata[txtRaw]); err == nil {
		r.RawPort = raw
	}
	return r
}
