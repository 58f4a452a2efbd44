// Package discovery advertises and finds logrelay servers over mDNS.
//
// A server registers itself as "_logrelay._tcp" in the "local." domain with
// TXT records describing how to reach it:
//
//	version=<server version>
//	ws=<WebSocket path>
//	raw=<standalone raw port>   (only when the gnet listener is enabled)
//
// # Usage Example
//
//	adv, err := discovery.Advertise(discovery.Advertisement{
//	    Instance: "logrelay",
//	    Port:     8080,
//	    WSPath:   "/ws",
//	    Version:  version.Version,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adv.Shutdown()
//
//	relay, err := discovery.NewScanner().First(ctx)
//	if err == nil {
//	    fmt.Println(relay.WebSocketURL())
//	}
//
// # Network Requirements
//
// Multicast must be available on the interface and UDP 5353 must not be
// filtered. Relays on other segments are not found.
package discovery
