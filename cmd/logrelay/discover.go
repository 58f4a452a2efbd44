package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/logrelay/internal/discovery"
	"github.com/muurk/logrelay/internal/ui"
)

var discoverJSON bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find logrelay servers on the local network",
	Long: `Browse mDNS for _logrelay._tcp services until --timeout expires and list
every server that answered.`,
	Example: `  # List servers
  logrelay discover --timeout 3s

  # Machine-readable output
  logrelay discover --json`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print the servers as JSON")
}

type discoveredRelay struct {
	Instance  string `json:"instance"`
	Hostname  string `json:"hostname"`
	Addr      string `json:"addr"`
	WebSocket string `json:"websocket"`
	Raw       string `json:"raw"`
	Version   string `json:"version,omitempty"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := discovery.NewScanner()
	scanner.Timeout = timeout
	if !discoverJSON {
		fmt.Fprintf(os.Stderr, "Browsing %s for %s...\n", discovery.ServiceType, timeout)
	}
	relays, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Instance < relays[j].Instance })

	if discoverJSON {
		out := make([]discoveredRelay, 0, len(relays))
		for _, r := range relays {
			out = append(out, discoveredRelay{
				Instance:  r.Instance,
				Hostname:  r.Hostname,
				Addr:      r.Addr(),
				WebSocket: r.WebSocketURL(),
				Raw:       r.RawAddr(),
				Version:   r.Version,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printer := ui.NewPrinter(nil)
	if len(relays) == 0 {
		printer.PrintWarning("No servers found", map[string]string{
			"Service": discovery.ServiceType,
			"Timeout": timeout.String(),
		})
		return nil
	}
	for i, r := range relays {
		printer.PrintSuccess(fmt.Sprintf("%s (%d/%d)", r.Instance, i+1, len(relays)), map[string]string{
			"Host":      r.Hostname,
			"Address":   r.Addr(),
			"WebSocket": r.WebSocketURL(),
			"Raw TCP":   r.RawAddr(),
			"Version":   r.Version,
			"Raw port":  strconv.Itoa(r.RawPort),
		})
	}
	return nil
}
