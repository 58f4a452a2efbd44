// Logrelay is the client for logrelay-server: it sends and tails log lines,
// watches the live stream and finds servers on the local network.
//
// Usage:
//
//	logrelay send [flags] [message...]
//	logrelay tail [flags] <file>
//	logrelay watch [flags]
//	logrelay discover [flags]
//
// See 'logrelay <command> --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/logrelay/internal/client"
	"github.com/muurk/logrelay/internal/discovery"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/version"
)

// serverEnvVar supplies the default for --server.
const serverEnvVar = "LOGRELAY_SERVER"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logrelay",
	Short: "Client for logrelay-server",
	Long: `Send, tail and watch logs on a logrelay server.

The server is taken from --server, then $LOGRELAY_SERVER, then 127.0.0.1:8080.
With --discover the first server answering on mDNS is used instead.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

// Global flags
var (
	serverAddr string
	rawAddr    string
	wsPath     string
	useMDNS    bool
	timeout    time.Duration
	logLevel   string
)

func init() {
	defaultServer := os.Getenv(serverEnvVar)
	if defaultServer == "" {
		defaultServer = "127.0.0.1:8080"
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&serverAddr, "server", "s", defaultServer, "Server host:port")
	pf.StringVar(&rawAddr, "raw-addr", "", "Raw TCP host:port when it differs from --server")
	pf.StringVar(&wsPath, "ws-path", client.DefaultWSPath, "WebSocket path")
	pf.BoolVarP(&useMDNS, "discover", "d", false, "Find the server over mDNS")
	pf.DurationVar(&timeout, "timeout", client.DefaultTimeout, "Network timeout")
	pf.StringVar(&logLevel, "log-level", "", "Client log level (debug, info, warn, error); silent by default")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds the client from the global flags, browsing mDNS when
// --discover is set.
func newClient(ctx context.Context) (*client.Client, error) {
	if useMDNS {
		scanner := discovery.NewScanner()
		scanner.Timeout = timeout
		relay, err := scanner.First(ctx)
		if err != nil {
			return nil, err
		}
		c := client.FromRelay(relay)
		c.Timeout = timeout
		return c, nil
	}

	c := client.New(serverAddr)
	c.RawAddr = rawAddr
	c.WSPath = wsPath
	c.Timeout = timeout
	return c, nil
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logrelay %s\n", version.Full())
	},
}
