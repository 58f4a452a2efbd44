// Logrelay-server accepts log lines from raw TCP and WebSocket producers,
// stores them and streams them to live viewers.
//
// Usage:
//
//	logrelay-server serve [flags]
//	logrelay-server rawtcp [flags]
//	logrelay-server config init|show
//
// See 'logrelay-server <command> --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/logrelay/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logrelay-server",
	Short: "Log ingestion and fan-out server",
	Long: `A single-port log relay.

Producers connect over raw TCP and send one "[LEVEL]{message}" line at a time,
or over WebSocket and send JSON entries. Every entry is appended to log.txt and
log.html, stored in MySQL when the retention policy selects it, and pushed to
every connected WebSocket viewer.

Use the 'logrelay' client to send, tail, watch and discover servers.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Flags shared by the serving commands
var (
	configPath string
	logLevel   string
	gopsAgent  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to logrelay.yaml (default: ./logrelay.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&gopsAgent, "gops", false, "Start a gops diagnostics agent")

	rootCmd.AddCommand(rawTCPCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logrelay-server %s\n", version.Full())
	},
}
