package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/rawtcp"
	"github.com/muurk/logrelay/internal/version"
)

// Raw TCP command flags
var (
	rawHost      string
	rawPort      int
	rawDriver    string
	rawMulticore bool
)

var rawTCPCmd = &cobra.Command{
	Use:   "rawtcp",
	Short: "Run only the raw TCP listener",
	Long: `Run the gnet-based raw TCP listener without HTTP or WebSocket.

Lines are parsed, acknowledged, written to the log files and stored exactly as
on the main port. There are no viewers, so nothing is broadcast.`,
	Example: `  # Accept raw producers on port 9090
  logrelay-server rawtcp --port 9090 --multicore`,
	RunE: runRawTCP,
}

func init() {
	rawTCPCmd.Flags().StringVar(&rawHost, "host", "", "Listen address (empty = all interfaces)")
	rawTCPCmd.Flags().IntVarP(&rawPort, "port", "p", 0, "Listen port (default from raw_tcp.port)")
	rawTCPCmd.Flags().StringVar(&rawDriver, "driver", "", "Store driver (mysql or memory)")
	rawTCPCmd.Flags().BoolVar(&rawMulticore, "multicore", false, "Run one event loop per CPU")
}

func runRawTCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.RawTCP.Enabled = true
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.RawTCP.Host = rawHost
	}
	if flags.Changed("port") {
		cfg.RawTCP.Port = rawPort
	}
	if flags.Changed("driver") {
		cfg.Database.Driver = rawDriver
	}
	if flags.Changed("multicore") {
		cfg.RawTCP.Multicore = rawMulticore
	}
	// The main port is not opened by this command.
	if cfg.RawTCP.Port == cfg.Server.Port {
		cfg.Server.Port = 0
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()
	if err := promptPassword(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if err := b.startWriter(nil); err != nil {
		return errors.Join(err, b.Close())
	}

	raw := rawtcp.New(rawtcp.Config{
		Host:      cfg.RawTCP.Host,
		Port:      cfg.RawTCP.Port,
		ServerID:  cfg.Server.ServerID,
		Multicore: cfg.RawTCP.Multicore,
	}, nil, b.pipeline, b.metrics)

	errChan := make(chan error, 1)
	go func() { errChan <- raw.Run() }()
	fmt.Fprintf(os.Stderr, "logrelay-server %s raw listener on %s\n", version.Version, raw.Addr())

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received, stopping raw listener...")
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = raw.Stop(stopCtx)
		cancel()
		err = errors.Join(err, <-errChan)
	case err = <-errChan:
	}
	return errors.Join(err, b.Close())
}
