//go:build linux

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
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/config"
	"github.com/muurk/logrelay/internal/discovery"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/rawtcp"
	"github.com/muurk/logrelay/internal/server"
	"github.com/muurk/logrelay/internal/session"
	"github.com/muurk/logrelay/internal/version"
)

// Serve command flags
var (
	serveHost      string
	servePort      int
	serveStaticDir string
	serveLogDir    string
	serveDriver    string
	serveRaw       bool
	serveAdvertise bool
	serveMetrics   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay",
	Long: `Start the event-loop server on one port for raw TCP, HTTP and WebSocket.

Settings come from logrelay.yaml, then DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,
DB_NAME, APP_PORT and LOG_LEVEL, then the flags below. When MySQL is used and no
password is configured, it is prompted for on a terminal.`,
	Example: `  # Start with logrelay.yaml and the environment
  logrelay-server serve

  # Development mode without MySQL
  logrelay-server serve --driver memory --port 8080

  # Also run the gnet raw listener and advertise over mDNS
  logrelay-server serve --raw --advertise

  # Expose Prometheus metrics on the admin port
  logrelay-server serve --metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (empty = all interfaces)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port")
	serveCmd.Flags().StringVar(&serveStaticDir, "static", "", "Directory served for GET requests")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "Directory for log.txt and log.html")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "", "Store driver (mysql or memory)")
	serveCmd.Flags().BoolVar(&serveRaw, "raw", false, "Also start the standalone raw TCP listener")
	serveCmd.Flags().BoolVar(&serveAdvertise, "advertise", false, "Advertise the server over mDNS")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Serve /metrics and /healthz on the admin address")

	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("static") {
		cfg.Server.StaticDir = serveStaticDir
	}
	if flags.Changed("log-dir") {
		cfg.Logs.Dir = serveLogDir
	}
	if flags.Changed("driver") {
		cfg.Database.Driver = serveDriver
	}
	if flags.Changed("raw") {
		cfg.RawTCP.Enabled = serveRaw
	}
	if flags.Changed("advertise") {
		cfg.Discovery.Enabled = serveAdvertise
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = serveMetrics
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
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

	sessions := session.NewTable()
	srv := server.New(&server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WSPath:        cfg.Server.WSPath,
		StaticDir:     cfg.Server.StaticDir,
		LogDir:        cfg.Logs.Dir,
		ServerID:      cfg.Server.ServerID,
		StatsInterval: cfg.Server.StatsInterval,
	}, server.Deps{
		Sessions: sessions,
		Store:    b.pool,
		Ingest:   b.pipeline,
		Metrics:  b.metrics,
	})
	if err := b.startWriter(srv); err != nil {
		return errors.Join(err, b.Close())
	}
	if err := srv.Init(); err != nil {
		return errors.Join(err, b.Close())
	}

	var raw *rawtcp.Server
	rawErr := make(chan error, 1)
	if cfg.RawTCP.Enabled {
		raw = rawtcp.New(rawtcp.Config{
			Host:      cfg.RawTCP.Host,
			Port:      cfg.RawTCP.Port,
			ServerID:  cfg.Server.ServerID,
			Multicore: cfg.RawTCP.Multicore,
		}, sessions, b.pipeline, b.metrics)
		go func() { rawErr <- raw.Run() }()
	}

	if cfg.Discovery.Enabled {
		adv := discovery.Advertisement{
			Instance: cfg.Discovery.Instance,
			Port:     srv.Port(),
			WSPath:   cfg.Server.WSPath,
			Version:  version.Version,
		}
		if cfg.RawTCP.Enabled {
			adv.RawPort = cfg.RawTCP.Port
		}
		advertiser, err := discovery.Advertise(adv)
		if err != nil {
			logging.Warn("mDNS advertisement disabled", zap.Error(err))
		}
		defer advertiser.Shutdown()
	}

	fmt.Fprintf(os.Stderr, "logrelay-server %s listening on %s\n", version.Version, srv.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	rawStopped := false
	select {
	case err = <-serveErr:
	case err = <-rawErr:
		rawStopped = true
		logging.Error("Raw TCP listener stopped", zap.Error(err))
		srv.Stop()
		<-serveErr
	}

	if raw != nil && !rawStopped {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if stopErr := raw.Stop(stopCtx); stopErr != nil {
			logging.Warn("Raw TCP listener did not stop cleanly", zap.Error(stopErr))
		}
		cancel()
	}
	return errors.Join(err, b.Close())
}
