package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gops/agent"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/config"
	"github.com/muurk/logrelay/internal/dbwriter"
	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/logbuf"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/metrics"
	"github.com/muurk/logrelay/internal/store"
)

// backend is everything behind the listeners: the log files, the store pool,
// the ingest pipeline and the database writer.
type backend struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	text     *logbuf.Buffer
	html     *logbuf.Buffer
	pool     *store.Pool
	pipeline *ingest.Pipeline
	writer   *dbwriter.Writer
	admin    *metrics.AdminServer
}

// openBackend builds the pipeline up to, but not including, the writer,
// which needs the broadcaster chosen by the command.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if gopsAgent {
		if err := agent.Listen(agent.Options{}); err != nil {
			logging.Warn("gops agent failed", zap.Error(err))
		}
	}

	b := &backend{cfg: cfg, metrics: metrics.New()}

	b.text = b.openLog(logbuf.TextFile, "")
	b.html = b.openLog(logbuf.HTMLFile, logbuf.HTMLHeader)

	var dialer store.Dialer
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logging.Warn("Using the in-memory store, entries are lost on exit")
		dialer = store.NewMemory()
	default:
		dialer = store.NewMySQL(store.MySQLConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
		})
	}
	pool, err := store.NewPool(ctx, dialer, cfg.Database.PoolSize)
	if err != nil {
		b.closeLogs()
		return nil, err
	}
	b.pool = pool

	b.pipeline = &ingest.Pipeline{
		Text:    b.text,
		HTML:    b.html,
		Metrics: b.metrics,
	}

	if cfg.Metrics.Enabled {
		b.admin = metrics.NewAdminServer(cfg.Metrics.Addr, b.metrics, b.health)
		if err := b.admin.Start(); err != nil {
			b.closeLogs()
			_ = b.pool.Destroy()
			return nil, fmt.Errorf("failed to start admin listener: %w", err)
		}
	}
	return b, nil
}

func (b *backend) openLog(name, header string) *logbuf.Buffer {
	buf := logbuf.New(&logbuf.FileSink{
		Path:   filepath.Join(b.cfg.Logs.Dir, name),
		Header: header,
	}, logbuf.Options{
		Capacity:      b.cfg.Logs.Capacity,
		FlushInterval: b.cfg.Logs.FlushInterval,
		OnFlush: func(lines int) {
			b.metrics.ObserveFlush(name, lines)
		},
	})
	b.metrics.Gauge(strings.ReplaceAll(name, ".", "_")+"_pending",
		"Lines buffered for "+name+" and not yet written.",
		func() float64 { return float64(buf.Pending()) })
	buf.Start()
	return buf
}

// startWriter attaches the database writer to the pipeline. bcast may be nil.
func (b *backend) startWriter(bcast dbwriter.Broadcaster) error {
	policy, err := dbwriter.ParsePolicy(b.cfg.Writer.Rule, b.cfg.Writer.MinLevel)
	if err != nil {
		return fmt.Errorf("invalid retention policy: %w", err)
	}
	b.writer = dbwriter.New(b.pool, bcast, dbwriter.Options{
		Policy:  policy,
		Wait:    b.cfg.Writer.Wait,
		Metrics: b.metrics,
	})
	b.writer.Start(max(b.cfg.Writer.Workers, 1))
	b.pipeline.Queue = b.writer
	logging.Info("Retention policy", zap.String("policy", fmt.Sprint(policy)))
	return nil
}

// health is the admin /healthz check: one store round trip.
func (b *backend) health() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.pool.With(ctx, func(c store.Conn) error {
		_, err := c.Count(ctx)
		return err
	})
}

func (b *backend) closeLogs() error {
	return errors.Join(b.text.Close(), b.html.Close())
}

// Close drains the writer, then flushes the log files, then closes the
// store. Listeners must already be stopped.
func (b *backend) Close() error {
	if b.writer != nil {
		b.writer.Shutdown()
	}
	err := b.closeLogs()
	if b.admin != nil {
		err = errors.Join(err, b.admin.Shutdown())
	}
	err = errors.Join(err, b.pool.Destroy())
	if gopsAgent {
		agent.Close()
	}
	logging.Info("Backend closed")
	return err
}
