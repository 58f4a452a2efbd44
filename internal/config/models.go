package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muurk/logrelay/internal/entry"
)

// Config is the whole logrelay-server configuration file.
type Config struct {
	Version   int             `yaml:"version"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Writer    WriterConfig    `yaml:"writer"`
	Logs      LogsConfig      `yaml:"logs"`
	RawTCP    RawTCPConfig    `yaml:"raw_tcp"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServerConfig configures the event loop listener.
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	WSPath        string        `yaml:"ws_path"`
	StaticDir     string        `yaml:"static_dir"`
	ServerID      string        `yaml:"server_id"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "mysql" or "memory"
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	// Password is never written by Save. Use DB_PASSWORD or the prompt.
	Password string `yaml:"password,omitempty"`
	Name     string `yaml:"name"`
	PoolSize int    `yaml:"pool_size"`
}

// WriterConfig configures the asynchronous database writer.
type WriterConfig struct {
	Workers  int           `yaml:"workers"`
	MinLevel string        `yaml:"min_level"`
	Rule     string        `yaml:"rule,omitempty"` // expression overriding min_level
	Wait     time.Duration `yaml:"wait"`
}

// LogsConfig configures the plain-text and HTML log files.
type LogsConfig struct {
	Dir           string        `yaml:"dir"`
	Capacity      int           `yaml:"capacity"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RawTCPConfig configures the optional gnet raw listener.
type RawTCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Multicore bool   `yaml:"multicore"`
}

// MetricsConfig configures the admin listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:  1,
		LogLevel: "info",
		Server: ServerConfig{
			Port:          8080,
			WSPath:        "/ws",
			StaticDir:     "./static",
			ServerID:      "logrelay-01",
			StatsInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   DriverMySQL,
			Host:     "127.0.0.1",
			Port:     3306,
			User:     "root",
			Name:     "logging_db",
			PoolSize: 8,
		},
		Writer: WriterConfig{
			Workers:  2,
			MinLevel: entry.LevelWarning.String(),
			Wait:     time.Second,
		},
		Logs: LogsConfig{
			Dir:           "./logs",
			Capacity:      1024,
			FlushInterval: 3 * time.Second,
		},
		RawTCP: RawTCPConfig{
			Port: 9090,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Discovery: DiscoveryConfig{
			Instance: "logrelay",
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Version == 1, "unsupported config version: %d (expected 1)", c.Version)
	check(validPort(c.Server.Port, true), "server.port %d out of range", c.Server.Port)
	check(strings.HasPrefix(c.Server.WSPath, "/"), "server.ws_path %q must start with /", c.Server.WSPath)
	check(c.Server.ServerID != "", "server.server_id must not be empty")
	check(c.Server.StatsInterval >= 0, "server.stats_interval must not be negative")

	switch c.Database.Driver {
	case DriverMySQL:
		check(c.Database.Host != "", "database.host must not be empty")
		check(validPort(c.Database.Port, false), "database.port %d out of range", c.Database.Port)
		check(c.Database.Name != "", "database.name must not be empty")
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be %s or %s", c.Database.Driver, DriverMySQL, DriverMemory))
	}
	check(c.Database.PoolSize > 0, "database.pool_size must be positive")

	check(c.Writer.Workers >= 0, "writer.workers must not be negative")
	if _, err := entry.ParseLevel(c.Writer.MinLevel); err != nil {
		errs = append(errs, fmt.Errorf("writer.min_level: %w", err))
	}
	check(c.Logs.Capacity > 0, "logs.capacity must be positive")
	check(c.Logs.FlushInterval > 0, "logs.flush_interval must be positive")

	if c.RawTCP.Enabled {
		check(validPort(c.RawTCP.Port, false), "raw_tcp.port %d out of range", c.RawTCP.Port)
		check(c.RawTCP.Port != c.Server.Port, "raw_tcp.port must differ from server.port")
	}
	if c.Metrics.Enabled {
		check(c.Metrics.Addr != "", "metrics.addr must not be empty")
	}
	return errors.Join(errs...)
}

func validPort(p int, allowZero bool) bool {
	if p == 0 {
		return allowZero
	}
	return p > 0 && p <= 65535
}
