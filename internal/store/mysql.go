package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/muurk/logrelay/internal/entry"
)

const schema = `CREATE TABLE IF NOT EXISTS log_table (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	level ENUM('TRACE','DEBUG','INFO','WARNING','ERROR','FATAL') NOT NULL,
	ip VARCHAR(45) NOT NULL,
	port SMALLINT UNSIGNED NOT NULL,
	message TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_timestamp (timestamp),
	INDEX idx_level (level)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const (
	insertSQL = "INSERT INTO log_table (level, ip, port, message, timestamp) VALUES (?, ?, ?, ?, ?)"
	selectSQL = "SELECT level, ip, port, message, timestamp FROM log_table"
	countSQL  = "SELECT COUNT(*) FROM log_table"
)

var dbNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// MySQLConfig addresses a MySQL server.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func (c MySQLConfig) dsn(withDB bool) string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	if withDB {
		cfg.DBName = c.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = 5 * time.Second
	return cfg.FormatDSN()
}

// MySQL is the MySQL backend. Each pooled Conn is a dedicated *sql.Conn.
type MySQL struct {
	cfg MySQLConfig
	db  *sql.DB
}

func NewMySQL(cfg MySQLConfig) *MySQL {
	return &MySQL{cfg: cfg}
}

// newMySQLWithDB wraps an already open handle and skips database creation.
func newMySQLWithDB(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

// Prepare creates the database and log_table when missing.
func (m *MySQL) Prepare(ctx context.Context, size int) error {
	if m.db == nil {
		if !dbNameRe.MatchString(m.cfg.Database) {
			return fmt.Errorf("invalid database name %q", m.cfg.Database)
		}

		admin, err := sql.Open("mysql", m.cfg.dsn(false))
		if err != nil {
			return fmt.Errorf("failed to open mysql: %w", err)
		}
		_, err = admin.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+m.cfg.Database+"`")
		_ = admin.Close()
		if err != nil {
			return fmt.Errorf("failed to create database %s: %w", m.cfg.Database, err)
		}

		db, err := sql.Open("mysql", m.cfg.dsn(true))
		if err != nil {
			return fmt.Errorf("failed to open mysql: %w", err)
		}
		m.db = db
	}

	m.db.SetMaxOpenConns(size)
	m.db.SetMaxIdleConns(size)
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create log_table: %w", err)
	}
	return nil
}

func (m *MySQL) Dial(ctx context.Context) (Conn, error) {
	c, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &mysqlConn{conn: c}, nil
}

func (m *MySQL) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

type mysqlConn struct {
	conn *sql.Conn
}

func (c *mysqlConn) Insert(ctx context.Context, e entry.Entry) error {
	ts := e.Time()
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := c.conn.ExecContext(ctx, insertSQL, e.Level.String(), e.SourceIP, e.SourcePort, e.Message, ts)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrPersistence, err)
	}
	return nil
}

func levelFilter(levels []entry.Level) (string, []any) {
	if len(levels) == 0 {
		return "", nil
	}
	marks := make([]string, len(levels))
	args := make([]any, len(levels))
	for i, l := range levels {
		marks[i] = "?"
		args[i] = l.String()
	}
	return " WHERE level IN (" + strings.Join(marks, ", ") + ")", args
}

func (c *mysqlConn) Query(ctx context.Context, q Query) ([]entry.Entry, error) {
	q = normalize(q)
	where, args := levelFilter(q.Levels)
	args = append(args, q.Offset, q.Limit)

	rows, err := c.conn.QueryContext(ctx, selectSQL+where+" ORDER BY timestamp DESC, id DESC LIMIT ?, ?", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []entry.Entry
	for rows.Next() {
		var (
			level string
			e     entry.Entry
			ts    time.Time
		)
		if err := rows.Scan(&level, &e.SourceIP, &e.SourcePort, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrPersistence, err)
		}
		if e.Level, err = entry.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		e.Timestamp = ts.Format(entry.TimeLayout)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrPersistence, err)
	}
	return out, nil
}

func (c *mysqlConn) Count(ctx context.Context, levels ...entry.Level) (int64, error) {
	where, args := levelFilter(levels)
	var n int64
	if err := c.conn.QueryRowContext(ctx, countSQL+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrPersistence, err)
	}
	return n, nil
}

func (c *mysqlConn) Close() error {
	return c.conn.Close()
}
