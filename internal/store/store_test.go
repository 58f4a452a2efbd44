package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/muurk/logrelay/internal/entry"
)

func TestMemoryQueryAndStats(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c, _ := mem.Dial(ctx)
	defer c.Close()

	rows := []entry.Entry{
		{Level: entry.LevelInfo, Message: "a", Timestamp: "2026-01-01 00:00:01"},
		{Level: entry.LevelWarning, Message: "b", Timestamp: "2026-01-01 00:00:02"},
		{Level: entry.LevelError, Message: "c", Timestamp: "2026-01-01 00:00:03"},
		{Level: entry.LevelFatal, Message: "d", Timestamp: "2026-01-01 00:00:04"},
	}
	for _, e := range rows {
		if err := c.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.Query(ctx, Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]entry.Entry{rows[3], rows[2]}, got); diff != "" {
		t.Errorf("newest first (-want +got):\n%s", diff)
	}

	got, _ = c.Query(ctx, Query{Limit: 10, Offset: 1, Levels: []entry.Level{entry.LevelError, entry.LevelInfo}})
	if diff := cmp.Diff([]entry.Entry{rows[0]}, got); diff != "" {
		t.Errorf("filtered with offset (-want +got):\n%s", diff)
	}

	got, _ = c.Query(ctx, Query{Offset: 10})
	if len(got) != 0 {
		t.Errorf("offset past end returned %d rows", len(got))
	}

	stats, err := ReadStats(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalLogs: 4, WarningCount: 1, ErrorCount: 2}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("ReadStats (-want +got):\n%s", diff)
	}
}

func TestMySQLConn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS log_table")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m := newMySQLWithDB(db)
	if err := m.Prepare(ctx, 2); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	c, err := m.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("WARNING", "10.0.0.1", int64(4000), "disk at 90%", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	e := entry.Entry{Level: entry.LevelWarning, SourceIP: "10.0.0.1", SourcePort: 4000, Message: "disk at 90%", Timestamp: "t"}
	if err := c.Insert(ctx, e); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local)
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL + " WHERE level IN (?) ORDER BY timestamp DESC, id DESC LIMIT ?, ?")).
		WithArgs("ERROR", int64(0), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"level", "ip", "port", "message", "timestamp"}).
			AddRow("ERROR", "10.0.0.2", int64(5000), "boom", ts))
	got, err := c.Query(ctx, Query{Limit: 10, Levels: []entry.Level{entry.LevelError}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := []entry.Entry{{Level: entry.LevelError, SourceIP: "10.0.0.2", SourcePort: 5000, Message: "boom", Timestamp: "2026-02-03 04:05:06"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Query() (-want +got):\n%s", diff)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM log_table WHERE level IN (?, ?)")).
		WithArgs("ERROR", "FATAL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	n, err := c.Count(ctx, entry.LevelError, entry.LevelFatal)
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v", n, err)
	}

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).WillReturnError(errors.New("connection lost"))
	if err := c.Insert(ctx, e); !errors.Is(err, ErrPersistence) {
		t.Errorf("Insert() error = %v, want ErrPersistence", err)
	}

	_ = c.Close()
	mock.ExpectClose()
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLRejectsBadDatabaseName(t *testing.T) {
	m := NewMySQL(MySQLConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "logs; DROP"})
	if err := m.Prepare(context.Background(), 1); err == nil {
		t.Error("expected invalid database name error")
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg := MySQLConfig{Host: "db", Port: 3307, User: "u", Password: "p", Database: "logging_db"}
	if got := cfg.dsn(true); !regexp.MustCompile(`^u:p@tcp\(db:3307\)/logging_db\?`).MatchString(got) {
		t.Errorf("dsn(true) = %q", got)
	}
	if got := cfg.dsn(false); !regexp.MustCompile(`^u:p@tcp\(db:3307\)/\?`).MatchString(got) {
		t.Errorf("dsn(false) = %q", got)
	}
}
