package storage

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const DefaultPollInterval = 2 * time.Second

// SQLiteTier is the local tier: a key/value table in a SQLite database.
type SQLiteTier struct {
	db   *sql.DB
	path string
	// PollInterval is how often Watch checks for commits by other
	// connections.
	PollInterval time.Duration
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteTier, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Database ready", slog.String("path", path))
	return &SQLiteTier{db: db, path: path, PollInterval: DefaultPollInterval}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs.New: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite3.WithInstance: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (t *SQLiteTier) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := t.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

func (t *SQLiteTier) Set(ctx context.Context, key string, value []byte) error {
	_, err := t.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Watch polls PRAGMA data_version on a dedicated connection. The version
// only moves when another connection commits, and onChange only fires when
// the value under key differs from the last one seen.
func (t *SQLiteTier) Watch(ctx context.Context, key string, onChange func(value []byte)) error {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("t.db.Conn: %w", err)
	}
	defer conn.Close()

	version := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
		return v, err
	}
	last, err := version()
	if err != nil {
		return fmt.Errorf("PRAGMA data_version: %w", err)
	}
	seen, _ := t.Get(ctx, key)

	interval := t.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		v, err := version()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("PRAGMA data_version", slog.Any("error", err))
			continue
		}
		if v == last {
			continue
		}
		last = v
		value, err := t.Get(ctx, key)
		if err != nil || bytes.Equal(value, seen) {
			continue
		}
		seen = value
		slog.Debug("Storage changed", slog.String("tier", "sqlite"), slog.String("key", key))
		onChange(value)
	}
}

func (t *SQLiteTier) Path() string { return t.path }

func (t *SQLiteTier) Close() error {
	return t.db.Close()
}
