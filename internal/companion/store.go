package companion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// StatsRow aggregates everything reported for one sink and kind.
type StatsRow struct {
	Sink           string
	Kind           string
	Reports        int64
	Detected       int64
	Blocked        int64
	Errored        int64
	WithoutContext int64
	Total          int64
	Timings        int64
	TimingsNanos   int64
}

// Store persists what the companion receives.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS packages (
		name TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sink_stats (
		sink TEXT NOT NULL,
		kind TEXT NOT NULL,
		reports INTEGER NOT NULL DEFAULT 0,
		detected INTEGER NOT NULL DEFAULT 0,
		blocked INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		without_context INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		timings INTEGER NOT NULL DEFAULT 0,
		timings_nanos INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (sink, kind)
	);
	`)
	return err
}

// SaveConfig replaces the stored configuration. It reports whether the
// token differs from the one stored before.
func (s *Store) SaveConfig(ctx context.Context, token, payload string) (bool, error) {
	prev, _, err := s.Config(ctx)
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config (id, token, payload, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET token = excluded.token, payload = excluded.payload, updated_at = excluded.updated_at`,
		token, payload, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("save config: %w", err)
	}
	return prev != token, nil
}

// Config returns the stored token and payload, empty if none.
func (s *Store) Config(ctx context.Context) (token, payload string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT token, payload FROM config WHERE id = 1`).Scan(&token, &payload)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("load config: %w", err)
	}
	return token, payload, nil
}

// UpsertPackages records name/version pairs.
func (s *Store) UpsertPackages(ctx context.Context, pkgs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO packages (name, version, seen_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET version = excluded.version, seen_at = excluded.seen_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for name, version := range pkgs {
		if _, err := stmt.ExecContext(ctx, name, version, now); err != nil {
			return fmt.Errorf("upsert package %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Packages returns every recorded package.
func (s *Store) Packages(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, version FROM packages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, err
		}
		out[name] = version
	}
	return out, rows.Err()
}

// AddStats folds one report into the running totals.
func (s *Store) AddStats(ctx context.Context, r StatsRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sink_stats (sink, kind, reports, detected, blocked, errored, without_context, total, timings, timings_nanos, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sink, kind) DO UPDATE SET
			reports = reports + 1,
			detected = detected + excluded.detected,
			blocked = blocked + excluded.blocked,
			errored = errored + excluded.errored,
			without_context = without_context + excluded.without_context,
			total = excluded.total,
			timings = timings + excluded.timings,
			timings_nanos = timings_nanos + excluded.timings_nanos,
			updated_at = excluded.updated_at`,
		r.Sink, r.Kind, r.Detected, r.Blocked, r.Errored, r.WithoutContext, r.Total, r.Timings, r.TimingsNanos, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add stats for %s: %w", r.Sink, err)
	}
	return nil
}

// Stats returns the totals ordered by sink.
func (s *Store) Stats(ctx context.Context) ([]StatsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sink, kind, reports, detected, blocked, errored, without_context, total, timings, timings_nanos
		FROM sink_stats ORDER BY sink, kind`)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		if err := rows.Scan(&r.Sink, &r.Kind, &r.Reports, &r.Detected, &r.Blocked, &r.Errored,
			&r.WithoutContext, &r.Total, &r.Timings, &r.TimingsNanos); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
