package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const defaultPoolSize = 4

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	base_url        TEXT NOT NULL UNIQUE,
	collector       TEXT NOT NULL,
	active          INTEGER NOT NULL DEFAULT 1,
	last_scraped_at TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id        INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	raw_name         TEXT NOT NULL,
	display_name     TEXT,
	street           TEXT,
	house_number     TEXT,
	postal_code      TEXT,
	city             TEXT,
	country          TEXT NOT NULL DEFAULT 'Deutschland',
	latitude         REAL,
	longitude        REAL,
	geocoding_status TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE (source_id, raw_name)
);

CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id    INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	location_id  INTEGER REFERENCES locations(id) ON DELETE SET NULL,
	external_id  TEXT NOT NULL,
	title        TEXT NOT NULL,
	date         TEXT NOT NULL,
	time         TEXT,
	end_date     TEXT,
	end_time     TEXT,
	url          TEXT,
	raw_location TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	deleted_at   TEXT,
	UNIQUE (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
CREATE INDEX IF NOT EXISTS idx_events_location ON events(location_id);

CREATE TABLE IF NOT EXISTS scrape_logs (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id           INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	started_at          TEXT NOT NULL,
	finished_at         TEXT,
	status              TEXT NOT NULL DEFAULT 'running',
	events_found        INTEGER NOT NULL DEFAULT 0,
	events_new          INTEGER NOT NULL DEFAULT 0,
	events_updated      INTEGER NOT NULL DEFAULT 0,
	skipped_duplicates  INTEGER NOT NULL DEFAULT 0,
	invalid_records     INTEGER NOT NULL DEFAULT 0,
	geocoding_success   INTEGER NOT NULL DEFAULT 0,
	geocoding_multiple  INTEGER NOT NULL DEFAULT 0,
	geocoding_not_found INTEGER NOT NULL DEFAULT 0,
	geocoding_errors    INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT
);

CREATE INDEX IF NOT EXISTS idx_scrape_logs_source ON scrape_logs(source_id, started_at);
`

// Store is a storage.Store backed by a SQLite database file.
type Store struct {
	pool *sqlitex.Pool
	path string
	now  func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. A leading "~/" in path is expanded.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	poolSize := defaultPoolSize
	if path == ":memory:" {
		// each in-memory connection is its own database
		poolSize = 1
	} else {
		expanded, err := storage.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}

	s := &Store{pool: pool, path: path, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("sqlite store opened", logger.Fields{"path": path, "pool_size": poolSize})
	return s, nil
}

// Close closes all pooled connections.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

// query runs one statement on a pooled connection, calling fn per result row.
func (s *Store) query(ctx context.Context, sql string, args []any, fn func(stmt *sqlite.Stmt) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{Args: args, ResultFunc: fn})
}

// exec runs one write statement and returns the rowid of the last insert and
// the number of changed rows.
func (s *Store) exec(ctx context.Context, sql string, args ...any) (lastID int64, changes int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{Args: args}); err != nil {
		return 0, 0, err
	}
	return conn.LastInsertRowID(), conn.Changes(), nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(text string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func columnTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	t := parseTime(stmt.ColumnText(col))
	return &t
}

func columnInt64Ptr(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	v := stmt.ColumnInt64(col)
	return &v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
