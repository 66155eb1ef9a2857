package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const defaultMaxConns = 4

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id              BIGSERIAL PRIMARY KEY,
	name            VARCHAR(255) NOT NULL,
	base_url        VARCHAR(500) NOT NULL UNIQUE,
	collector       VARCHAR(100) NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	last_scraped_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS locations (
	id               BIGSERIAL PRIMARY KEY,
	source_id        BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	raw_name         VARCHAR(500) NOT NULL,
	display_name     VARCHAR(500),
	street           VARCHAR(255),
	house_number     VARCHAR(20),
	postal_code      VARCHAR(10),
	city             VARCHAR(255),
	country          VARCHAR(100) NOT NULL DEFAULT 'Deutschland',
	latitude         NUMERIC(10, 8),
	longitude        NUMERIC(11, 8),
	geocoding_status VARCHAR(20),
	status           VARCHAR(20) NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_id, raw_name)
);

CREATE TABLE IF NOT EXISTS events (
	id           BIGSERIAL PRIMARY KEY,
	source_id    BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	location_id  BIGINT REFERENCES locations(id) ON DELETE SET NULL,
	external_id  VARCHAR(255) NOT NULL,
	title        VARCHAR(500) NOT NULL,
	date         DATE NOT NULL,
	"time"       TIME,
	end_date     DATE,
	end_time     TIME,
	url          VARCHAR(1000),
	raw_location VARCHAR(500),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at   TIMESTAMPTZ,
	UNIQUE (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
CREATE INDEX IF NOT EXISTS idx_events_location ON events(location_id);

CREATE TABLE IF NOT EXISTS scrape_logs (
	id                  BIGSERIAL PRIMARY KEY,
	source_id           BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	started_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at         TIMESTAMPTZ,
	status              VARCHAR(20) NOT NULL DEFAULT 'running',
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

// Store is a storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing DSN: %w", err)
	}
	if cfg.MaxConns <= 0 || cfg.MaxConns > defaultMaxConns {
		cfg.MaxConns = defaultMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: applying schema: %w", err)
	}

	logger.Debug("postgres store opened", logger.Fields{
		"host":      cfg.ConnConfig.Host,
		"database":  cfg.ConnConfig.Database,
		"max_conns": cfg.MaxConns,
	})
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error, kind string, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.NotFound(kind, key)
	}
	return fmt.Errorf("querying %s: %w", kind, err)
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func date(t time.Time) pgtype.Date {
	return pgtype.Date{Time: event.DateOnly(t), Valid: true}
}

func nullDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return date(*t)
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := event.DateOnly(d.Time)
	return &t
}

func clock(c *event.Clock) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: c.Duration().Microseconds(), Valid: true}
}

func clockPtr(t pgtype.Time) *event.Clock {
	if !t.Valid {
		return nil
	}
	d := time.Duration(t.Microseconds) * time.Microsecond
	c := event.Clock{Hour: int(d / time.Hour), Minute: int(d % time.Hour / time.Minute)}
	return &c
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullInt8(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}

func coordinateArgs(c *location.Coordinates) (lat, lon *float64) {
	if c == nil {
		return nil, nil
	}
	r := c.Round()
	return &r.Latitude, &r.Longitude
}

func coordinates(lat, lon pgtype.Numeric) (*location.Coordinates, error) {
	if !lat.Valid || !lon.Valid {
		return nil, nil
	}
	latF, err := lat.Float64Value()
	if err != nil {
		return nil, fmt.Errorf("decoding latitude: %w", err)
	}
	lonF, err := lon.Float64Value()
	if err != nil {
		return nil, fmt.Errorf("decoding longitude: %w", err)
	}
	return &location.Coordinates{Latitude: latF.Float64, Longitude: lonF.Float64}, nil
}
