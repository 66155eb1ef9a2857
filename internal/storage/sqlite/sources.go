package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const sourceColumns = `id, name, base_url, collector, active, last_scraped_at, created_at, updated_at`

func scanSource(stmt *sqlite.Stmt) *source.Source {
	return &source.Source{
		ID:            stmt.ColumnInt64(0),
		Name:          stmt.ColumnText(1),
		BaseURL:       stmt.ColumnText(2),
		Collector:     stmt.ColumnText(3),
		Active:        stmt.ColumnInt64(4) != 0,
		LastScrapedAt: columnTime(stmt, 5),
		CreatedAt:     parseTime(stmt.ColumnText(6)),
		UpdatedAt:     parseTime(stmt.ColumnText(7)),
	}
}

func (s *Store) getSource(ctx context.Context, where string, arg any) (*source.Source, error) {
	var found *source.Source
	err := s.query(ctx, `SELECT `+sourceColumns+` FROM sources WHERE `+where, []any{arg},
		func(stmt *sqlite.Stmt) error {
			found = scanSource(stmt)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("querying source: %w", err)
	}
	if found == nil {
		return nil, storage.NotFound("source", arg)
	}
	return found, nil
}

// EnsureSource implements storage.Store.
func (s *Store) EnsureSource(ctx context.Context, collector string, info source.Info) (*source.Source, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	now := formatTime(s.timestamp())
	_, _, err := s.exec(ctx,
		`INSERT INTO sources (name, base_url, collector, active, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT (base_url) DO NOTHING`,
		info.Name, info.BaseURL, collector, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting source %s: %w", info.BaseURL, err)
	}

	return s.getSource(ctx, "base_url = ?", info.BaseURL)
}

// GetSource implements storage.Store.
func (s *Store) GetSource(ctx context.Context, id int64) (*source.Source, error) {
	return s.getSource(ctx, "id = ?", id)
}

// GetSourceByCollector implements storage.Store.
func (s *Store) GetSourceByCollector(ctx context.Context, collector string) (*source.Source, error) {
	return s.getSource(ctx, "collector = ? ORDER BY id LIMIT 1", collector)
}

// ListSources implements storage.Store.
func (s *Store) ListSources(ctx context.Context) ([]*source.Source, error) {
	var sources []*source.Source
	err := s.query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`, nil,
		func(stmt *sqlite.Stmt) error {
			sources = append(sources, scanSource(stmt))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return sources, nil
}

// SetSourceActive implements storage.Store.
func (s *Store) SetSourceActive(ctx context.Context, id int64, active bool) error {
	_, changes, err := s.exec(ctx,
		`UPDATE sources SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("updating source %d: %w", id, err)
	}
	if changes == 0 {
		return storage.NotFound("source", id)
	}
	return nil
}

// TouchSource implements storage.Store.
func (s *Store) TouchSource(ctx context.Context, id int64, at time.Time) error {
	_, changes, err := s.exec(ctx,
		`UPDATE sources SET last_scraped_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("touching source %d: %w", id, err)
	}
	if changes == 0 {
		return storage.NotFound("source", id)
	}
	return nil
}
