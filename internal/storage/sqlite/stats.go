package sqlite

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"

	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// Stats implements storage.Store.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.query(ctx,
		`SELECT
			(SELECT COUNT(*) FROM events WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM events WHERE deleted_at IS NOT NULL),
			(SELECT COUNT(*) FROM locations),
			(SELECT COUNT(*) FROM locations WHERE status = 'pending')`,
		nil, func(stmt *sqlite.Stmt) error {
			stats.Events = int(stmt.ColumnInt64(0))
			stats.DeletedEvents = int(stmt.ColumnInt64(1))
			stats.Locations = int(stmt.ColumnInt64(2))
			stats.PendingLocations = int(stmt.ColumnInt64(3))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}

	err = s.query(ctx,
		`SELECT s.id, s.name, s.collector, s.active, s.last_scraped_at,
			(SELECT COUNT(*) FROM events e WHERE e.source_id = s.id AND e.deleted_at IS NULL)
		 FROM sources s ORDER BY s.name`,
		nil, func(stmt *sqlite.Stmt) error {
			stats.Sources = append(stats.Sources, storage.SourceStats{
				SourceID:      stmt.ColumnInt64(0),
				Name:          stmt.ColumnText(1),
				Collector:     stmt.ColumnText(2),
				Active:        stmt.ColumnInt64(3) != 0,
				LastScrapedAt: columnTime(stmt, 4),
				Events:        int(stmt.ColumnInt64(5)),
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("counting events per source: %w", err)
	}

	return stats, nil
}
