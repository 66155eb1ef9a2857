package sqlite

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"

	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const scrapeLogColumns = `id, source_id, started_at, finished_at, status, events_found, events_new,
	events_updated, skipped_duplicates, invalid_records, geocoding_success, geocoding_multiple,
	geocoding_not_found, geocoding_errors, error_message`

func scanScrapeLog(stmt *sqlite.Stmt) *scrapelog.ScrapeLog {
	return &scrapelog.ScrapeLog{
		ID:         stmt.ColumnInt64(0),
		SourceID:   stmt.ColumnInt64(1),
		StartedAt:  parseTime(stmt.ColumnText(2)),
		FinishedAt: columnTime(stmt, 3),
		Status:     scrapelog.Status(stmt.ColumnText(4)),
		Counters: scrapelog.Counters{
			Found:   int(stmt.ColumnInt64(5)),
			New:     int(stmt.ColumnInt64(6)),
			Updated: int(stmt.ColumnInt64(7)),
			Skipped: int(stmt.ColumnInt64(8)),
			Invalid: int(stmt.ColumnInt64(9)),
			Geo: scrapelog.GeoStats{
				Success:  int(stmt.ColumnInt64(10)),
				Multiple: int(stmt.ColumnInt64(11)),
				NotFound: int(stmt.ColumnInt64(12)),
				Errors:   int(stmt.ColumnInt64(13)),
			},
		},
		ErrorMessage: stmt.ColumnText(14),
	}
}

// InsertScrapeLog implements storage.Store.
func (s *Store) InsertScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error {
	if log.StartedAt.IsZero() {
		log.StartedAt = s.timestamp()
	}
	if log.Status == "" {
		log.Status = scrapelog.StatusRunning
	}

	id, _, err := s.exec(ctx,
		`INSERT INTO scrape_logs (source_id, started_at, status) VALUES (?, ?, ?)`,
		log.SourceID, formatTime(log.StartedAt), string(log.Status))
	if err != nil {
		return fmt.Errorf("inserting scrape log: %w", err)
	}
	log.ID = id
	return nil
}

// FinishScrapeLog implements storage.Store.
func (s *Store) FinishScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error {
	if log.FinishedAt == nil {
		now := s.timestamp()
		log.FinishedAt = &now
	}
	c := log.Counters

	_, changes, err := s.exec(ctx,
		`UPDATE scrape_logs SET finished_at = ?, status = ?, events_found = ?, events_new = ?,
			events_updated = ?, skipped_duplicates = ?, invalid_records = ?,
			geocoding_success = ?, geocoding_multiple = ?, geocoding_not_found = ?,
			geocoding_errors = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		formatTime(*log.FinishedAt), string(log.Status), c.Found, c.New, c.Updated,
		c.Skipped, c.Invalid, c.Geo.Success, c.Geo.Multiple, c.Geo.NotFound, c.Geo.Errors,
		nullString(log.ErrorMessage), log.ID, string(scrapelog.StatusRunning))
	if err != nil {
		return fmt.Errorf("finishing scrape log %d: %w", log.ID, err)
	}
	if changes == 0 {
		if _, err := s.GetScrapeLog(ctx, log.ID); errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("scrape log %d: %w", log.ID, storage.ErrRunFinished)
	}
	return nil
}

// GetScrapeLog implements storage.Store.
func (s *Store) GetScrapeLog(ctx context.Context, id int64) (*scrapelog.ScrapeLog, error) {
	var found *scrapelog.ScrapeLog
	err := s.query(ctx, `SELECT `+scrapeLogColumns+` FROM scrape_logs WHERE id = ?`, []any{id},
		func(stmt *sqlite.Stmt) error {
			found = scanScrapeLog(stmt)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("querying scrape log: %w", err)
	}
	if found == nil {
		return nil, storage.NotFound("scrape log", id)
	}
	return found, nil
}

// ListScrapeLogs implements storage.Store.
func (s *Store) ListScrapeLogs(ctx context.Context, filter storage.ScrapeLogFilter) ([]*scrapelog.ScrapeLog, error) {
	query := `SELECT ` + scrapeLogColumns + ` FROM scrape_logs`
	var args []any
	if filter.SourceID != 0 {
		query += ` WHERE source_id = ?`
		args = append(args, filter.SourceID)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var logs []*scrapelog.ScrapeLog
	err := s.query(ctx, query, args, func(stmt *sqlite.Stmt) error {
		logs = append(logs, scanScrapeLog(stmt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing scrape logs: %w", err)
	}
	return logs, nil
}
