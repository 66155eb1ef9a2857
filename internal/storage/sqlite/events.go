package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const eventColumns = `id, source_id, location_id, external_id, title, date, time, end_date,
	end_time, url, raw_location, created_at, updated_at, deleted_at`

func scanEvent(stmt *sqlite.Stmt) *event.Event {
	evt := &event.Event{
		ID:          stmt.ColumnInt64(0),
		SourceID:    stmt.ColumnInt64(1),
		LocationID:  columnInt64Ptr(stmt, 2),
		ExternalID:  stmt.ColumnText(3),
		Title:       stmt.ColumnText(4),
		Date:        parseDate(stmt.ColumnText(5)),
		Time:        parseClock(stmt.ColumnText(6)),
		EndTime:     parseClock(stmt.ColumnText(8)),
		URL:         stmt.ColumnText(9),
		RawLocation: stmt.ColumnText(10),
		CreatedAt:   parseTime(stmt.ColumnText(11)),
		UpdatedAt:   parseTime(stmt.ColumnText(12)),
		DeletedAt:   columnTime(stmt, 13),
	}
	if text := stmt.ColumnText(7); text != "" {
		end := parseDate(text)
		evt.EndDate = &end
	}
	return evt
}

func parseDate(text string) time.Time {
	t, err := time.Parse(event.DateLayout, text)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseClock(text string) *event.Clock {
	if text == "" {
		return nil
	}
	c, ok := event.ParseClock(text)
	if !ok {
		return nil
	}
	return &c
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(event.DateLayout)
}

func nullClock(c *event.Clock) any {
	if c == nil {
		return nil
	}
	return c.String()
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (s *Store) selectEvents(ctx context.Context, where string, args []any) ([]*event.Event, error) {
	var events []*event.Event
	err := s.query(ctx, `SELECT `+eventColumns+` FROM events`+where, args,
		func(stmt *sqlite.Stmt) error {
			events = append(events, scanEvent(stmt))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return events, nil
}

// FindEvent implements storage.Store.
func (s *Store) FindEvent(ctx context.Context, sourceID int64, externalID string) (*event.Event, error) {
	events, err := s.selectEvents(ctx, ` WHERE source_id = ? AND external_id = ?`, []any{sourceID, externalID})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.NotFound("event", externalID)
	}
	return events[0], nil
}

// GetEvent implements storage.Store.
func (s *Store) GetEvent(ctx context.Context, id int64) (*event.Event, error) {
	events, err := s.selectEvents(ctx, ` WHERE id = ?`, []any{id})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.NotFound("event", id)
	}
	return events[0], nil
}

// ListEvents implements storage.Store.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*event.Event, error) {
	var conds []string
	var args []any
	if filter.SourceID != 0 {
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "COALESCE(end_date, date) >= ?")
		args = append(args, filter.From.Format(event.DateLayout))
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}

	query := ""
	if len(conds) > 0 {
		query = " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date, time, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.selectEvents(ctx, query, args)
}

// InsertEvent implements storage.Store.
func (s *Store) InsertEvent(ctx context.Context, evt *event.Event) error {
	now := s.timestamp()
	id, _, err := s.exec(ctx,
		`INSERT INTO events (source_id, location_id, external_id, title, date, time, end_date,
			end_time, url, raw_location, created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SourceID, nullID(evt.LocationID), evt.ExternalID, evt.Title,
		evt.Date.Format(event.DateLayout), nullClock(evt.Time), nullDate(evt.EndDate),
		nullClock(evt.EndTime), nullString(evt.URL), nullString(evt.RawLocation),
		formatTime(now), formatTime(now), nullTime(evt.DeletedAt))
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", evt.ExternalID, err)
	}

	evt.ID = id
	evt.CreatedAt = now
	evt.UpdatedAt = now
	return nil
}

// UpdateEvent implements storage.Store.
func (s *Store) UpdateEvent(ctx context.Context, evt *event.Event) error {
	now := s.timestamp()
	_, changes, err := s.exec(ctx,
		`UPDATE events SET location_id = ?, title = ?, date = ?, time = ?, end_date = ?,
			end_time = ?, url = ?, raw_location = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ?`,
		nullID(evt.LocationID), evt.Title, evt.Date.Format(event.DateLayout),
		nullClock(evt.Time), nullDate(evt.EndDate), nullClock(evt.EndTime),
		nullString(evt.URL), nullString(evt.RawLocation), formatTime(now),
		nullTime(evt.DeletedAt), evt.ID)
	if err != nil {
		return fmt.Errorf("updating event %d: %w", evt.ID, err)
	}
	if changes == 0 {
		return storage.NotFound("event", evt.ID)
	}
	evt.UpdatedAt = now
	return nil
}

// SetEventDeleted implements storage.Store.
func (s *Store) SetEventDeleted(ctx context.Context, id int64, deletedAt *time.Time) error {
	_, changes, err := s.exec(ctx,
		`UPDATE events SET deleted_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(deletedAt), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("updating event %d: %w", id, err)
	}
	if changes == 0 {
		return storage.NotFound("event", id)
	}
	return nil
}
