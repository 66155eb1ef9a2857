package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const sourceColumns = `id, name, base_url, collector, active, last_scraped_at, created_at, updated_at`

func scanSource(row pgx.Row) (*source.Source, error) {
	var (
		src  source.Source
		last pgtype.Timestamptz
	)
	if err := row.Scan(&src.ID, &src.Name, &src.BaseURL, &src.Collector, &src.Active,
		&last, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	src.LastScrapedAt = timePtr(last)
	return &src, nil
}

// EnsureSource implements storage.Store.
func (s *Store) EnsureSource(ctx context.Context, collector string, info source.Info) (*source.Source, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (name, base_url, collector) VALUES ($1, $2, $3)
		 ON CONFLICT (base_url) DO NOTHING`,
		info.Name, info.BaseURL, collector)
	if err != nil {
		return nil, fmt.Errorf("inserting source %s: %w", info.BaseURL, err)
	}

	src, err := scanSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE base_url = $1`, info.BaseURL))
	if err != nil {
		return nil, notFound(err, "source", info.BaseURL)
	}
	return src, nil
}

// GetSource implements storage.Store.
func (s *Store) GetSource(ctx context.Context, id int64) (*source.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "source", id)
	}
	return src, nil
}

// GetSourceByCollector implements storage.Store.
func (s *Store) GetSourceByCollector(ctx context.Context, collector string) (*source.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE collector = $1 ORDER BY id LIMIT 1`, collector))
	if err != nil {
		return nil, notFound(err, "source", collector)
	}
	return src, nil
}

// ListSources implements storage.Store.
func (s *Store) ListSources(ctx context.Context) ([]*source.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*source.Source, error) {
		return scanSource(row)
	})
}

// SetSourceActive implements storage.Store.
func (s *Store) SetSourceActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("updating source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("source", id)
	}
	return nil
}

// TouchSource implements storage.Store.
func (s *Store) TouchSource(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_scraped_at = $1, updated_at = now() WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("source", id)
	}
	return nil
}

const locationColumns = `id, source_id, raw_name, display_name, street, house_number, postal_code,
	city, country, latitude, longitude, geocoding_status, status, created_at, updated_at`

func scanLocation(row pgx.Row) (*location.Location, error) {
	var (
		loc                                            location.Location
		display, street, number, postal, city, geocode pgtype.Text
		lat, lon                                       pgtype.Numeric
		status                                         string
	)
	if err := row.Scan(&loc.ID, &loc.SourceID, &loc.RawName, &display, &street, &number, &postal,
		&city, &loc.Country, &lat, &lon, &geocode, &status, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
		return nil, err
	}
	coords, err := coordinates(lat, lon)
	if err != nil {
		return nil, err
	}
	loc.DisplayName = display.String
	loc.Street = street.String
	loc.HouseNumber = number.String
	loc.PostalCode = postal.String
	loc.City = city.String
	loc.Coordinates = coords
	loc.GeocodeStatus = location.GeocodeStatus(geocode.String)
	loc.Status = location.Status(status)
	return &loc, nil
}

func (s *Store) queryLocations(ctx context.Context, where string, args ...any) ([]*location.Location, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*location.Location, error) {
		return scanLocation(row)
	})
}

// FindLocation implements storage.Store.
func (s *Store) FindLocation(ctx context.Context, sourceID int64, rawName string) (*location.Location, error) {
	rawName = location.NormalizeName(rawName)
	loc, err := scanLocation(s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE source_id = $1 AND raw_name = $2`, sourceID, rawName))
	if err != nil {
		return nil, notFound(err, "location", rawName)
	}
	return loc, nil
}

// GetLocation implements storage.Store.
func (s *Store) GetLocation(ctx context.Context, id int64) (*location.Location, error) {
	loc, err := scanLocation(s.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "location", id)
	}
	return loc, nil
}

// ListLocations implements storage.Store.
func (s *Store) ListLocations(ctx context.Context, filter storage.LocationFilter) ([]*location.Location, error) {
	var conds []string
	var args []any
	if filter.SourceID != 0 {
		args = append(args, filter.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryLocations(ctx, where+" ORDER BY source_id, raw_name", args...)
}

// InsertLocation implements storage.Store.
func (s *Store) InsertLocation(ctx context.Context, loc *location.Location) error {
	lat, lon := coordinateArgs(loc.Coordinates)
	if loc.Country == "" {
		loc.Country = location.DefaultCountry
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO locations (source_id, raw_name, display_name, street, house_number, postal_code,
			city, country, latitude, longitude, geocoding_status, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::float8, $10::float8, $11, $12)
		 RETURNING id, created_at, updated_at`,
		loc.SourceID, location.NormalizeName(loc.RawName), text(loc.DisplayName), text(loc.Street),
		text(loc.HouseNumber), text(loc.PostalCode), text(loc.City), loc.Country, lat, lon,
		text(string(loc.GeocodeStatus)), string(loc.Status),
	).Scan(&loc.ID, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting location %q: %w", loc.RawName, err)
	}
	return nil
}

// UpdateLocation implements storage.Store. The natural key and geocoding
// outcome are never rewritten.
func (s *Store) UpdateLocation(ctx context.Context, loc *location.Location) error {
	lat, lon := coordinateArgs(loc.Coordinates)
	err := s.pool.QueryRow(ctx,
		`UPDATE locations SET display_name = $1, street = $2, house_number = $3, postal_code = $4,
			city = $5, country = $6, latitude = $7::float8, longitude = $8::float8, status = $9,
			updated_at = now()
		 WHERE id = $10
		 RETURNING updated_at`,
		text(loc.DisplayName), text(loc.Street), text(loc.HouseNumber), text(loc.PostalCode),
		text(loc.City), loc.Country, lat, lon, string(loc.Status), loc.ID,
	).Scan(&loc.UpdatedAt)
	if err != nil {
		return notFound(err, "location", loc.ID)
	}
	return nil
}

const eventColumns = `id, source_id, location_id, external_id, title, date, "time", end_date,
	end_time, url, raw_location, created_at, updated_at, deleted_at`

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt              event.Event
		locationID       pgtype.Int8
		day, endDate     pgtype.Date
		start, end       pgtype.Time
		url, rawLocation pgtype.Text
		deletedAt        pgtype.Timestamptz
	)
	if err := row.Scan(&evt.ID, &evt.SourceID, &locationID, &evt.ExternalID, &evt.Title, &day,
		&start, &endDate, &end, &url, &rawLocation, &evt.CreatedAt, &evt.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	evt.LocationID = int8Ptr(locationID)
	evt.Date = event.DateOnly(day.Time)
	evt.Time = clockPtr(start)
	evt.EndDate = datePtr(endDate)
	evt.EndTime = clockPtr(end)
	evt.URL = url.String
	evt.RawLocation = rawLocation.String
	evt.DeletedAt = timePtr(deletedAt)
	return &evt, nil
}

func (s *Store) queryEvents(ctx context.Context, where string, args ...any) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*event.Event, error) {
		return scanEvent(row)
	})
}

// FindEvent implements storage.Store.
func (s *Store) FindEvent(ctx context.Context, sourceID int64, externalID string) (*event.Event, error) {
	evt, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source_id = $1 AND external_id = $2`, sourceID, externalID))
	if err != nil {
		return nil, notFound(err, "event", externalID)
	}
	return evt, nil
}

// GetEvent implements storage.Store.
func (s *Store) GetEvent(ctx context.Context, id int64) (*event.Event, error) {
	evt, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "event", id)
	}
	return evt, nil
}

// ListEvents implements storage.Store.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*event.Event, error) {
	var conds []string
	var args []any
	if filter.SourceID != 0 {
		args = append(args, filter.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, date(filter.From))
		conds = append(conds, fmt.Sprintf("COALESCE(end_date, date) >= $%d", len(args)))
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}

	query := ""
	if len(conds) > 0 {
		query = " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY date, "time" NULLS FIRST, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryEvents(ctx, query, args...)
}

// InsertEvent implements storage.Store.
func (s *Store) InsertEvent(ctx context.Context, evt *event.Event) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (source_id, location_id, external_id, title, date, "time", end_date,
			end_time, url, raw_location, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		evt.SourceID, nullInt8(evt.LocationID), evt.ExternalID, evt.Title, date(evt.Date),
		clock(evt.Time), nullDate(evt.EndDate), clock(evt.EndTime), text(evt.URL),
		text(evt.RawLocation), timestamptz(evt.DeletedAt),
	).Scan(&evt.ID, &evt.CreatedAt, &evt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", evt.ExternalID, err)
	}
	return nil
}

// UpdateEvent implements storage.Store.
func (s *Store) UpdateEvent(ctx context.Context, evt *event.Event) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE events SET location_id = $1, title = $2, date = $3, "time" = $4, end_date = $5,
			end_time = $6, url = $7, raw_location = $8, deleted_at = $9, updated_at = now()
		 WHERE id = $10
		 RETURNING updated_at`,
		nullInt8(evt.LocationID), evt.Title, date(evt.Date), clock(evt.Time), nullDate(evt.EndDate),
		clock(evt.EndTime), text(evt.URL), text(evt.RawLocation), timestamptz(evt.DeletedAt), evt.ID,
	).Scan(&evt.UpdatedAt)
	if err != nil {
		return notFound(err, "event", evt.ID)
	}
	return nil
}

// SetEventDeleted implements storage.Store.
func (s *Store) SetEventDeleted(ctx context.Context, id int64, deletedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET deleted_at = $1, updated_at = now() WHERE id = $2`, timestamptz(deletedAt), id)
	if err != nil {
		return fmt.Errorf("updating event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("event", id)
	}
	return nil
}

const scrapeLogColumns = `id, source_id, started_at, finished_at, status, events_found, events_new,
	events_updated, skipped_duplicates, invalid_records, geocoding_success, geocoding_multiple,
	geocoding_not_found, geocoding_errors, error_message`

func scanScrapeLog(row pgx.Row) (*scrapelog.ScrapeLog, error) {
	var (
		log      scrapelog.ScrapeLog
		finished pgtype.Timestamptz
		status   string
		message  pgtype.Text
	)
	c := &log.Counters
	if err := row.Scan(&log.ID, &log.SourceID, &log.StartedAt, &finished, &status, &c.Found, &c.New,
		&c.Updated, &c.Skipped, &c.Invalid, &c.Geo.Success, &c.Geo.Multiple, &c.Geo.NotFound,
		&c.Geo.Errors, &message); err != nil {
		return nil, err
	}
	log.FinishedAt = timePtr(finished)
	log.Status = scrapelog.Status(status)
	log.ErrorMessage = message.String
	return &log, nil
}

// InsertScrapeLog implements storage.Store.
func (s *Store) InsertScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}
	if log.Status == "" {
		log.Status = scrapelog.StatusRunning
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scrape_logs (source_id, started_at, status) VALUES ($1, $2, $3) RETURNING id`,
		log.SourceID, log.StartedAt, string(log.Status),
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("inserting scrape log: %w", err)
	}
	return nil
}

// FinishScrapeLog implements storage.Store.
func (s *Store) FinishScrapeLog(ctx context.Context, log *scrapelog.ScrapeLog) error {
	if log.FinishedAt == nil {
		now := time.Now().UTC()
		log.FinishedAt = &now
	}
	c := log.Counters
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_logs SET finished_at = $1, status = $2, events_found = $3, events_new = $4,
			events_updated = $5, skipped_duplicates = $6, invalid_records = $7,
			geocoding_success = $8, geocoding_multiple = $9, geocoding_not_found = $10,
			geocoding_errors = $11, error_message = $12
		 WHERE id = $13 AND status = 'running'`,
		*log.FinishedAt, string(log.Status), c.Found, c.New, c.Updated, c.Skipped, c.Invalid,
		c.Geo.Success, c.Geo.Multiple, c.Geo.NotFound, c.Geo.Errors, text(log.ErrorMessage), log.ID)
	if err != nil {
		return fmt.Errorf("finishing scrape log %d: %w", log.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetScrapeLog(ctx, log.ID); err != nil {
			return err
		}
		return fmt.Errorf("scrape log %d: %w", log.ID, storage.ErrRunFinished)
	}
	return nil
}

// GetScrapeLog implements storage.Store.
func (s *Store) GetScrapeLog(ctx context.Context, id int64) (*scrapelog.ScrapeLog, error) {
	log, err := scanScrapeLog(s.pool.QueryRow(ctx, `SELECT `+scrapeLogColumns+` FROM scrape_logs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "scrape log", id)
	}
	return log, nil
}

// ListScrapeLogs implements storage.Store.
func (s *Store) ListScrapeLogs(ctx context.Context, filter storage.ScrapeLogFilter) ([]*scrapelog.ScrapeLog, error) {
	query := `SELECT ` + scrapeLogColumns + ` FROM scrape_logs`
	var args []any
	if filter.SourceID != 0 {
		args = append(args, filter.SourceID)
		query += fmt.Sprintf(" WHERE source_id = $%d", len(args))
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scrape logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*scrapelog.ScrapeLog, error) {
		return scanScrapeLog(row)
	})
}

// Stats implements storage.Store.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM events WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM events WHERE deleted_at IS NOT NULL),
			(SELECT COUNT(*) FROM locations),
			(SELECT COUNT(*) FROM locations WHERE status = 'pending')`,
	).Scan(&stats.Events, &stats.DeletedEvents, &stats.Locations, &stats.PendingLocations)
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.name, s.collector, s.active, s.last_scraped_at,
			(SELECT COUNT(*) FROM events e WHERE e.source_id = s.id AND e.deleted_at IS NULL)
		 FROM sources s ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("counting events per source: %w", err)
	}
	stats.Sources, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.SourceStats, error) {
		var (
			st   storage.SourceStats
			last pgtype.Timestamptz
		)
		err := row.Scan(&st.SourceID, &st.Name, &st.Collector, &st.Active, &last, &st.Events)
		st.LastScrapedAt = timePtr(last)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("counting events per source: %w", err)
	}
	return stats, nil
}
