package sqlite

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"

	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const locationColumns = `id, source_id, raw_name, display_name, street, house_number, postal_code,
	city, country, latitude, longitude, geocoding_status, status, created_at, updated_at`

func scanLocation(stmt *sqlite.Stmt) *location.Location {
	loc := &location.Location{
		ID:            stmt.ColumnInt64(0),
		SourceID:      stmt.ColumnInt64(1),
		RawName:       stmt.ColumnText(2),
		DisplayName:   stmt.ColumnText(3),
		Street:        stmt.ColumnText(4),
		HouseNumber:   stmt.ColumnText(5),
		PostalCode:    stmt.ColumnText(6),
		City:          stmt.ColumnText(7),
		Country:       stmt.ColumnText(8),
		GeocodeStatus: location.GeocodeStatus(stmt.ColumnText(11)),
		Status:        location.Status(stmt.ColumnText(12)),
		CreatedAt:     parseTime(stmt.ColumnText(13)),
		UpdatedAt:     parseTime(stmt.ColumnText(14)),
	}
	if stmt.ColumnType(9) != sqlite.TypeNull && stmt.ColumnType(10) != sqlite.TypeNull {
		loc.Coordinates = &location.Coordinates{
			Latitude:  stmt.ColumnFloat(9),
			Longitude: stmt.ColumnFloat(10),
		}
	}
	return loc
}

func coordinateArgs(c *location.Coordinates) (lat, lon any) {
	if c == nil {
		return nil, nil
	}
	r := c.Round()
	return r.Latitude, r.Longitude
}

func (s *Store) selectLocations(ctx context.Context, where string, args []any) ([]*location.Location, error) {
	var locs []*location.Location
	err := s.query(ctx, `SELECT `+locationColumns+` FROM locations`+where, args,
		func(stmt *sqlite.Stmt) error {
			locs = append(locs, scanLocation(stmt))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}
	return locs, nil
}

// FindLocation implements storage.Store.
func (s *Store) FindLocation(ctx context.Context, sourceID int64, rawName string) (*location.Location, error) {
	rawName = location.NormalizeName(rawName)
	locs, err := s.selectLocations(ctx, ` WHERE source_id = ? AND raw_name = ?`, []any{sourceID, rawName})
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, storage.NotFound("location", rawName)
	}
	return locs[0], nil
}

// GetLocation implements storage.Store.
func (s *Store) GetLocation(ctx context.Context, id int64) (*location.Location, error) {
	locs, err := s.selectLocations(ctx, ` WHERE id = ?`, []any{id})
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, storage.NotFound("location", id)
	}
	return locs[0], nil
}

// ListLocations implements storage.Store.
func (s *Store) ListLocations(ctx context.Context, filter storage.LocationFilter) ([]*location.Location, error) {
	var conds []string
	var args []any
	if filter.SourceID != 0 {
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return s.selectLocations(ctx, where+" ORDER BY source_id, raw_name", args)
}

// InsertLocation implements storage.Store.
func (s *Store) InsertLocation(ctx context.Context, loc *location.Location) error {
	now := s.timestamp()
	lat, lon := coordinateArgs(loc.Coordinates)
	country := loc.Country
	if country == "" {
		country = location.DefaultCountry
	}

	id, _, err := s.exec(ctx,
		`INSERT INTO locations (source_id, raw_name, display_name, street, house_number, postal_code,
			city, country, latitude, longitude, geocoding_status, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.SourceID, location.NormalizeName(loc.RawName), nullString(loc.DisplayName),
		nullString(loc.Street), nullString(loc.HouseNumber), nullString(loc.PostalCode),
		nullString(loc.City), country, lat, lon, nullString(string(loc.GeocodeStatus)),
		string(loc.Status), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("inserting location %q: %w", loc.RawName, err)
	}

	loc.ID = id
	loc.Country = country
	loc.CreatedAt = now
	loc.UpdatedAt = now
	return nil
}

// UpdateLocation implements storage.Store. The natural key and geocoding
// outcome are never rewritten.
func (s *Store) UpdateLocation(ctx context.Context, loc *location.Location) error {
	now := s.timestamp()
	lat, lon := coordinateArgs(loc.Coordinates)

	_, changes, err := s.exec(ctx,
		`UPDATE locations SET display_name = ?, street = ?, house_number = ?, postal_code = ?,
			city = ?, country = ?, latitude = ?, longitude = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(loc.DisplayName), nullString(loc.Street), nullString(loc.HouseNumber),
		nullString(loc.PostalCode), nullString(loc.City), loc.Country, lat, lon,
		string(loc.Status), formatTime(now), loc.ID)
	if err != nil {
		return fmt.Errorf("updating location %d: %w", loc.ID, err)
	}
	if changes == 0 {
		return storage.NotFound("location", loc.ID)
	}
	loc.UpdatedAt = now
	return nil
}
