// Package transfer exports locations for bulk editing and imports the edited
// file back. Imports only update existing locations, matched by id.
package transfer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

// Format is a file format for export and import.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f != FormatCSV && f != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'csv' or 'json')", s)
	}
	return f, nil
}

// FormatFromPath picks JSON for .json files and CSV otherwise.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatCSV
}

// columns is the CSV header, in order.
var columns = []string{
	"id", "source_id", "source_name", "raw_name", "display_name",
	"street", "house_number", "postal_code", "city", "country",
	"latitude", "longitude", "status",
}

// Row is one exported location. Coordinates are text so that an empty cell
// means "no value".
type Row struct {
	ID          int64  `json:"id"`
	SourceID    int64  `json:"source_id"`
	SourceName  string `json:"source_name"`
	RawName     string `json:"raw_name"`
	DisplayName string `json:"display_name"`
	Street      string `json:"street"`
	HouseNumber string `json:"house_number"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	Status      string `json:"status"`
}

func newRow(loc *location.Location, sourceName string) Row {
	row := Row{
		ID:          loc.ID,
		SourceID:    loc.SourceID,
		SourceName:  sourceName,
		RawName:     loc.RawName,
		DisplayName: loc.DisplayName,
		Street:      loc.Street,
		HouseNumber: loc.HouseNumber,
		PostalCode:  loc.PostalCode,
		City:        loc.City,
		Country:     loc.Country,
		Status:      string(loc.Status),
	}
	if row.Country == "" {
		row.Country = location.DefaultCountry
	}
	if loc.Coordinates != nil {
		row.Latitude = strconv.FormatFloat(loc.Coordinates.Latitude, 'f', -1, 64)
		row.Longitude = strconv.FormatFloat(loc.Coordinates.Longitude, 'f', -1, 64)
	}
	return row
}

func (r Row) record() []string {
	return []string{
		strconv.FormatInt(r.ID, 10), strconv.FormatInt(r.SourceID, 10), r.SourceName, r.RawName, r.DisplayName,
		r.Street, r.HouseNumber, r.PostalCode, r.City, r.Country,
		r.Latitude, r.Longitude, r.Status,
	}
}

// Rows loads the locations with the given status (all when empty), ordered
// by source name and raw name.
func Rows(ctx context.Context, store storage.Store, status location.Status) ([]Row, error) {
	sources, err := store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	names := make(map[int64]string, len(sources))
	for _, src := range sources {
		names[src.ID] = src.Name
	}

	locs, err := store.ListLocations(ctx, storage.LocationFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}

	rows := make([]Row, 0, len(locs))
	for _, loc := range locs {
		rows = append(rows, newRow(loc, names[loc.SourceID]))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SourceName != rows[j].SourceName {
			return rows[i].SourceName < rows[j].SourceName
		}
		return rows[i].RawName < rows[j].RawName
	})
	return rows, nil
}

// Write encodes rows in format f.
func Write(w io.Writer, f Format, rows []Row) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatCSV:
		cw := csv.NewWriter(w)
		cw.Comma = ';'
		if err := cw.Write(columns); err != nil {
			return err
		}
		for _, row := range rows {
			if err := cw.Write(row.record()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unknown format: %s", f)
	}
}

// Read decodes rows in format f. CSV columns are matched by header name,
// so columns may be reordered or dropped.
func Read(r io.Reader, f Format) ([]Row, error) {
	switch f {
	case FormatJSON:
		var rows []Row
		if err := json.NewDecoder(r).Decode(&rows); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return rows, nil
	case FormatCSV:
		return readCSV(r)
	default:
		return nil, fmt.Errorf("unknown format: %s", f)
	}
}

func readCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		row := Row{
			SourceName:  get("source_name"),
			RawName:     get("raw_name"),
			DisplayName: get("display_name"),
			Street:      get("street"),
			HouseNumber: get("house_number"),
			PostalCode:  get("postal_code"),
			City:        get("city"),
			Country:     get("country"),
			Latitude:    get("latitude"),
			Longitude:   get("longitude"),
			Status:      get("status"),
		}
		if id := get("id"); id != "" {
			if row.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid id %q", line, id)
			}
		}
		rows = append(rows, row)
	}
}

// ImportResult summarizes an import.
type ImportResult struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Import applies rows to existing locations by id. Only non-empty fields are
// written; the raw name and source are never changed. Rows without an id or
// for unknown ids are skipped, and a status other than pending, confirmed or
// ignored is ignored. Per-row problems are collected rather than aborting.
func Import(ctx context.Context, store storage.Store, rows []Row) (*ImportResult, error) {
	res := &ImportResult{}
	for _, row := range rows {
		if row.ID == 0 {
			res.Skipped++
			continue
		}

		loc, err := store.GetLocation(ctx, row.ID)
		if errors.Is(err, storage.ErrNotFound) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("loading location %d: %w", row.ID, err)
		}

		update, err := row.update(loc)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ID %d: %v", row.ID, err))
			continue
		}
		if update.Empty() {
			continue
		}
		if _, err := loc.Apply(update); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ID %d: %v", row.ID, err))
			continue
		}
		if err := store.UpdateLocation(ctx, loc); err != nil {
			return res, fmt.Errorf("saving location %d: %w", row.ID, err)
		}
		res.Updated++
	}

	logger.Info("Locations imported", logger.Fields{
		"updated": res.Updated,
		"skipped": res.Skipped,
		"errors":  len(res.Errors),
	})
	return res, nil
}

func (r Row) update(current *location.Location) (location.Update, error) {
	var u location.Update
	text := func(v string) *string {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		return &v
	}
	u.DisplayName = text(r.DisplayName)
	u.Street = text(r.Street)
	u.HouseNumber = text(r.HouseNumber)
	u.PostalCode = text(r.PostalCode)
	u.City = text(r.City)
	u.Country = text(r.Country)

	if status, err := location.ParseStatus(r.Status); err == nil {
		u.Status = &status
	}

	lat, latSet, err := parseCoordinate("latitude", r.Latitude, 90)
	if err != nil {
		return u, err
	}
	lon, lonSet, err := parseCoordinate("longitude", r.Longitude, 180)
	if err != nil {
		return u, err
	}
	if latSet || lonSet {
		coords := location.Coordinates{}
		if current.Coordinates != nil {
			coords = *current.Coordinates
		} else if !latSet || !lonSet {
			return u, fmt.Errorf("latitude and longitude must be set together")
		}
		if latSet {
			coords.Latitude = lat
		}
		if lonSet {
			coords.Longitude = lon
		}
		u.Coordinates = &coords
	}
	return u, nil
}

func parseCoordinate(name, text string, limit float64) (float64, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(text, ",", ".", 1), 64)
	if err != nil || v < -limit || v > limit {
		return 0, false, fmt.Errorf("invalid %s %q", name, text)
	}
	return v, true, nil
}
