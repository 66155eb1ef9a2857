package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSource(t *testing.T, s *Store, collector, baseURL string) *source.Source {
	t.Helper()
	src, err := s.EnsureSource(context.Background(), collector, source.Info{Name: collector, BaseURL: baseURL})
	if err != nil {
		t.Fatalf("EnsureSource() error = %v", err)
	}
	return src
}

func TestEnsureSource(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := mustSource(t, s, "demo", "https://demo.example")
	if first.ID == 0 || !first.Active {
		t.Fatalf("EnsureSource() = %+v, want active source with id", first)
	}

	second, err := s.EnsureSource(ctx, "demo", source.Info{Name: "Renamed", BaseURL: "https://demo.example"})
	if err != nil {
		t.Fatalf("EnsureSource() second call error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureSource() id = %d, want %d", second.ID, first.ID)
	}
	if second.Name != "demo" {
		t.Errorf("existing source name = %q, want unchanged", second.Name)
	}

	if _, err := s.EnsureSource(ctx, "bad", source.Info{Name: "bad", BaseURL: "not a url"}); err == nil {
		t.Error("EnsureSource() with relative base URL expected error")
	}

	byCollector, err := s.GetSourceByCollector(ctx, "demo")
	if err != nil || byCollector.ID != first.ID {
		t.Errorf("GetSourceByCollector() = %v, %v", byCollector, err)
	}
	if _, err := s.GetSourceByCollector(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSourceByCollector(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSourceActiveAndTouch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := mustSource(t, s, "demo", "https://demo.example")

	if err := s.SetSourceActive(ctx, src.ID, false); err != nil {
		t.Fatalf("SetSourceActive() error = %v", err)
	}
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if err := s.TouchSource(ctx, src.ID, at); err != nil {
		t.Fatalf("TouchSource() error = %v", err)
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.Active {
		t.Error("source should be inactive")
	}
	if got.LastScrapedAt == nil || !got.LastScrapedAt.Equal(at) {
		t.Errorf("LastScrapedAt = %v, want %v", got.LastScrapedAt, at)
	}

	if err := s.SetSourceActive(ctx, 999, true); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SetSourceActive(999) error = %v, want ErrNotFound", err)
	}
}

func TestLocations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := mustSource(t, s, "a", "https://a.example")
	b := mustSource(t, s, "b", "https://b.example")

	coords := &location.Coordinates{Latitude: 49.123456789, Longitude: 9.6}
	hall := location.New(a.ID, " Town Hall ", location.Hints{City: "Pfedelbach"}, coords, location.GeocodeSuccess)
	if err := s.InsertLocation(ctx, hall); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}

	got, err := s.FindLocation(ctx, a.ID, "Town Hall")
	if err != nil {
		t.Fatalf("FindLocation() error = %v", err)
	}
	if got.ID != hall.ID || got.City != "Pfedelbach" || got.Country != location.DefaultCountry {
		t.Errorf("FindLocation() = %+v", got)
	}
	if got.Coordinates == nil || got.Coordinates.Latitude != 49.12345679 {
		t.Errorf("Coordinates = %+v, want rounded latitude 49.12345679", got.Coordinates)
	}
	if got.Status != location.StatusConfirmed || got.GeocodeStatus != location.GeocodeSuccess {
		t.Errorf("status = %s/%s", got.Status, got.GeocodeStatus)
	}

	if _, err := s.FindLocation(ctx, b.ID, "Town Hall"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindLocation() under other source error = %v, want ErrNotFound", err)
	}

	// Same raw name under the same source violates the natural key.
	dup := location.New(a.ID, "Town Hall", location.Hints{}, nil, location.GeocodeUnset)
	if err := s.InsertLocation(ctx, dup); err == nil {
		t.Error("InsertLocation() duplicate expected error")
	}

	other := location.New(b.ID, "Town Hall", location.Hints{}, nil, location.GeocodeUnset)
	if err := s.InsertLocation(ctx, other); err != nil {
		t.Fatalf("InsertLocation() other source error = %v", err)
	}
	if other.ID == hall.ID {
		t.Error("same raw name under another source must be a distinct row")
	}

	pending, err := s.ListLocations(ctx, storage.LocationFilter{Status: location.StatusPending})
	if err != nil {
		t.Fatalf("ListLocations() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != other.ID {
		t.Errorf("ListLocations(pending) = %v", pending)
	}

	other.DisplayName = "Rathaus"
	other.Status = location.StatusIgnored
	if err := s.UpdateLocation(ctx, other); err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}
	reloaded, _ := s.GetLocation(ctx, other.ID)
	if reloaded.DisplayName != "Rathaus" || reloaded.Status != location.StatusIgnored {
		t.Errorf("UpdateLocation() not persisted: %+v", reloaded)
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := mustSource(t, s, "demo", "https://demo.example")
	loc := location.New(src.ID, "Town Hall", location.Hints{}, nil, location.GeocodeUnset)
	if err := s.InsertLocation(ctx, loc); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}

	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	evt := event.New(src.ID, event.Record{
		ExternalID:  "42_2026-03-01",
		Title:       "Spring Fair",
		Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Time:        &event.Clock{Hour: 10},
		EndDate:     &end,
		EndTime:     &event.Clock{Hour: 18, Minute: 30},
		URL:         "https://demo.example/42",
		RawLocation: "Town Hall",
	}, &loc.ID)
	if err := s.InsertEvent(ctx, evt); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}

	got, err := s.FindEvent(ctx, src.ID, "42_2026-03-01")
	if err != nil {
		t.Fatalf("FindEvent() error = %v", err)
	}
	if got.ID != evt.ID || got.Title != "Spring Fair" || got.Date.Format(event.DateLayout) != "2026-03-01" {
		t.Errorf("FindEvent() = %+v", got)
	}
	if got.Time == nil || got.Time.String() != "10:00" || got.EndTime == nil || got.EndTime.String() != "18:30" {
		t.Errorf("times = %v / %v", got.Time, got.EndTime)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("EndDate = %v, want %v", got.EndDate, end)
	}
	if got.LocationID == nil || *got.LocationID != loc.ID {
		t.Errorf("LocationID = %v, want %d", got.LocationID, loc.ID)
	}

	dup := event.New(src.ID, event.Record{ExternalID: "42_2026-03-01", Title: "x", Date: end}, nil)
	if err := s.InsertEvent(ctx, dup); err == nil {
		t.Error("InsertEvent() duplicate natural key expected error")
	}

	now := time.Now().UTC()
	if err := s.SetEventDeleted(ctx, evt.ID, &now); err != nil {
		t.Fatalf("SetEventDeleted() error = %v", err)
	}
	active, _ := s.ListEvents(ctx, storage.EventFilter{SourceID: src.ID})
	if len(active) != 0 {
		t.Errorf("ListEvents() = %d events, want soft-deleted excluded", len(active))
	}
	all, _ := s.ListEvents(ctx, storage.EventFilter{SourceID: src.ID, IncludeDeleted: true})
	if len(all) != 1 || all[0].DeletedAt == nil {
		t.Errorf("ListEvents(IncludeDeleted) = %v", all)
	}

	got.Apply(event.Record{ExternalID: got.ExternalID, Title: "Spring Fair 2026", Date: got.Date}, nil)
	if err := s.UpdateEvent(ctx, got); err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	reloaded, _ := s.GetEvent(ctx, evt.ID)
	if reloaded.Title != "Spring Fair 2026" || reloaded.DeletedAt != nil || reloaded.URL != "" || reloaded.LocationID != nil {
		t.Errorf("UpdateEvent() not persisted: %+v", reloaded)
	}
}

func TestForeignKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := mustSource(t, s, "demo", "https://demo.example")
	loc := location.New(src.ID, "Festhalle", location.Hints{}, nil, location.GeocodeUnset)
	if err := s.InsertLocation(ctx, loc); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}
	evt := event.New(src.ID, event.Record{
		ExternalID: "e1", Title: "Konzert", Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, &loc.ID)
	if err := s.InsertEvent(ctx, evt); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}

	if _, _, err := s.exec(ctx, `DELETE FROM locations WHERE id = ?`, loc.ID); err != nil {
		t.Fatalf("deleting location: %v", err)
	}
	got, _ := s.GetEvent(ctx, evt.ID)
	if got.LocationID != nil {
		t.Errorf("LocationID = %v, want nil after location delete", *got.LocationID)
	}

	if _, _, err := s.exec(ctx, `DELETE FROM sources WHERE id = ?`, src.ID); err != nil {
		t.Fatalf("deleting source: %v", err)
	}
	if _, err := s.GetEvent(ctx, evt.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetEvent() after source delete error = %v, want ErrNotFound", err)
	}
}

func TestScrapeLogs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := mustSource(t, s, "demo", "https://demo.example")

	log := &scrapelog.ScrapeLog{SourceID: src.ID}
	if err := s.InsertScrapeLog(ctx, log); err != nil {
		t.Fatalf("InsertScrapeLog() error = %v", err)
	}
	if log.ID == 0 || log.Status != scrapelog.StatusRunning {
		t.Fatalf("InsertScrapeLog() = %+v", log)
	}

	log.Status = scrapelog.StatusFailed
	log.ErrorMessage = "fetch failed"
	log.Counters = scrapelog.Counters{Found: 3, New: 2, Updated: 1, Skipped: 2, Geo: scrapelog.GeoStats{NotFound: 1}}
	if err := s.FinishScrapeLog(ctx, log); err != nil {
		t.Fatalf("FinishScrapeLog() error = %v", err)
	}

	got, err := s.GetScrapeLog(ctx, log.ID)
	if err != nil {
		t.Fatalf("GetScrapeLog() error = %v", err)
	}
	if got.Status != scrapelog.StatusFailed || got.ErrorMessage != "fetch failed" || got.FinishedAt == nil {
		t.Errorf("GetScrapeLog() = %+v", got)
	}
	if got.Counters != log.Counters {
		t.Errorf("Counters = %+v, want %+v", got.Counters, log.Counters)
	}

	log.Status = scrapelog.StatusSuccess
	if err := s.FinishScrapeLog(ctx, log); !errors.Is(err, storage.ErrRunFinished) {
		t.Errorf("second FinishScrapeLog() error = %v, want ErrRunFinished", err)
	}
	missing := &scrapelog.ScrapeLog{ID: 999, Status: scrapelog.StatusSuccess}
	if err := s.FinishScrapeLog(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FinishScrapeLog(missing) error = %v, want ErrNotFound", err)
	}

	logs, err := s.ListScrapeLogs(ctx, storage.ScrapeLogFilter{SourceID: src.ID, Limit: 10})
	if err != nil || len(logs) != 1 {
		t.Errorf("ListScrapeLogs() = %v, %v", logs, err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := mustSource(t, s, "demo", "https://demo.example")
	mustSource(t, s, "empty", "https://empty.example")

	for i, title := range []string{"A", "B", "C"} {
		evt := event.New(src.ID, event.Record{
			ExternalID: title, Title: title, Date: time.Date(2026, 3, i+1, 0, 0, 0, 0, time.UTC),
		}, nil)
		if err := s.InsertEvent(ctx, evt); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
		if i == 0 {
			now := time.Now()
			s.SetEventDeleted(ctx, evt.ID, &now)
		}
	}
	if err := s.InsertLocation(ctx, location.New(src.ID, "Festhalle", location.Hints{}, nil, location.GeocodeUnset)); err != nil {
		t.Fatalf("InsertLocation() error = %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Events != 2 || stats.DeletedEvents != 1 || stats.Locations != 1 || stats.PendingLocations != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if len(stats.Sources) != 2 || stats.Sources[0].Name != "demo" || stats.Sources[0].Events != 2 {
		t.Errorf("Stats().Sources = %+v", stats.Sources)
	}
}
