package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
	"github.com/pfrederiksen/municipal-events/internal/storage/sqlite"
)

// fakeGeocoder returns a fixed result and counts calls.
type fakeGeocoder struct {
	result geocode.Result
	calls  []string
}

func (f *fakeGeocoder) Geocode(_ context.Context, name, region string) geocode.Result {
	f.calls = append(f.calls, geocode.Query(name, region))
	return f.result
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSource(t *testing.T, store storage.Store, name string) *source.Source {
	t.Helper()
	src, err := store.EnsureSource(context.Background(), name, source.Info{
		Name:    name,
		BaseURL: "https://" + name + ".example",
	})
	if err != nil {
		t.Fatalf("EnsureSource() error = %v", err)
	}
	return src
}

func springFair() event.Record {
	return event.Record{
		ExternalID:  "42_2026-03-01",
		Title:       "Spring Fair",
		Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		RawLocation: "Town Hall",
	}
}

func TestReconciler_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	r := New(store, nil)

	first, isNew, err := r.Upsert(ctx, src.ID, springFair(), nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !isNew {
		t.Error("first Upsert() isNew = false, want true")
	}

	second, isNew, err := r.Upsert(ctx, src.ID, springFair(), nil)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if isNew {
		t.Error("second Upsert() isNew = true, want false")
	}
	if second.ID != first.ID {
		t.Errorf("second Upsert() id = %d, want %d", second.ID, first.ID)
	}

	events, _ := store.ListEvents(ctx, storage.EventFilter{SourceID: src.ID, IncludeDeleted: true})
	if len(events) != 1 {
		t.Errorf("event rows = %d, want 1", len(events))
	}
}

func TestReconciler_NaturalKeyOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	r := New(store, nil)

	rec := springFair()
	rec.URL = "https://demo.example/42"
	if _, _, err := r.Upsert(ctx, src.ID, rec, nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec.Title = "Spring Fair (verschoben)"
	rec.URL = ""
	if _, _, err := r.Upsert(ctx, src.ID, rec, nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	events, _ := store.ListEvents(ctx, storage.EventFilter{SourceID: src.ID})
	if len(events) != 1 {
		t.Fatalf("event rows = %d, want 1", len(events))
	}
	if events[0].Title != "Spring Fair (verschoben)" {
		t.Errorf("Title = %q, want second title", events[0].Title)
	}
	if events[0].URL != "" {
		t.Errorf("URL = %q, want cleared by later record", events[0].URL)
	}
}

func TestReconciler_ReactivatesSoftDeleted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	r := New(store, nil)

	evt, _, err := r.Upsert(ctx, src.ID, springFair(), nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	now := time.Now()
	if err := store.SetEventDeleted(ctx, evt.ID, &now); err != nil {
		t.Fatalf("SetEventDeleted() error = %v", err)
	}

	again, isNew, err := r.Upsert(ctx, src.ID, springFair(), nil)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if isNew || again.ID != evt.ID {
		t.Errorf("Upsert() = (%d, %v), want (%d, false)", again.ID, isNew, evt.ID)
	}
	got, _ := store.GetEvent(ctx, evt.ID)
	if got.IsDeleted() {
		t.Error("event should be reactivated")
	}
}

func TestReconciler_RejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	r := New(store, nil)

	rec := springFair()
	rec.Title = ""
	if _, _, err := r.Upsert(context.Background(), src.ID, rec, nil); err == nil {
		t.Error("Upsert() with missing title expected error")
	}
}

func TestResolver_LocationReuse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := newSource(t, store, "a")
	b := newSource(t, store, "b")
	r := NewResolver(store, nil)

	first, created, err := r.Resolve(ctx, a.ID, "", "Town Hall", location.Hints{})
	if err != nil || !created {
		t.Fatalf("Resolve() = %v, %v, %v", first, created, err)
	}
	again, created, err := r.Resolve(ctx, a.ID, "", "  Town Hall ", location.Hints{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if created || again.ID != first.ID {
		t.Errorf("same source/name resolved to %d (created=%v), want %d", again.ID, created, first.ID)
	}

	other, _, err := r.Resolve(ctx, b.ID, "", "Town Hall", location.Hints{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if other.ID == first.ID {
		t.Error("same name under another source must resolve to a distinct location")
	}

	if _, _, err := r.Resolve(ctx, a.ID, "", "   ", location.Hints{}); err == nil {
		t.Error("Resolve() with blank name expected error")
	}
}

func TestResolver_GeocodingGating(t *testing.T) {
	lat, lon := 49.2, 9.55

	tests := []struct {
		name        string
		region      string
		hints       location.Hints
		result      geocode.Result
		wantCalls   int
		wantStatus  location.Status
		wantGeocode location.GeocodeStatus
		wantCoords  bool
	}{
		{
			name:        "hinted coordinates skip geocoding",
			region:      "74629 Pfedelbach",
			hints:       location.Hints{Latitude: &lat, Longitude: &lon},
			wantCalls:   0,
			wantStatus:  location.StatusConfirmed,
			wantGeocode: location.GeocodeUnset,
			wantCoords:  true,
		},
		{
			name:        "one hinted coordinate is not enough",
			region:      "74629 Pfedelbach",
			hints:       location.Hints{Latitude: &lat},
			result:      geocode.Result{Status: location.GeocodeNotFound},
			wantCalls:   1,
			wantStatus:  location.StatusPending,
			wantGeocode: location.GeocodeNotFound,
		},
		{
			name:        "success confirms",
			region:      "74629 Pfedelbach",
			result:      geocode.Result{Status: location.GeocodeSuccess, Latitude: 49.1, Longitude: 9.6, ResultCount: 1},
			wantCalls:   1,
			wantStatus:  location.StatusConfirmed,
			wantGeocode: location.GeocodeSuccess,
			wantCoords:  true,
		},
		{
			name:        "multiple confirms with first candidate",
			region:      "74629 Pfedelbach",
			result:      geocode.Result{Status: location.GeocodeMultiple, Latitude: 49.1, Longitude: 9.6, ResultCount: 3},
			wantCalls:   1,
			wantStatus:  location.StatusConfirmed,
			wantGeocode: location.GeocodeMultiple,
			wantCoords:  true,
		},
		{
			name:        "error leaves pending",
			region:      "74629 Pfedelbach",
			result:      geocode.Result{Status: location.GeocodeError, ErrorMessage: "REQUEST_DENIED"},
			wantCalls:   1,
			wantStatus:  location.StatusPending,
			wantGeocode: location.GeocodeError,
		},
		{
			name:        "no region skips geocoding",
			region:      "",
			wantCalls:   0,
			wantStatus:  location.StatusPending,
			wantGeocode: location.GeocodeUnset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			src := newSource(t, store, "demo")
			geo := &fakeGeocoder{result: tt.result}
			r := NewResolver(store, geo)

			loc, created, err := r.Resolve(ctx, src.ID, tt.region, "Festhalle", tt.hints)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !created {
				t.Error("Resolve() created = false, want true")
			}
			if len(geo.calls) != tt.wantCalls {
				t.Errorf("geocoder calls = %d, want %d", len(geo.calls), tt.wantCalls)
			}
			if loc.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", loc.Status, tt.wantStatus)
			}
			if loc.GeocodeStatus != tt.wantGeocode {
				t.Errorf("GeocodeStatus = %q, want %q", loc.GeocodeStatus, tt.wantGeocode)
			}
			if (loc.Coordinates != nil) != tt.wantCoords {
				t.Errorf("Coordinates = %v, wantCoords %v", loc.Coordinates, tt.wantCoords)
			}

			// A second resolve never geocodes again.
			if _, _, err := r.Resolve(ctx, src.ID, tt.region, "Festhalle", location.Hints{}); err != nil {
				t.Fatalf("second Resolve() error = %v", err)
			}
			if len(geo.calls) != tt.wantCalls {
				t.Errorf("geocoder calls after reuse = %d, want %d", len(geo.calls), tt.wantCalls)
			}
		})
	}
}

func TestResolver_NeverOverwritesCuratedData(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	r := NewResolver(store, nil)

	loc, _, err := r.Resolve(ctx, src.ID, "", "Festhalle", location.Hints{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	loc.DisplayName = "Festhalle Pfedelbach"
	loc.Status = location.StatusIgnored
	if err := store.UpdateLocation(ctx, loc); err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}

	lat, lon := 1.0, 2.0
	again, _, err := r.Resolve(ctx, src.ID, "", "Festhalle", location.Hints{City: "Elsewhere", Latitude: &lat, Longitude: &lon})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if again.DisplayName != "Festhalle Pfedelbach" || again.Status != location.StatusIgnored || again.City != "" || again.Coordinates != nil {
		t.Errorf("curated location was modified: %+v", again)
	}
}

func TestSession_WithinRunDedup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")

	var outcomes []Outcome
	session := New(store, nil).Session(src, "", WithObserver(func(_ event.Record, o Outcome) {
		outcomes = append(outcomes, o)
	}))

	for i := 0; i < 3; i++ {
		if _, _, err := session.UpsertEvent(ctx, springFair()); err != nil {
			t.Fatalf("UpsertEvent() error = %v", err)
		}
	}

	c := session.Counters()
	if c.Found != 1 || c.New != 1 || c.Updated != 0 || c.Skipped != 2 {
		t.Errorf("Counters() = %+v, want found=1 new=1 updated=0 skipped=2", c)
	}
	want := []Outcome{OutcomeNew, OutcomeDuplicate, OutcomeDuplicate}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, outcomes[i], want[i])
		}
	}

	evt, _ := store.FindEvent(ctx, src.ID, "42_2026-03-01")
	if !evt.CreatedAt.Equal(evt.UpdatedAt) {
		t.Error("duplicates must not write the event again")
	}
}

func TestSession_DropsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	session := New(store, nil).Session(src, "")

	bad := []event.Record{
		{Title: "no id", Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ExternalID: "x", Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ExternalID: "y", Title: "no date"},
	}
	for _, rec := range bad {
		id, isNew, err := session.UpsertEvent(ctx, rec)
		if err != nil || id != 0 || isNew {
			t.Errorf("UpsertEvent(%+v) = (%d, %v, %v), want dropped", rec, id, isNew, err)
		}
	}

	c := session.Counters()
	if c.Found != 0 || c.Invalid != 3 {
		t.Errorf("Counters() = %+v, want found=0 invalid=3", c)
	}
	events, _ := store.ListEvents(ctx, storage.EventFilter{IncludeDeleted: true})
	if len(events) != 0 {
		t.Errorf("malformed records reached the store: %d rows", len(events))
	}
}

func TestSession_LocationLinkAndGeoStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newSource(t, store, "demo")
	geo := &fakeGeocoder{result: geocode.Result{Status: location.GeocodeMultiple, Latitude: 49.1, Longitude: 9.6}}
	session := New(store, geo).Session(src, "74629 Pfedelbach")

	first := springFair()
	second := springFair()
	second.ExternalID = "43_2026-03-02"
	second.Date = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	noVenue := springFair()
	noVenue.ExternalID = "44_2026-03-03"
	noVenue.RawLocation = "  "

	id1, _, err := session.UpsertEvent(ctx, first)
	if err != nil {
		t.Fatalf("UpsertEvent() error = %v", err)
	}
	id2, _, _ := session.UpsertEvent(ctx, second)
	id3, _, _ := session.UpsertEvent(ctx, noVenue)

	e1, _ := store.GetEvent(ctx, id1)
	e2, _ := store.GetEvent(ctx, id2)
	e3, _ := store.GetEvent(ctx, id3)
	if e1.LocationID == nil || e2.LocationID == nil || *e1.LocationID != *e2.LocationID {
		t.Errorf("events with the same venue should share a location: %v %v", e1.LocationID, e2.LocationID)
	}
	if e3.LocationID != nil {
		t.Errorf("event without raw location has location %d", *e3.LocationID)
	}

	c := session.Counters()
	if c.Geo.Multiple != 1 || c.Geo.Total() != 1 {
		t.Errorf("Geo = %+v, want one ambiguous call", c.Geo)
	}
	if len(geo.calls) != 1 || geo.calls[0] != "Town Hall, 74629 Pfedelbach" {
		t.Errorf("geocoder calls = %v", geo.calls)
	}

	exists, err := session.LocationExists(ctx, "Town Hall")
	if err != nil || !exists {
		t.Errorf("LocationExists(Town Hall) = %v, %v", exists, err)
	}
	exists, _ = session.LocationExists(ctx, "Kelter")
	if exists {
		t.Error("LocationExists(Kelter) = true, want false")
	}
}

func TestSession_DemoScenario(t *testing.T) {
	tests := []struct {
		name       string
		region     string
		wantStatus location.Status
		wantCalls  int
	}{
		{"no region hint", "", location.StatusPending, 0},
		{"region hint with geocoder success", "74629 Pfedelbach", location.StatusConfirmed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			src := newSource(t, store, "demo")
			geo := &fakeGeocoder{result: geocode.Result{Status: location.GeocodeSuccess, Latitude: 49.1, Longitude: 9.6, ResultCount: 1}}
			r := New(store, geo)

			run1 := r.Session(src, tt.region)
			id, isNew, err := run1.UpsertEvent(ctx, springFair())
			if err != nil || !isNew {
				t.Fatalf("first run UpsertEvent() = (%d, %v, %v), want new", id, isNew, err)
			}
			loc, err := store.FindLocation(ctx, src.ID, "Town Hall")
			if err != nil {
				t.Fatalf("FindLocation() error = %v", err)
			}
			if loc.Status != tt.wantStatus {
				t.Errorf("location status = %q, want %q", loc.Status, tt.wantStatus)
			}
			if tt.wantStatus == location.StatusConfirmed && (loc.Coordinates.Latitude != 49.1 || loc.Coordinates.Longitude != 9.6) {
				t.Errorf("Coordinates = %+v, want 49.1/9.6", loc.Coordinates)
			}

			run2 := r.Session(src, tt.region)
			id2, isNew, err := run2.UpsertEvent(ctx, springFair())
			if err != nil || isNew || id2 != id {
				t.Fatalf("second run UpsertEvent() = (%d, %v, %v), want (%d, false)", id2, isNew, err, id)
			}
			c := run2.Counters()
			if c.Found != 1 || c.New != 0 || c.Updated != 1 {
				t.Errorf("second run counters = %+v, want found=1 new=0 updated=1", c)
			}

			locAfter, _ := store.FindLocation(ctx, src.ID, "Town Hall")
			if !locAfter.UpdatedAt.Equal(loc.UpdatedAt) || locAfter.Status != loc.Status {
				t.Error("location row must be untouched by the second run")
			}
			if len(geo.calls) != tt.wantCalls {
				t.Errorf("geocoder calls = %d, want %d", len(geo.calls), tt.wantCalls)
			}
		})
	}
}
