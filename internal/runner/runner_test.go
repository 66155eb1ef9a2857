package runner

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/collector"
	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/geocode"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/metrics"
	"github.com/pfrederiksen/municipal-events/internal/scrapelog"
	"github.com/pfrederiksen/municipal-events/internal/source"
	"github.com/pfrederiksen/municipal-events/internal/storage"
	"github.com/pfrederiksen/municipal-events/internal/storage/sqlite"
)

// funcCollector adapts a function to collector.Collector.
type funcCollector func(ctx context.Context, sink collector.Sink) error

func (f funcCollector) Collect(ctx context.Context, sink collector.Sink) error {
	return f(ctx, sink)
}

func entry(name string, region string, fn funcCollector) collector.Entry {
	return collector.Entry{
		Name: name,
		Info: source.Info{
			Name:          "Gemeinde " + name,
			BaseURL:       "https://" + name + ".example",
			GeocodeRegion: region,
		},
		New: func(*collector.Fetcher) (collector.Collector, error) { return fn, nil },
	}
}

func yield(records ...event.Record) funcCollector {
	return func(ctx context.Context, sink collector.Sink) error {
		for _, rec := range records {
			if _, _, err := sink.UpsertEvent(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
}

func springFair() event.Record {
	return event.Record{
		ExternalID:  "42_2026-03-01",
		Title:       "Spring Fair",
		Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		RawLocation: "Town Hall",
	}
}

func newRunner(t *testing.T, geocoder geocode.Geocoder, entries ...collector.Entry) (*Runner, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := collector.NewRegistry()
	for _, e := range entries {
		if err := registry.Register(e); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return New(store, registry, geocoder, WithMetrics(metrics.New())), store
}

type fixedGeocoder struct {
	calls int
}

func (g *fixedGeocoder) Geocode(context.Context, string, string) geocode.Result {
	g.calls++
	return geocode.Result{Status: location.GeocodeSuccess, Latitude: 49.1, Longitude: 9.6, ResultCount: 1}
}

func TestRun_DemoScenario(t *testing.T) {
	tests := []struct {
		name       string
		region     string
		wantStatus location.Status
		wantCalls  int
	}{
		{"no region hint", "", location.StatusPending, 0},
		{"region hint", "74629 Pfedelbach", location.StatusConfirmed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			geo := &fixedGeocoder{}
			r, store := newRunner(t, geo, entry("demo", tt.region, yield(springFair())))

			first, err := r.Run(ctx, "demo")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if first.Status != scrapelog.StatusSuccess {
				t.Fatalf("first run status = %s (%s)", first.Status, first.Error)
			}
			if first.Counters.Found != 1 || first.Counters.New != 1 || first.Counters.Updated != 0 {
				t.Errorf("first run counters = %+v", first.Counters)
			}

			second, err := r.Run(ctx, "demo")
			if err != nil {
				t.Fatalf("second Run() error = %v", err)
			}
			if second.Counters.Found != 1 || second.Counters.New != 0 || second.Counters.Updated != 1 {
				t.Errorf("second run counters = %+v, want found=1 new=0 updated=1", second.Counters)
			}

			src, err := store.GetSourceByCollector(ctx, "demo")
			if err != nil {
				t.Fatalf("GetSourceByCollector() error = %v", err)
			}
			loc, err := store.FindLocation(ctx, src.ID, "Town Hall")
			if err != nil {
				t.Fatalf("FindLocation() error = %v", err)
			}
			if loc.Status != tt.wantStatus {
				t.Errorf("location status = %s, want %s", loc.Status, tt.wantStatus)
			}
			if geo.calls != tt.wantCalls {
				t.Errorf("geocoder calls = %d, want %d", geo.calls, tt.wantCalls)
			}

			events, err := store.ListEvents(ctx, storage.EventFilter{SourceID: src.ID})
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != 1 {
				t.Errorf("events = %d, want 1", len(events))
			}
		})
	}
}

func TestRun_FailureClosesRun(t *testing.T) {
	tests := []struct {
		name      string
		collect   funcCollector
		wantError string
		wantNew   int
	}{
		{
			name: "error after partial progress",
			collect: func(ctx context.Context, sink collector.Sink) error {
				if _, _, err := sink.UpsertEvent(ctx, springFair()); err != nil {
					return err
				}
				return errors.New("page 2: unexpected status code: 503")
			},
			wantError: "page 2: unexpected status code: 503",
			wantNew:   1,
		},
		{
			name: "panic",
			collect: func(context.Context, collector.Sink) error {
				panic("selector returned nil")
			},
			wantError: "collector panic: selector returned nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r, store := newRunner(t, nil, entry("demo", "", tt.collect))

			res, err := r.Run(ctx, "demo")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Status != scrapelog.StatusFailed {
				t.Errorf("Status = %s, want failed", res.Status)
			}
			if res.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantError)
			}
			if res.Counters.New != tt.wantNew {
				t.Errorf("Counters.New = %d, want %d", res.Counters.New, tt.wantNew)
			}

			log, err := store.GetScrapeLog(ctx, res.RunID)
			if err != nil {
				t.Fatalf("GetScrapeLog() error = %v", err)
			}
			if log.Status != scrapelog.StatusFailed || log.ErrorMessage == "" || log.FinishedAt == nil {
				t.Errorf("stored run = %+v, want closed failed run with message", log)
			}

			src, err := store.GetSourceByCollector(ctx, "demo")
			if err != nil {
				t.Fatalf("GetSourceByCollector() error = %v", err)
			}
			if src.LastScrapedAt == nil {
				t.Error("LastScrapedAt not updated after failed run")
			}
		})
	}
}

func TestRun_CancelledContextStillClosesRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, store := newRunner(t, nil, entry("demo", "", func(ctx context.Context, _ collector.Sink) error {
		cancel()
		return ctx.Err()
	}))

	res, err := r.Run(ctx, "demo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	log, err := store.GetScrapeLog(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetScrapeLog() error = %v", err)
	}
	if log.Status != scrapelog.StatusFailed || !strings.Contains(log.ErrorMessage, "canceled") {
		t.Errorf("stored run = %+v, want failed with cancellation message", log)
	}
}

func TestRun_FactoryError(t *testing.T) {
	e := entry("demo", "", yield())
	e.New = func(*collector.Fetcher) (collector.Collector, error) {
		return nil, errors.New("bad selector")
	}
	r, _ := newRunner(t, nil, e)

	res, err := r.Run(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != scrapelog.StatusFailed || res.Error != "creating collector: bad selector" {
		t.Errorf("Run() = %+v", res)
	}
}

func TestRun_UnknownCollector(t *testing.T) {
	r, _ := newRunner(t, nil)
	if _, err := r.Run(context.Background(), "missing"); !errors.Is(err, ErrUnknownCollector) {
		t.Errorf("Run(missing) error = %v, want ErrUnknownCollector", err)
	}
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()
	r, store := newRunner(t, nil,
		entry("alpha", "", yield(springFair())),
		entry("beta", "", func(context.Context, collector.Sink) error { return errors.New("site down") }),
		entry("gamma", "", yield(springFair())),
	)

	gamma, err := store.EnsureSource(ctx, "gamma", source.Info{Name: "Gemeinde gamma", BaseURL: "https://gamma.example"})
	if err != nil {
		t.Fatalf("EnsureSource() error = %v", err)
	}
	if err := store.SetSourceActive(ctx, gamma.ID, false); err != nil {
		t.Fatalf("SetSourceActive() error = %v", err)
	}

	results, err := r.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("RunAll() returned %d results, want 2 (gamma inactive)", len(results))
	}
	if results[0].Collector != "alpha" || results[0].Failed() {
		t.Errorf("alpha result = %+v", results[0])
	}
	if results[1].Collector != "beta" || !results[1].Failed() || results[1].Error != "site down" {
		t.Errorf("beta result = %+v", results[1])
	}

	logs, err := store.ListScrapeLogs(ctx, storage.ScrapeLogFilter{SourceID: gamma.ID})
	if err != nil {
		t.Fatalf("ListScrapeLogs() error = %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("inactive source has %d runs, want 0", len(logs))
	}

	// A run requested by name ignores the active flag.
	res, err := r.Run(ctx, "gamma")
	if err != nil || res.Failed() {
		t.Errorf("Run(gamma) = %+v, %v", res, err)
	}
}

func TestRunAll_WithinRunDedup(t *testing.T) {
	rec := springFair()
	r, _ := newRunner(t, nil, entry("demo", "", yield(rec, rec, rec)))

	results, err := r.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	c := results[0].Counters
	if c.Found != 1 || c.New != 1 || c.Skipped != 2 {
		t.Errorf("counters = %+v, want found=1 new=1 skipped=2", c)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	rec := springFair()
	r, _ := newRunner(t, nil, entry("demo", "", yield(rec, rec, event.Record{Title: "no id"})))
	m := metrics.New()
	r.metrics = m

	if _, err := r.Run(context.Background(), "demo"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	server := httptest.NewServer(m.Handler())
	defer server.Close()
	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`municipal_events_events_total{collector="demo",outcome="new"} 1`,
		`municipal_events_events_total{collector="demo",outcome="skipped"} 1`,
		`municipal_events_events_total{collector="demo",outcome="invalid"} 1`,
		`municipal_events_runs_total{collector="demo",status="success"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}
