package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pfrederiksen/municipal-events/internal/storage"
)

const townListing = `<html><body>
<div class="event" id="evt__11">
  <h3>Frühlingsfest</h3>
  <span class="date">14.03.2026</span>
  <span class="time">14:00 - 18:00 Uhr</span>
  <span class="loc">Festhalle</span>
</div>
<div class="event" id="evt__12">
  <h3>Orgelkonzert</h3>
  <span class="date">21.03.2026</span>
  <span class="loc">Stadtkirche</span>
</div>
</body></html>`

// testEnv writes a config with an SQLite store under a temp dir and two
// collectors backed by a local server: "testtown" serves a listing and
// "broken" answers 404.
func testEnv(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "DATABASE_DRIVER", "GOOGLE_API_KEY", "GEOCODING_DRY_RUN", "REQUEST_DELAY", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, townListing)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	config := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
scraper:
  request_delay: 0s
log:
  level: error
collectors:
  - name: testtown
    source:
      name: Testtown
      base_url: %[2]s
      events_url: %[2]s/events
    selectors:
      container: .event
      title: h3
      date: .date
      time: .time
      location: .loc
    id_pattern: '__(\d+)$'
  - name: broken
    source:
      name: Broken Town
      base_url: %[2]s/broken/
      events_url: %[2]s/broken/events
    selectors:
      container: .event
      title: h3
      date: .date
`, filepath.Join(dir, "events.db"), server.URL)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// runCLI runs the command line and returns exit code, stdout and stderr.
func runCLI(t *testing.T, configPath string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--config", configPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	code, stdout, stderr := runCLI(t, configPath, args...)
	if code != ExitSuccess {
		t.Fatalf("%v: exit code = %d, want %d (stderr: %s)", args, code, ExitSuccess, stderr)
	}
	return stdout
}

func TestScrape_EndToEnd(t *testing.T) {
	cfg := testEnv(t)

	out := mustRun(t, cfg, "scrape", "testtown")
	if !strings.Contains(out, "OK testtown (Testtown)") {
		t.Errorf("scrape output missing success line:\n%s", out)
	}
	if !strings.Contains(out, "found 2, new 2, updated 0") {
		t.Errorf("scrape output missing counters:\n%s", out)
	}

	out = mustRun(t, cfg, "scrape", "testtown")
	if !strings.Contains(out, "found 2, new 0, updated 2") {
		t.Errorf("second scrape counters wrong:\n%s", out)
	}

	out = mustRun(t, cfg, "sources", "list")
	if !strings.Contains(out, "testtown") || !strings.Contains(out, "Testtown") {
		t.Errorf("sources list = %q, want testtown source", out)
	}

	out = mustRun(t, cfg, "logs", "--source", "testtown")
	if strings.Count(out, "success") != 2 {
		t.Errorf("logs should show two successful runs:\n%s", out)
	}
}

func TestScrape_FailedRunExitCode(t *testing.T) {
	cfg := testEnv(t)

	code, out, _ := runCLI(t, cfg, "scrape", "testtown", "broken")
	if code != ExitRunsFailed {
		t.Errorf("exit code = %d, want %d", code, ExitRunsFailed)
	}
	if !strings.Contains(out, "OK testtown") {
		t.Errorf("healthy collector should still succeed:\n%s", out)
	}
	if !strings.Contains(out, "FAILED broken") || !strings.Contains(out, "404") {
		t.Errorf("output missing failure of broken collector:\n%s", out)
	}
	if !strings.Contains(out, "Total: 2 runs, 1 failed") {
		t.Errorf("output missing total line:\n%s", out)
	}
}

func TestScrape_Arguments(t *testing.T) {
	cfg := testEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no collector", []string{"scrape"}, "name one or more collectors"},
		{"names and all", []string{"scrape", "--all", "testtown"}, "name one or more collectors"},
		{"unknown collector", []string{"scrape", "nope"}, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, cfg, tt.args...)
			if code != ExitError {
				t.Errorf("exit code = %d, want %d", code, ExitError)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.want)
			}
		})
	}
}

func TestScrape_List(t *testing.T) {
	cfg := testEnv(t)

	out := mustRun(t, cfg, "scrape", "--list")
	for _, name := range []string{"pfedelbach", "testtown", "broken", "Total: 3 collectors"} {
		if !strings.Contains(out, name) {
			t.Errorf("collector list missing %s:\n%s", name, out)
		}
	}
}

func TestLocations_Review(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "locations", "list", "--status", "pending")
	if !strings.Contains(out, "Festhalle") || !strings.Contains(out, "Stadtkirche") {
		t.Fatalf("pending locations = %q, want both venues", out)
	}

	out = mustRun(t, cfg, "locations", "confirm", "1")
	if !strings.Contains(out, "Location 1 (confirmed): Festhalle") {
		t.Errorf("confirm output = %q", out)
	}

	out = mustRun(t, cfg, "locations", "update", "2",
		"--display-name", "Ev. Stadtkirche", "--street", "Kirchplatz", "--house-number", "1",
		"--postal-code", "74629", "--city", "Pfedelbach", "--lat", "49.17", "--lon", "9.5")
	if !strings.Contains(out, "Ev. Stadtkirche") || !strings.Contains(out, "Kirchplatz 1, 74629 Pfedelbach") {
		t.Errorf("update output = %q", out)
	}

	out = mustRun(t, cfg, "locations", "list", "--status", "pending")
	if !strings.Contains(out, "Stadtkirche") || strings.Contains(out, "Festhalle") {
		t.Errorf("pending after confirm = %q, want only Stadtkirche", out)
	}

	out = mustRun(t, cfg, "locations", "reset", "1")
	if !strings.Contains(out, "(pending)") {
		t.Errorf("reset output = %q", out)
	}
}

func TestLocations_UpdateErrors(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", []string{"locations", "update", "1"}, "nothing to update"},
		{"half coordinates", []string{"locations", "update", "1", "--lat", "49.1"}, "together"},
		{"out of range", []string{"locations", "update", "1", "--lat", "91", "--lon", "9"}, "out of range"},
		{"bad id", []string{"locations", "confirm", "x"}, "invalid id"},
		{"unknown id", []string{"locations", "confirm", "99"}, "not found"},
		{"bad status", []string{"locations", "list", "--status", "done"}, "invalid location status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, cfg, tt.args...)
			if code != ExitError {
				t.Errorf("exit code = %d, want %d", code, ExitError)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.want)
			}
		})
	}
}

func TestLocations_ExportImport(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	file := filepath.Join(t.TempDir(), "locations.csv")
	out := mustRun(t, cfg, "locations", "export", "-o", file)
	if !strings.Contains(out, "Exported 2 locations") {
		t.Errorf("export output = %q", out)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("export has %d lines, want header + 2", len(lines))
	}

	edited := strings.Replace(string(data), ";Festhalle;;", ";Festhalle;Große Festhalle;", 1)
	if err := os.WriteFile(file, []byte(edited), 0o600); err != nil {
		t.Fatalf("writing edited export: %v", err)
	}

	out = mustRun(t, cfg, "locations", "import", file)
	if !strings.Contains(out, "Updated 2 locations") {
		t.Errorf("import output = %q", out)
	}

	out = mustRun(t, cfg, "locations", "list")
	if !strings.Contains(out, "Große Festhalle") {
		t.Errorf("list after import = %q, want curated name", out)
	}
}

func TestEvents_DeleteRestore(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "events", "list")
	if !strings.Contains(out, "2026-03-14 14:00  Frühlingsfest") {
		t.Errorf("events list = %q", out)
	}

	mustRun(t, cfg, "events", "delete", "1")
	out = mustRun(t, cfg, "events", "list")
	if strings.Contains(out, "Frühlingsfest") {
		t.Errorf("deleted event still listed:\n%s", out)
	}
	out = mustRun(t, cfg, "events", "list", "--all")
	if !strings.Contains(out, "Frühlingsfest [deleted]") {
		t.Errorf("--all should show deleted event:\n%s", out)
	}

	mustRun(t, cfg, "events", "restore", "1")
	out = mustRun(t, cfg, "events", "list")
	if !strings.Contains(out, "Frühlingsfest") {
		t.Errorf("restored event missing:\n%s", out)
	}

	// A run that sees a deleted event again brings it back.
	mustRun(t, cfg, "events", "delete", "1")
	mustRun(t, cfg, "scrape", "testtown")
	out = mustRun(t, cfg, "events", "list")
	if !strings.Contains(out, "Frühlingsfest") {
		t.Errorf("re-scraped event should be active:\n%s", out)
	}
}

func TestEvents_ListOptions(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "events", "list", "--from", "2026-03-20")
	if strings.Contains(out, "Frühlingsfest") || !strings.Contains(out, "Orgelkonzert") {
		t.Errorf("--from filter = %q", out)
	}

	out = mustRun(t, cfg, "events", "list", "--sort", "title", "-v")
	if strings.Index(out, "Frühlingsfest") > strings.Index(out, "Orgelkonzert") {
		t.Errorf("title sort wrong:\n%s", out)
	}
	if !strings.Contains(out, "External ID: 11_2026-03-14") || !strings.Contains(out, "Location: Festhalle") {
		t.Errorf("verbose output missing details:\n%s", out)
	}

	code, _, stderr := runCLI(t, cfg, "events", "list", "--from", "14.03.2026")
	if code != ExitError || !strings.Contains(stderr, "invalid --from date") {
		t.Errorf("bad --from: code %d, stderr %q", code, stderr)
	}
}

func TestEvents_ICS(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "events", "ics", "--tz", "Europe/Berlin")
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"UID:1-11_2026-03-14@municipal-events",
		"DTSTART:20260314T130000Z",
		"DTEND:20260314T170000Z",
		"DTSTART;VALUE=DATE:20260321",
		"LOCATION:Festhalle",
		"DESCRIPTION:Testtown",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ICS missing %q:\n%s", want, out)
		}
	}
}

func TestStats_JSON(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "--format", "json", "stats")
	var stats storage.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	if stats.Events != 2 || stats.Locations != 2 || stats.PendingLocations != 2 {
		t.Errorf("stats = %+v, want 2 events, 2 pending locations", stats)
	}
}

func TestSources_Activate(t *testing.T) {
	cfg := testEnv(t)
	mustRun(t, cfg, "scrape", "testtown")

	out := mustRun(t, cfg, "sources", "deactivate", "testtown")
	if !strings.Contains(out, "is now inactive") {
		t.Errorf("deactivate output = %q", out)
	}
	out = mustRun(t, cfg, "--format", "json", "sources", "list")
	if !strings.Contains(out, `"active": false`) {
		t.Errorf("source should be inactive:\n%s", out)
	}
	out = mustRun(t, cfg, "sources", "activate", "1")
	if !strings.Contains(out, "is now active") {
		t.Errorf("activate output = %q", out)
	}
}

func TestInvalidFormat(t *testing.T) {
	cfg := testEnv(t)

	code, _, stderr := runCLI(t, cfg, "--format", "xml", "stats")
	if code != ExitError {
		t.Errorf("exit code = %d, want %d", code, ExitError)
	}
	if !strings.Contains(stderr, "invalid format") {
		t.Errorf("stderr = %q, want invalid format error", stderr)
	}
}
