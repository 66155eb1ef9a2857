package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"

	"github.com/pfrederiksen/municipal-events/internal/logger"
)

const (
	DefaultUserAgent = "municipal-events/1.0 (+https://github.com/pfrederiksen/municipal-events)"
	DefaultDelay     = 1 * time.Second
	DefaultTimeout   = 30 * time.Second
)

// ErrDisallowed is returned for URLs excluded by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// FetcherConfig configures a Fetcher. Zero values select the defaults.
type FetcherConfig struct {
	UserAgent     string
	Delay         time.Duration
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher performs the throttled HTTP requests of a run. It is not meant for
// concurrent use by several runs.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
	wait   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	robots map[string]*robotstxt.Group
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		wait:   sleep,
		robots: make(map[string]*robotstxt.Group),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get waits the politeness delay, then fetches rawURL and returns the body
// decoded to UTF-8. Any status other than 200 is an error.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.do(ctx, rawURL, "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return body, nil
}

// Document fetches rawURL and parses it as HTML.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := f.do(ctx, rawURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML of %s: %w", rawURL, err)
	}
	if u, err := url.Parse(rawURL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// JSON fetches rawURL and decodes the JSON body into v.
func (f *Fetcher) JSON(ctx context.Context, rawURL string, v any) error {
	resp, err := f.do(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing JSON of %s: %w", rawURL, err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	if f.cfg.RespectRobots && !f.allowed(ctx, u) {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, ErrDisallowed)
	}

	if err := f.wait(ctx, f.cfg.Delay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")

	logger.Debug("Fetching page", logger.Fields{"url": rawURL})
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status code: %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

// allowed consults the host's robots.txt, loading it once per host. A
// robots.txt that cannot be loaded allows everything.
func (f *Fetcher) allowed(ctx context.Context, u *url.URL) bool {
	f.mu.Lock()
	group, cached := f.robots[u.Host]
	f.mu.Unlock()

	if !cached {
		group = f.loadRobots(ctx, u)
		f.mu.Lock()
		f.robots[u.Host] = group
		f.mu.Unlock()
	}
	if group == nil {
		return true
	}
	return group.Test(u.RequestURI())
}

func (f *Fetcher) loadRobots(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Warn("Loading robots.txt failed, ignoring", logger.Fields{"url": robotsURL, "error": err.Error()})
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		logger.Warn("Parsing robots.txt failed, ignoring", logger.Fields{"url": robotsURL, "error": err.Error()})
		return nil
	}
	return data.FindGroup(f.cfg.UserAgent)
}
