package collector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/source"
)

const (
	defaultPagePattern = `/seite-(\d+)/`
	defaultMaxPages    = 50
)

var (
	mlatPattern = regexp.MustCompile(`mlat=(-?[0-9.]+)`)
	mlonPattern = regexp.MustCompile(`mlon=(-?[0-9.]+)`)
)

// Selectors are the CSS selectors of one event listing. Container, Title
// and Date are required; the others are evaluated inside each container.
type Selectors struct {
	Container string `yaml:"container"`
	Title     string `yaml:"title"`
	Date      string `yaml:"date"`
	Time      string `yaml:"time"`
	Location  string `yaml:"location"`
	URL       string `yaml:"url"`
	// MapLink selects an OpenStreetMap link carrying mlat/mlon parameters.
	MapLink string `yaml:"map_link"`
}

// Pagination describes how to discover the listing's page URLs. The page
// number is captured by Pattern in both the links and the events URL.
type Pagination struct {
	LastPage  string `yaml:"last_page"`
	PageLinks string `yaml:"page_links"`
	Pattern   string `yaml:"pattern"`
	MaxPages  int    `yaml:"max_pages"`
}

// SelectorConfig declares a collector for a CSS-structured event listing.
type SelectorConfig struct {
	Name       string      `yaml:"name"`
	Source     source.Info `yaml:"source"`
	Selectors  Selectors   `yaml:"selectors"`
	Pagination Pagination  `yaml:"pagination"`
	// IDPattern is matched against the container's id attribute; its first
	// group becomes the site event id.
	IDPattern string `yaml:"id_pattern"`
	// URLIDPattern is matched against the event URL when the container
	// carries no id.
	URLIDPattern string `yaml:"url_id_pattern"`
}

// Validate checks required fields and regular expressions.
func (c SelectorConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("collector %s: %w", c.Name, err)
	}
	if c.Source.EventsURL == "" {
		return fmt.Errorf("collector %s: events_url is required", c.Name)
	}
	if c.Selectors.Container == "" || c.Selectors.Title == "" || c.Selectors.Date == "" {
		return fmt.Errorf("collector %s: container, title and date selectors are required", c.Name)
	}
	for field, pattern := range map[string]string{
		"id_pattern":         c.IDPattern,
		"url_id_pattern":     c.URLIDPattern,
		"pagination.pattern": c.Pagination.Pattern,
	} {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("collector %s: %s: %w", c.Name, field, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("collector %s: %s needs a capture group", c.Name, field)
		}
	}
	return nil
}

// Entry turns the config into a registry entry.
func (c SelectorConfig) Entry() Entry {
	return Entry{
		Name: c.Name,
		Info: c.Source,
		New: func(f *Fetcher) (Collector, error) {
			return NewSelectorCollector(c, f)
		},
	}
}

// SelectorCollector walks a paginated HTML listing using CSS selectors.
type SelectorCollector struct {
	cfg          SelectorConfig
	fetcher      *Fetcher
	pagePattern  *regexp.Regexp
	idPattern    *regexp.Regexp
	urlIDPattern *regexp.Regexp
	now          func() time.Time
}

// NewSelectorCollector validates cfg and binds it to f.
func NewSelectorCollector(cfg SelectorConfig, f *Fetcher) (*SelectorCollector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &SelectorCollector{cfg: cfg, fetcher: f, now: time.Now}

	pattern := cfg.Pagination.Pattern
	if pattern == "" {
		pattern = defaultPagePattern
	}
	c.pagePattern = regexp.MustCompile(pattern)
	if cfg.IDPattern != "" {
		c.idPattern = regexp.MustCompile(cfg.IDPattern)
	}
	if cfg.URLIDPattern != "" {
		c.urlIDPattern = regexp.MustCompile(cfg.URLIDPattern)
	}
	return c, nil
}

// Collect implements Collector.
func (c *SelectorCollector) Collect(ctx context.Context, sink Sink) error {
	first, err := c.fetcher.Document(ctx, c.cfg.Source.EventsURL)
	if err != nil {
		return err
	}

	pages := c.pageURLs(first)
	logger.Info("Pages found", logger.Fields{"collector": c.cfg.Name, "pages": len(pages)})

	for i, pageURL := range pages {
		doc := first
		if i > 0 {
			logger.Debug("Loading page", logger.Fields{"collector": c.cfg.Name, "page": i + 1, "of": len(pages)})
			doc, err = c.fetcher.Document(ctx, pageURL)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
		}

		var sinkErr error
		doc.Find(c.cfg.Selectors.Container).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			rec := c.parseRecord(sel)
			if _, _, err := sink.UpsertEvent(ctx, rec); err != nil {
				sinkErr = err
				return false
			}
			return true
		})
		if sinkErr != nil {
			return sinkErr
		}
	}
	return nil
}

// pageURLs returns the URLs of every listing page, the events URL first.
func (c *SelectorCollector) pageURLs(first *goquery.Document) []string {
	base := c.cfg.Source.EventsURL
	p := c.cfg.Pagination
	if p.LastPage == "" && p.PageLinks == "" {
		return []string{base}
	}

	maxPage := 1
	if p.LastPage != "" {
		if href, ok := first.Find(p.LastPage).First().Attr("href"); ok {
			maxPage = c.pageNumber(href, maxPage)
		}
	}
	if maxPage == 1 && p.PageLinks != "" {
		first.Find(p.PageLinks).Each(func(_ int, sel *goquery.Selection) {
			if href, ok := sel.Attr("href"); ok {
				if n := c.pageNumber(href, 0); n > maxPage {
					maxPage = n
				}
			}
		})
	}

	limit := p.MaxPages
	if limit <= 0 {
		limit = defaultMaxPages
	}
	if maxPage > limit {
		logger.Warn("Page count capped", logger.Fields{"collector": c.cfg.Name, "pages": maxPage, "max_pages": limit})
		maxPage = limit
	}

	loc := c.pagePattern.FindStringSubmatchIndex(base)
	if loc == nil {
		if maxPage > 1 {
			logger.Warn("Events URL carries no page number, reading first page only", logger.Fields{"collector": c.cfg.Name, "url": base})
		}
		return []string{base}
	}

	urls := make([]string, 0, maxPage)
	for page := 1; page <= maxPage; page++ {
		urls = append(urls, base[:loc[2]]+strconv.Itoa(page)+base[loc[3]:])
	}
	return urls
}

func (c *SelectorCollector) pageNumber(href string, fallback int) int {
	m := c.pagePattern.FindStringSubmatch(href)
	if m == nil {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return n
}

func (c *SelectorCollector) parseRecord(sel *goquery.Selection) event.Record {
	s := c.cfg.Selectors
	rec := event.Record{
		Title: text(sel, s.Title),
	}

	rec.Date, rec.EndDate = event.ParseDateRange(text(sel, s.Date), c.now())
	if s.Time != "" {
		rec.Time, rec.EndTime = event.ParseClockRange(text(sel, s.Time))
	}
	if s.Location != "" {
		rec.RawLocation = text(sel, s.Location)
	}
	if s.URL != "" {
		if href, ok := sel.Find(s.URL).First().Attr("href"); ok {
			rec.URL = c.cfg.Source.Resolve(href)
		}
	}
	if s.MapLink != "" {
		if href, ok := sel.Find(s.MapLink).First().Attr("href"); ok {
			rec.Hints = mapHints(href)
		}
	}

	rec.ExternalID = c.externalID(sel, rec)
	return rec
}

// externalID prefers the site's own event id, disambiguated by date for
// recurring events, and falls back to a title hash.
func (c *SelectorCollector) externalID(sel *goquery.Selection, rec event.Record) string {
	if rec.Date.IsZero() {
		return ""
	}
	day := rec.Date.Format(event.DateLayout)

	if c.idPattern != nil {
		if id, ok := sel.Attr("id"); ok {
			if m := c.idPattern.FindStringSubmatch(id); m != nil {
				return m[1] + "_" + day
			}
		}
	}
	if c.urlIDPattern != nil && rec.URL != "" {
		if m := c.urlIDPattern.FindStringSubmatch(rec.URL); m != nil {
			return m[1] + "_" + day
		}
	}
	return c.cfg.Name + "_" + event.GenerateID(rec.Title, rec.Date)
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(sel.Find(selector).First().Text()), " ")
}

func mapHints(href string) location.Hints {
	latM := mlatPattern.FindStringSubmatch(href)
	lonM := mlonPattern.FindStringSubmatch(href)
	if latM == nil || lonM == nil {
		return location.Hints{}
	}
	lat, err1 := strconv.ParseFloat(latM[1], 64)
	lon, err2 := strconv.ParseFloat(lonM[1], 64)
	if err1 != nil || err2 != nil {
		return location.Hints{}
	}
	return location.Hints{Latitude: &lat, Longitude: &lon}
}
