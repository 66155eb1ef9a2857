// Package source describes the websites events are collected from.
package source

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Info is the static description a collector registers with. BaseURL is the
// natural key of the stored Source row.
type Info struct {
	Name          string `json:"name" yaml:"name"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	EventsURL     string `json:"events_url,omitempty" yaml:"events_url"`
	GeocodeRegion string `json:"geocode_region,omitempty" yaml:"geocode_region"`
}

// Validate checks that Info carries a display name and an absolute base URL.
func (i Info) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	u, err := url.Parse(i.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source %q: base URL %q must be absolute", i.Name, i.BaseURL)
	}
	return nil
}

// Resolve turns a possibly relative link found on a page of this source into
// an absolute URL.
func (i Info) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	base, err := url.Parse(i.BaseURL)
	if err != nil {
		return ref
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(target).String()
}

// Source is one originating website as stored.
type Source struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	BaseURL       string     `json:"base_url"`
	Collector     string     `json:"collector"`
	Active        bool       `json:"active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// New builds a not yet persisted, active Source for a collector.
func New(collector string, info Info) *Source {
	return &Source{
		Name:      info.Name,
		BaseURL:   info.BaseURL,
		Collector: collector,
		Active:    true,
	}
}
