package collector

import "github.com/pfrederiksen/municipal-events/internal/source"

// Pfedelbach is the event calendar of the municipality of Pfedelbach. Its
// listing links every venue to OpenStreetMap, so locations arrive with
// coordinates and need no geocoding.
var Pfedelbach = SelectorConfig{
	Name: "pfedelbach",
	Source: source.Info{
		Name:          "Gemeinde Pfedelbach",
		BaseURL:       "https://www.pfedelbach.de",
		EventsURL:     "https://www.pfedelbach.de/freizeit-kultur/veranstaltungskalender/seite-1/suche-none",
		GeocodeRegion: "74629 Pfedelbach",
	},
	Selectors: Selectors{
		Container: ".hwveranstaltung__record",
		Title:     "h3.hw_record__title span",
		Date:      ".hw_record__date .hw_record__value__text",
		Time:      ".hw_record__time .hw_record__value__text",
		Location:  ".hw_record__simpleLocation .hw_record__value__text",
		URL:       ".hw_record__more a",
		MapLink:   `a.hw_record__map_link--desktop[href*="openstreetmap.org"]`,
	},
	Pagination: Pagination{
		LastPage:  `.hw_pagination a[title="Letzte Seite"]`,
		PageLinks: `.hw_pagination a[title^="Zur Seite"]`,
		Pattern:   `/seite-(\d+)/`,
	},
	IDPattern:    `__(\d+)$`,
	URLIDPattern: `/veranstaltungskalender/(\d+)/`,
}

// Builtin returns the collectors compiled into the binary.
func Builtin() []SelectorConfig {
	return []SelectorConfig{Pfedelbach}
}

// NewDefaultRegistry registers the built-in collectors followed by extra,
// typically the collectors declared in the config file.
func NewDefaultRegistry(extra []SelectorConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range append(Builtin(), extra...) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := r.Register(cfg.Entry()); err != nil {
			return nil, err
		}
	}
	return r, nil
}
