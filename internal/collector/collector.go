package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/pfrederiksen/municipal-events/internal/event"
	"github.com/pfrederiksen/municipal-events/internal/location"
	"github.com/pfrederiksen/municipal-events/internal/source"
)

// Sink receives the records of one run.
type Sink interface {
	// UpsertEvent stores rec and reports its event id and whether it was
	// new. Dropped records (malformed or repeated) return id 0.
	UpsertEvent(ctx context.Context, rec event.Record) (int64, bool, error)
	// ResolveLocation returns the id of the venue named rawName.
	ResolveLocation(ctx context.Context, rawName string, hints location.Hints) (int64, error)
	// LocationExists reports whether the venue is already known, so a
	// collector can skip fetching its detail page.
	LocationExists(ctx context.Context, rawName string) (bool, error)
}

// Collector produces the events of one website. Collect returns the first
// fetch, parse or sink error; there are no retries.
type Collector interface {
	Collect(ctx context.Context, sink Sink) error
}

// Factory builds a collector bound to a fetcher.
type Factory func(f *Fetcher) (Collector, error)

// Entry is one registered collector.
type Entry struct {
	Name string
	Info source.Info
	New  Factory
}

// Registry maps collector names to entries.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds e. Names must be unique.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("collector name is required")
	}
	if e.New == nil {
		return fmt.Errorf("collector %s: factory is required", e.Name)
	}
	if err := e.Info.Validate(); err != nil {
		return fmt.Errorf("collector %s: %w", e.Name, err)
	}
	if _, exists := r.entries[e.Name]; exists {
		return fmt.Errorf("collector %s already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.entries))
	for _, name := range r.Names() {
		entries = append(entries, r.entries[name])
	}
	return entries
}

// Len returns the number of registered collectors.
func (r *Registry) Len() int {
	return len(r.entries)
}
