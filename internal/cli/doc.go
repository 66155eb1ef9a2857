// Package cli implements the command-line interface for municipal-events.
//
// The cli package provides the Cobra-based CLI: triggering collector runs
// (one, several or all), the weekly scheduler, inspecting run records and
// statistics, the location review workflow with bulk CSV/JSON
// import/export, soft-deleting events and exporting them as iCalendar. It
// wires configuration, storage backend, geocoder and collector registry
// together; every command prints text or JSON (--format).
package cli
