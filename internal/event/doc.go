// Package event provides the stored event model and the normalized record
// collectors produce.
//
// A Record is what a site-specific collector hands to the reconciler: an
// external id, a title and a date, plus optional times, URL, raw venue text and
// address hints. An Event is the stored, deduplicated form keyed by
// (source, external id). Applying a record to an existing event overwrites all
// mutable fields and clears any soft-delete marker.
//
// The package also contains the date and time-of-day parsers shared by the
// collectors for German date text ("06.02.2026", "6. Februar", "20:00 Uhr").
package event
