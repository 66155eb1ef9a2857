// Package reconcile merges collected records into the store.
//
// The Resolver finds or creates a location per (source, trimmed raw name).
// Existing locations are returned untouched, so curated addresses and review
// decisions survive later runs. A new location is geocoded only when the page
// gave no coordinates and the source has a region hint.
//
// The Reconciler upserts events by (source, external id). A re-sighted event
// has every mutable field overwritten and its soft-delete marker cleared.
//
// A Session is the per-run view handed to a collector. It drops malformed
// records, skips external ids already seen in the run and keeps the counters
// the run record is closed with.
package reconcile
