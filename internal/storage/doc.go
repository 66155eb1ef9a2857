// Package storage defines the persistence contract of the event store.
//
// The store holds four tables: sources, locations, events and scrape_logs.
// Natural keys are enforced by unique constraints: sources.base_url,
// (locations.source_id, raw_name) and (events.source_id, external_id).
// Deleting a source cascades to its locations, events and run records;
// deleting a location nullifies the link on its events.
//
// Every write is its own transaction. There is no transaction spanning a run,
// so a run that fails partway keeps everything it wrote before the failure.
//
// Two backends implement Store: storage/sqlite (the default, an embedded
// database file under ~/.local/share/municipal-events/) and storage/postgres.
package storage
