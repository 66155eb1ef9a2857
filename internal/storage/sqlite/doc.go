// Package sqlite implements storage.Store on an embedded SQLite database
// using a pool of zombiezen.com/go/sqlite connections.
//
// Every connection runs in WAL mode with foreign keys enforced, so the
// cascade and set-null rules of the schema apply. Timestamps are stored as
// RFC 3339 text in UTC, event dates as YYYY-MM-DD and times of day as HH:MM.
package sqlite
