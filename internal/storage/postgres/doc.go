// Package postgres implements storage.Store on PostgreSQL through a pgx
// connection pool.
//
// Coordinates are NUMERIC(10,8)/NUMERIC(11,8), event dates DATE and times of
// day TIME. The schema is created on Open when missing.
package postgres
