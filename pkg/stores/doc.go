// Package stores persists the run history of upkeep. It is a SQLite
// database (modernc.org/sqlite, no cgo) migrated with golang-migrate from
// embedded SQL files, holding runs, per-step outcomes, timeline events and
// the disk usage measured before and after each run.
package stores
