// Package storage persists the console's audit journal.
//
// It records operator actions (endpoint edits, reloads, engine commands) and
// system outcomes (endpoint resolution, health transitions). Drivers:
//   - file: append-only JSON Lines
//   - sqlite: modernc.org/sqlite database file
//   - postgres: lib/pq, configured by DSN
package storage
