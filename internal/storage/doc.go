// Package storage persists the run journal.
//
// Every finished run is appended as one RunRecord. Two backends exist:
//   - file: JSON Lines, dependency-free
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
