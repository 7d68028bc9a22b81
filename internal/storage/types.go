package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one finished run. Keep it compact and schema-stable.
type RunRecord struct {
	At          time.Time `json:"at"`
	RunID       uint64    `json:"run_id"`
	Task        string    `json:"task"`
	Mode        string    `json:"mode"`
	TriggeredAt time.Time `json:"triggered_at"`
	StartedAt   time.Time `json:"started_at"`
	TookMS      int64     `json:"took_ms"`
	OK          bool      `json:"ok"`
	Phase       string    `json:"phase,omitempty"`
	Error       string    `json:"error,omitempty"`
}
