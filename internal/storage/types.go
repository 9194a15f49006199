package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome values for Entry.Outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Entry is one audit record. Keep it compact and schema-stable.
type Entry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Store is the persistence API used by the app and the HTTP surface.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// DefaultRecentLimit applies when RecentAudit is called with limit <= 0.
const DefaultRecentLimit = 100

// MaxRecentLimit caps RecentAudit.
const MaxRecentLimit = 1000

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	}
	return limit
}
