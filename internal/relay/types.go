package relay

import (
	"time"

	"nautconsole/internal/toast"
)

// Config controls the async relay pipeline.
type Config struct {
	Enabled         bool
	MinKind         toast.Kind // zero value is info; the app defaults it to warning
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Event is emitted on the bus for relay lifecycle events.
type Event struct {
	ToastID string     `json:"toast_id"`
	Kind    toast.Kind `json:"kind"`
	Key     string     `json:"key"`
	At      time.Time  `json:"at"`
	Error   string     `json:"error,omitempty"`
}
