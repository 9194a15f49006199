package toast

import "time"

// NoExpiry as a TTL means the notification stays until dismissed.
const NoExpiry time.Duration = -1

// DefaultTTL applies when neither the center config nor the caller sets one.
const DefaultTTL = 5 * time.Second

// Notification is immutable once created. Values returned by the center are copies.
type Notification struct {
	ID        string
	Kind      Kind
	Message   string
	CreatedAt time.Time
	TTL       time.Duration
	ExpiresAt *time.Time // nil when TTL == NoExpiry
}

// Sticky reports whether the notification never auto-dismisses.
func (n Notification) Sticky() bool { return n.TTL == NoExpiry }

type Reason string

const (
	ReasonDismissed Reason = "dismissed"
	ReasonExpired   Reason = "expired"
	ReasonCleared   Reason = "cleared"
)

// Removal records why and when a notification left the active list.
type Removal struct {
	Notification Notification
	Reason       Reason
	RemovedAt    time.Time
}

type notifyOpts struct {
	ttl    time.Duration
	ttlSet bool
}

type Option func(*notifyOpts)

// WithTTL overrides the center's default TTL. Zero keeps the default,
// any negative value means NoExpiry.
func WithTTL(d time.Duration) Option {
	return func(o *notifyOpts) {
		if d == 0 {
			return
		}
		if d < 0 {
			d = NoExpiry
		}
		o.ttl = d
		o.ttlSet = true
	}
}

// Sticky disables auto-dismiss.
func Sticky() Option { return WithTTL(NoExpiry) }
