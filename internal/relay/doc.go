// Package relay forwards high-severity toasts to an operator chat.
//
// Toasts published on the event bus are filtered by kind, deduplicated within
// a window, queued, and delivered by a small worker pool through a Sender.
// Delivery is rate limited and retried with jittered exponential backoff.
// The relay is best-effort: a full queue or a failing sender never affects the
// notification center itself.
package relay
