// Package toast is the console's notification center: short-lived operator
// messages with automatic expiry, explicit dismissal and snapshot subscriptions.
//
// Notifications live in memory only. Expiry goes through a Scheduler so tests
// can drive time by hand.
package toast
