// Package notifications sends operator alerts through ntfy.
//
// Alerts fire when an item is dead-lettered and when flushes keep failing.
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check.
package notifications
