// Package logging builds the slog loggers used across tracespool.
//
// It owns the console and JSON handlers, resolves level and output paths from
// configuration, and defines the structured field keys (component, item_id,
// session_id, event_type) that queue, spool, and delivery code attach to their
// log lines. A no-op logger is provided for tests and for wiring code that
// runs before configuration is available.
package logging
