// Package config loads, normalizes, and validates tracespool configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRACESPOOL_API_KEY. The Config type centralizes every knob the daemon and
// CLI need: where the spool lives, how the queue manager paces retries, and
// which delivery sink receives exported transcripts.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, clamped intervals, and clear validation errors.
package config
