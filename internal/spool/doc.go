// Package spool stores export items durably, one record per idempotency key.
//
// Two backends implement queue.Spool:
//
//   - File (default): <dir>/<id>.json, written to a temp file, fsynced, and
//     renamed into place so a crash never leaves a torn record.
//   - SQLite: one row per item holding the same JSON record, with indexed
//     status and created_at columns.
//
// Both treat undecodable records as absent and reclaim space in two passes:
// items older than the maximum age first, then the oldest items until the
// spool fits the byte limit. Each candidate is re-read immediately before it
// is deleted.
package spool
