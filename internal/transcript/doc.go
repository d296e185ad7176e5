// Package transcript turns captured session activity into export items.
//
// A Collector accumulates request/response turns per session and releases
// them as Transcripts when the session completes. Assemble converts one
// Transcript into a pending queue.Item whose ID is derived from the session,
// unit, and source-event time, so re-assembling the same activity always
// yields the same idempotency key.
package transcript
