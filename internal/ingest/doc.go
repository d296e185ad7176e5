// Package ingest turns transcript documents into queue items.
//
// A document is one JSON file describing a finished session and its turns.
// Documents arrive either through the inbox directory, which a Watcher
// observes with fsnotify, or directly over IPC. Each document is validated
// against an embedded JSON Schema, replayed through a transcript.Collector,
// and every answered turn is assembled and enqueued.
//
// Inbox files are moved to processed/ once all of their items are either
// accepted or recognized as duplicates, and to rejected/ when the document is
// invalid. A file whose items could not be stored stays in the inbox and is
// picked up again by the next rescan.
package ingest
