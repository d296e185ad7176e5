// Package daemon coordinates the long-running tracespool process.
//
// It wires the spool, the queue manager, the delivery sink, the inbox
// watcher, and notifications into a single lifecycle with flock-based locking
// so only one process ever owns a spool. Start recovers items a previous run
// left in processing before the flush loop begins; Stop runs one final flush
// before releasing the lock.
//
// The daemon also exposes the queue maintenance helpers that the IPC server
// forwards to the CLI.
package daemon
