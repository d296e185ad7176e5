// Command tracespool runs the telemetry export daemon and provides the CLI
// used to control it.
//
// `tracespool daemon` runs in the foreground; `start`, `stop`, and `restart`
// manage a detached daemon through its Unix socket. Queue inspection commands
// talk to the running daemon over JSON-RPC and fall back to opening the spool
// directly (under the single-instance lock) when no daemon is running.
package main
