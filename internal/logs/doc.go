// Package logs reads daemon run logs for the CLI.
//
// Last returns the final lines of a log with bounded memory. Follow streams
// appended lines, waking on fsnotify events for the log directory, and
// restarts from the beginning when the current-log link moves to a new run.
package logs
