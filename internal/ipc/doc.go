// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and the
// conversion from queue models to wire representations. Item payloads only
// travel on QueueDescribe; listings carry sizes instead.
package ipc
