// Package delivery implements the sinks the queue manager hands items to.
//
// The HTTP sink POSTs a JSON envelope per item with an Idempotency-Key header
// so the receiver can drop repeats of an at-least-once delivery. The Redis
// sink publishes each item to a stream through watermill. The noop sink
// accepts everything and exists for dry runs.
package delivery
