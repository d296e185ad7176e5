package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// InterruptedReason is recorded on items recovered from an interrupted flush.
const InterruptedReason = "interrupted before delivery completed"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusFailed,
	StatusDead,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Item is one unit of durable export work.
//
// ID is the idempotency key. Request and Response are opaque to the queue and
// are forwarded to the sink unchanged.
type Item struct {
	ID            string
	SessionID     string
	SessionName   string
	SessionPath   string
	Request       json.RawMessage
	Response      json.RawMessage
	Status        Status
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	RetryCount    int
	Error         string
}

// Clone returns a deep copy so callers can hand items to a sink without
// sharing payload buffers with the manager.
func (i Item) Clone() Item {
	out := i
	if i.Request != nil {
		out.Request = append(json.RawMessage(nil), i.Request...)
	}
	if i.Response != nil {
		out.Response = append(json.RawMessage(nil), i.Response...)
	}
	if i.LastAttemptAt != nil {
		at := *i.LastAttemptAt
		out.LastAttemptAt = &at
	}
	return out
}

// IsTerminal reports whether the item will never be attempted again.
func (i Item) IsTerminal() bool {
	return i.Status == StatusDead
}

// Stats summarizes the spool contents. It is recomputed on demand.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Dead       int
	TotalBytes int64
	// OldestCreatedAt is zero when the spool is empty.
	OldestCreatedAt time.Time
	// DiskFreeBytes is the free space on the spool filesystem, 0 when unknown.
	DiskFreeBytes uint64
}

// Count returns the number of items in the given status.
func (s Stats) Count(status Status) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusProcessing:
		return s.Processing
	case StatusFailed:
		return s.Failed
	case StatusDead:
		return s.Dead
	default:
		return 0
	}
}

// Add folds one item into the running totals.
func (s *Stats) Add(item Item, size int64) {
	s.Total++
	s.TotalBytes += size
	switch item.Status {
	case StatusPending:
		s.Pending++
	case StatusProcessing:
		s.Processing++
	case StatusFailed:
		s.Failed++
	case StatusDead:
		s.Dead++
	}
	if !item.CreatedAt.IsZero() && (s.OldestCreatedAt.IsZero() || item.CreatedAt.Before(s.OldestCreatedAt)) {
		s.OldestCreatedAt = item.CreatedAt
	}
}
