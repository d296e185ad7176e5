package ipc

import (
	"encoding/json"
	"time"

	"tracespool/internal/daemon"
	"tracespool/internal/queue"
)

// QueueItem is the wire form of a spooled item.
type QueueItem struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	SessionName   string          `json:"session_name,omitempty"`
	SessionPath   string          `json:"session_path,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Error         string          `json:"error,omitempty"`
	RequestBytes  int             `json:"request_bytes"`
	ResponseBytes int             `json:"response_bytes"`
	Request       json.RawMessage `json:"request,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
}

// FromQueueItem converts an item, optionally including its payloads.
func FromQueueItem(item queue.Item, withPayload bool) QueueItem {
	out := QueueItem{
		ID:            item.ID,
		SessionID:     item.SessionID,
		SessionName:   item.SessionName,
		SessionPath:   item.SessionPath,
		Status:        string(item.Status),
		CreatedAt:     item.CreatedAt,
		LastAttemptAt: item.LastAttemptAt,
		RetryCount:    item.RetryCount,
		Error:         item.Error,
		RequestBytes:  len(item.Request),
		ResponseBytes: len(item.Response),
	}
	if withPayload {
		out.Request = item.Request
		out.Response = item.Response
	}
	return out
}

// QueueStats mirrors queue.Stats on the wire.
type QueueStats struct {
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Processing      int        `json:"processing"`
	Failed          int        `json:"failed"`
	Dead            int        `json:"dead"`
	TotalBytes      int64      `json:"total_bytes"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
	DiskFreeBytes   uint64     `json:"disk_free_bytes"`
}

// FromStats converts queue statistics.
func FromStats(stats queue.Stats) QueueStats {
	out := QueueStats{
		Total:         stats.Total,
		Pending:       stats.Pending,
		Processing:    stats.Processing,
		Failed:        stats.Failed,
		Dead:          stats.Dead,
		TotalBytes:    stats.TotalBytes,
		DiskFreeBytes: stats.DiskFreeBytes,
	}
	if !stats.OldestCreatedAt.IsZero() {
		oldest := stats.OldestCreatedAt
		out.OldestCreatedAt = &oldest
	}
	return out
}

// FlushSummary describes one flush.
type FlushSummary struct {
	At        *time.Time `json:"at,omitempty"`
	Attempted int        `json:"attempted"`
	Delivered int        `json:"delivered"`
	Failed    int        `json:"failed"`
	Dead      int        `json:"dead"`
	Reclaimed int        `json:"reclaimed"`
	Error     string     `json:"error,omitempty"`
}

// FromFlushResult converts a flush result.
func FromFlushResult(result queue.FlushResult) FlushSummary {
	out := FlushSummary{
		Attempted: result.Attempted,
		Delivered: result.Delivered,
		Failed:    result.Failed,
		Dead:      result.Dead,
		Reclaimed: result.Reclaimed,
		Error:     result.Err,
	}
	if !result.At.IsZero() {
		at := result.At
		out.At = &at
	}
	return out
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon and spool status.
type StatusResponse struct {
	Running              bool          `json:"running"`
	PID                  int           `json:"pid"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	SpoolLocation        string        `json:"spool_location"`
	LockPath             string        `json:"lock_path"`
	LogPath              string        `json:"log_path"`
	InboxDir             string        `json:"inbox_dir,omitempty"`
	Sink                 string        `json:"sink"`
	FlushIntervalSeconds int           `json:"flush_interval_seconds"`
	TrackedKeys          int           `json:"tracked_keys"`
	Stats                QueueStats    `json:"stats"`
	StatsError           string        `json:"stats_error,omitempty"`
	LastFlush            FlushSummary  `json:"last_flush"`
	Checks               []CheckResult `json:"checks,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func fromDaemonStatus(status daemon.Status) StatusResponse {
	resp := StatusResponse{
		Running:              status.Running,
		PID:                  status.PID,
		SpoolLocation:        status.SpoolLocation,
		LockPath:             status.LockPath,
		LogPath:              status.LogPath,
		InboxDir:             status.InboxDir,
		Sink:                 status.Sink,
		FlushIntervalSeconds: int(status.FlushInterval / time.Second),
		TrackedKeys:          status.TrackedKeys,
		Stats:                FromStats(status.Stats),
		StatsError:           status.StatsError,
		LastFlush:            FromFlushResult(status.LastFlush),
	}
	if !status.StartedAt.IsZero() {
		started := status.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

// FlushRequest triggers an immediate flush.
type FlushRequest struct{}

// FlushResponse reports the flush outcome.
type FlushResponse struct {
	Delivered int          `json:"delivered"`
	Result    FlushSummary `json:"result"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueDescribeRequest fetches a single queue item by id.
type QueueDescribeRequest struct {
	ID string `json:"id"`
}

// QueueDescribeResponse contains a single queue entry with payloads.
type QueueDescribeResponse struct {
	Item QueueItem `json:"item"`
}

// QueuePurgeRequest removes items in the given statuses.
type QueuePurgeRequest struct {
	Statuses []string `json:"statuses"`
}

// QueuePurgeResponse reports number of removed entries.
type QueuePurgeResponse struct {
	Removed int `json:"removed"`
}

// QueueCleanupRequest runs spool reclamation.
type QueueCleanupRequest struct{}

// QueueCleanupResponse reports number of reclaimed entries.
type QueueCleanupResponse struct {
	Removed int `json:"removed"`
}

// EnqueueRequest submits a transcript document.
type EnqueueRequest struct {
	Document json.RawMessage `json:"document"`
}

// EnqueueResponse reports what the document produced.
type EnqueueResponse struct {
	SessionID  string   `json:"session_id"`
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Unanswered int      `json:"unanswered"`
	NotStored  int      `json:"not_stored"`
	ItemIDs    []string `json:"item_ids,omitempty"`
}

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse indicates the shutdown was accepted.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
