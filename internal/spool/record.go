package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tracespool/internal/queue"
)

// record is the persisted shape of a queue item. Timestamps are epoch
// milliseconds.
type record struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	SessionName   string          `json:"sessionName,omitempty"`
	SessionPath   string          `json:"sessionPath,omitempty"`
	Request       json.RawMessage `json:"request,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     int64           `json:"createdAt"`
	LastAttemptAt *int64          `json:"lastAttemptAt"`
	RetryCount    int             `json:"retryCount"`
	Error         *string         `json:"error"`
}

var errCorruptRecord = errors.New("corrupt spool record")

func encodeItem(item queue.Item) ([]byte, error) {
	rec := record{
		ID:          item.ID,
		SessionID:   item.SessionID,
		SessionName: item.SessionName,
		SessionPath: item.SessionPath,
		Request:     item.Request,
		Response:    item.Response,
		Status:      string(item.Status),
		CreatedAt:   item.CreatedAt.UnixMilli(),
		RetryCount:  item.RetryCount,
	}
	if item.LastAttemptAt != nil {
		ms := item.LastAttemptAt.UnixMilli()
		rec.LastAttemptAt = &ms
	}
	if item.Error != "" {
		msg := item.Error
		rec.Error = &msg
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	return payload, nil
}

func decodeItem(payload []byte) (queue.Item, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return queue.Item{}, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	if rec.ID == "" {
		return queue.Item{}, fmt.Errorf("%w: missing id", errCorruptRecord)
	}
	status, ok := queue.ParseStatus(rec.Status)
	if !ok {
		return queue.Item{}, fmt.Errorf("%w: unknown status %q", errCorruptRecord, rec.Status)
	}
	if rec.RetryCount < 0 {
		return queue.Item{}, fmt.Errorf("%w: negative retry count", errCorruptRecord)
	}
	item := queue.Item{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		SessionName: rec.SessionName,
		SessionPath: rec.SessionPath,
		Request:     rec.Request,
		Response:    rec.Response,
		Status:      status,
		CreatedAt:   time.UnixMilli(rec.CreatedAt),
		RetryCount:  rec.RetryCount,
	}
	if rec.LastAttemptAt != nil {
		at := time.UnixMilli(*rec.LastAttemptAt)
		item.LastAttemptAt = &at
	}
	if rec.Error != nil {
		item.Error = *rec.Error
	}
	return item, nil
}

func statusSet(statuses []queue.Status) map[queue.Status]struct{} {
	set := make(map[queue.Status]struct{}, len(statuses))
	for _, status := range statuses {
		set[status] = struct{}{}
	}
	return set
}
