package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tracespool/internal/queue"
)

// ErrIncompleteTranscript is returned for transcripts missing the fields the
// idempotency key is derived from.
var ErrIncompleteTranscript = errors.New("incomplete transcript")

// Transcript is one completed unit of captured activity.
type Transcript struct {
	SessionID   string
	SessionName string
	SessionPath string
	UnitID      string
	// At is the source-event time of the unit, never the enqueue time.
	At       time.Time
	Request  json.RawMessage
	Response json.RawMessage
}

// Options controls assembly.
type Options struct {
	Now func() time.Time
}

// Assemble converts a transcript into a pending queue item.
func Assemble(t Transcript, opts Options) (queue.Item, error) {
	if strings.TrimSpace(t.SessionID) == "" {
		return queue.Item{}, fmt.Errorf("%w: session id is empty", ErrIncompleteTranscript)
	}
	if strings.TrimSpace(t.UnitID) == "" {
		return queue.Item{}, fmt.Errorf("%w: unit id is empty", ErrIncompleteTranscript)
	}
	if t.At.IsZero() {
		return queue.Item{}, fmt.Errorf("%w: unit %s has no timestamp", ErrIncompleteTranscript, t.UnitID)
	}
	if len(t.Request) > 0 && !json.Valid(t.Request) {
		return queue.Item{}, fmt.Errorf("%w: unit %s request is not valid JSON", ErrIncompleteTranscript, t.UnitID)
	}
	if len(t.Response) > 0 && !json.Valid(t.Response) {
		return queue.Item{}, fmt.Errorf("%w: unit %s response is not valid JSON", ErrIncompleteTranscript, t.UnitID)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	item := queue.Item{
		ID:          DeriveKey(t.SessionID, t.UnitID, t.At),
		SessionID:   t.SessionID,
		SessionName: t.SessionName,
		SessionPath: t.SessionPath,
		Request:     t.Request,
		Response:    t.Response,
		Status:      queue.StatusPending,
		CreatedAt:   now(),
	}
	return item.Clone(), nil
}
