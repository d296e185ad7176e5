package delivery

import (
	"encoding/json"

	"tracespool/internal/queue"
	"tracespool/internal/transcript"
)

// Envelope is the wire form of one exported item.
type Envelope struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	SessionToken string          `json:"sessionToken"`
	SessionName  string          `json:"sessionName,omitempty"`
	SessionPath  string          `json:"sessionPath,omitempty"`
	CreatedAt    int64           `json:"createdAt"`
	Attempt      int             `json:"attempt"`
	Request      json.RawMessage `json:"request,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
}

// NewEnvelope builds the envelope for item. SessionToken is a stable UUID
// derived from the session id so receivers can correlate without seeing the
// raw identifier.
func NewEnvelope(item queue.Item) Envelope {
	return Envelope{
		ID:           item.ID,
		SessionID:    item.SessionID,
		SessionToken: transcript.DeriveUUID(item.SessionID),
		SessionName:  item.SessionName,
		SessionPath:  item.SessionPath,
		CreatedAt:    item.CreatedAt.UnixMilli(),
		Attempt:      item.RetryCount + 1,
		Request:      item.Request,
		Response:     item.Response,
	}
}
