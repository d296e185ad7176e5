package transcript

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type turn struct {
	unitID   string
	at       time.Time
	seq      int
	request  json.RawMessage
	response json.RawMessage
	answered bool
}

type session struct {
	name  string
	path  string
	turns map[string]*turn
	next  int
}

// Collector holds in-flight turns per session until the session completes.
// Session state is dropped on Complete or Discard. It is safe for concurrent
// use.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{sessions: make(map[string]*session)}
}

func (c *Collector) session(id string) *session {
	s, ok := c.sessions[id]
	if !ok {
		s = &session{turns: make(map[string]*turn)}
		c.sessions[id] = s
	}
	return s
}

// Begin records session routing metadata. Calling it is optional; turns for
// an unknown session create it implicitly.
func (c *Collector) Begin(sessionID, name, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session(sessionID)
	s.name = name
	s.path = path
}

// RecordRequest stores the request half of a unit. A repeated request for
// the same unit replaces the payload but keeps the first timestamp so the
// derived key stays stable.
func (c *Collector) RecordRequest(sessionID, unitID string, at time.Time, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session(sessionID)
	t, ok := s.turns[unitID]
	if !ok {
		t = &turn{unitID: unitID, at: at, seq: s.next}
		s.next++
		s.turns[unitID] = t
	}
	t.request = append(json.RawMessage(nil), payload...)
}

// RecordResponse stores the response half of a unit and marks it complete.
// A response without a prior request is kept with a zero timestamp and is
// rejected at assembly.
func (c *Collector) RecordResponse(sessionID, unitID string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session(sessionID)
	t, ok := s.turns[unitID]
	if !ok {
		t = &turn{unitID: unitID, seq: s.next}
		s.next++
		s.turns[unitID] = t
	}
	t.response = append(json.RawMessage(nil), payload...)
	t.answered = true
}

// Complete releases the answered turns of a session in the order their
// units were first seen and discards all session state. The second result
// counts turns that never received a response.
func (c *Collector) Complete(sessionID string) ([]Transcript, int) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return nil, 0
	}

	turns := make([]*turn, 0, len(s.turns))
	for _, t := range s.turns {
		turns = append(turns, t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].seq < turns[j].seq })

	out := make([]Transcript, 0, len(turns))
	unanswered := 0
	for _, t := range turns {
		if !t.answered {
			unanswered++
			continue
		}
		out = append(out, Transcript{
			SessionID:   sessionID,
			SessionName: s.name,
			SessionPath: s.path,
			UnitID:      t.unitID,
			At:          t.at,
			Request:     t.request,
			Response:    t.response,
		})
	}
	return out, unanswered
}

// Discard drops a session without producing transcripts.
func (c *Collector) Discard(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Sessions returns the number of sessions currently held.
func (c *Collector) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
