package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tracespool/internal/logging"
	"tracespool/internal/queue"
	"tracespool/internal/transcript"
)

// ErrNotStored reports that at least one item of a valid document could not
// be written to the spool. The document can be submitted again.
var ErrNotStored = errors.New("items not stored")

// Enqueuer is the subset of the queue manager ingest needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) bool
	Seen(id string) bool
}

// Result summarizes one ingested document.
type Result struct {
	SessionID  string   `json:"session_id"`
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Unanswered int      `json:"unanswered"`
	NotStored  int      `json:"not_stored"`
	ItemIDs    []string `json:"item_ids,omitempty"`
}

// Ingester assembles documents into items and enqueues them.
type Ingester struct {
	queue Enqueuer
	// mu keeps documents for the same session from interleaving in the
	// collector.
	mu        sync.Mutex
	collector *transcript.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngester returns an ingester feeding q.
func NewIngester(q Enqueuer, logger *slog.Logger) *Ingester {
	return &Ingester{
		queue:     q,
		collector: transcript.NewCollector(),
		logger:    logging.NewComponentLogger(logger, "ingest"),
		now:       time.Now,
	}
}

// Ingest validates data and enqueues every answered turn. Invalid documents
// return ErrInvalidDocument; items that could not be stored return
// ErrNotStored alongside a populated Result.
func (g *Ingester) Ingest(ctx context.Context, data []byte) (Result, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return Result{}, err
	}
	sessionID := doc.Session.ID
	result := Result{SessionID: sessionID}

	g.mu.Lock()
	g.collector.Begin(sessionID, doc.Session.Name, doc.Session.Path)
	for _, turn := range doc.Turns {
		g.collector.RecordRequest(sessionID, turn.UnitID, turn.Time(), turn.Request)
		if len(turn.Response) > 0 {
			g.collector.RecordResponse(sessionID, turn.UnitID, turn.Response)
		}
	}
	transcripts, unanswered := g.collector.Complete(sessionID)
	g.mu.Unlock()
	result.Unanswered = unanswered

	var errs []error
	for _, t := range transcripts {
		item, err := transcript.Assemble(t, transcript.Options{Now: g.now})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidDocument, err))
			continue
		}
		result.ItemIDs = append(result.ItemIDs, item.ID)
		switch {
		case g.queue.Enqueue(ctx, item):
			result.Accepted++
		case g.queue.Seen(item.ID):
			result.Duplicates++
		default:
			result.NotStored++
		}
	}
	if result.NotStored > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d", ErrNotStored, result.NotStored, len(transcripts)))
	}

	if unanswered > 0 {
		g.logger.Info("turns without a response were not exported",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("unanswered", unanswered),
		)
	}
	g.logger.Debug("document ingested",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("accepted", result.Accepted),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("not_stored", result.NotStored),
	)
	return result, errors.Join(errs...)
}
