package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tracespool/internal/ingest"
	"tracespool/internal/logging"
	"tracespool/internal/queue"
	"tracespool/internal/testsupport"
	"tracespool/internal/transcript"
)

const validDocument = `{
  "session": {"id": "sess-1", "name": "demo", "path": "/work/demo"},
  "turns": [
    {"unitId": "u1", "at": "2026-01-02T03:04:05Z", "request": {"prompt": "a"}, "response": {"text": "A"}},
    {"unitId": "u2", "at": "2026-01-02T03:04:06.5Z", "request": {"prompt": "b"}},
    {"unitId": "u3", "at": "2026-01-02T03:04:07Z", "request": {"prompt": "c"}, "response": {"text": "C"}}
  ]
}`

func newQueue(t *testing.T) *queue.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithInbox())
	sp := testsupport.MustOpenSpool(t, cfg)
	opts := queue.OptionsFromConfig(cfg)
	opts.Logger = logging.NewNop()
	return queue.NewManager(sp, nil, opts)
}

func TestParseDocumentRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"session":`},
		{"missing session", `{"turns": []}`},
		{"empty session id", `{"session": {"id": ""}, "turns": []}`},
		{"turns not array", `{"session": {"id": "s"}, "turns": {}}`},
		{"turn without unit", `{"session": {"id": "s"}, "turns": [{"at": "2026-01-02T03:04:05Z", "request": {}}]}`},
		{"turn without request", `{"session": {"id": "s"}, "turns": [{"unitId": "u", "at": "2026-01-02T03:04:05Z"}]}`},
		{"bad timestamp", `{"session": {"id": "s"}, "turns": [{"unitId": "u", "at": "yesterday", "request": {}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingest.ParseDocument([]byte(tt.data))
			if !errors.Is(err, ingest.ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestIngestEnqueuesAnsweredTurns(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	g := ingest.NewIngester(q, logging.NewNop())

	result, err := g.Ingest(ctx, []byte(validDocument))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.Accepted != 2 || result.Unanswered != 1 || result.Duplicates != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	wantID := transcript.DeriveKey("sess-1", "u1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if result.ItemIDs[0] != wantID {
		t.Fatalf("first item id = %s, want %s", result.ItemIDs[0], wantID)
	}
	item, found, err := q.Get(ctx, wantID)
	if err != nil || !found {
		t.Fatalf("expected stored item, found=%v err=%v", found, err)
	}
	if item.Status != queue.StatusPending || item.SessionName != "demo" || !strings.Contains(string(item.Response), `"A"`) {
		t.Fatalf("unexpected stored item %+v", item)
	}

	again, err := g.Ingest(ctx, []byte(validDocument))
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if again.Accepted != 0 || again.Duplicates != 2 {
		t.Fatalf("expected duplicates on re-ingest, got %+v", again)
	}
}

func TestIngestRejectsBadTurnTimestamp(t *testing.T) {
	q := newQueue(t)
	g := ingest.NewIngester(q, logging.NewNop())

	doc := `{"session": {"id": "s"}, "turns": [
    {"unitId": "u1", "at": "2026-01-02T03:04:05Z", "request": {}, "response": {}},
    {"unitId": "u2", "at": "yesterday", "request": {}, "response": {}}
  ]}`
	result, err := g.Ingest(context.Background(), []byte(doc))
	if !errors.Is(err, ingest.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if errors.Is(err, transcript.ErrIncompleteTranscript) {
		t.Fatalf("expected timestamp error, not a missing-field error: %v", err)
	}
	if !strings.Contains(err.Error(), "u2") || !strings.Contains(err.Error(), "yesterday") {
		t.Fatalf("expected error to name the turn and value, got %v", err)
	}
	if result.Accepted != 0 {
		t.Fatalf("expected nothing enqueued, got %+v", result)
	}
}

type refusingQueue struct{}

func (refusingQueue) Enqueue(context.Context, queue.Item) bool { return false }
func (refusingQueue) Seen(string) bool                         { return false }

func TestIngestReportsUnstoredItems(t *testing.T) {
	g := ingest.NewIngester(refusingQueue{}, logging.NewNop())
	result, err := g.Ingest(context.Background(), []byte(validDocument))
	if !errors.Is(err, ingest.ErrNotStored) {
		t.Fatalf("expected ErrNotStored, got %v", err)
	}
	if result.NotStored != 2 {
		t.Fatalf("expected 2 unstored items, got %+v", result)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestScanMovesProcessedAndRejectedFiles(t *testing.T) {
	ctx := context.Background()
	inbox := filepath.Join(t.TempDir(), "inbox")
	w, err := ingest.NewWatcher(inbox, ingest.NewIngester(newQueue(t), logging.NewNop()), ingest.WatcherOptions{Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(inbox, "a.json"), []byte(validDocument))
	testsupport.WriteFile(t, filepath.Join(inbox, "b.json"), []byte(`{"turns": 1}`))
	testsupport.WriteFile(t, filepath.Join(inbox, "notes.txt"), []byte("ignored"))

	if handled := w.Scan(ctx); handled != 2 {
		t.Fatalf("expected 2 handled files, got %d", handled)
	}
	if got := listDir(t, filepath.Join(inbox, "processed")); len(got) != 1 || got[0] != "a.json" {
		t.Fatalf("processed = %v", got)
	}
	if got := listDir(t, filepath.Join(inbox, "rejected")); len(got) != 1 || got[0] != "b.json" {
		t.Fatalf("rejected = %v", got)
	}
	if got := listDir(t, inbox); len(got) != 1 || got[0] != "notes.txt" {
		t.Fatalf("inbox left with %v", got)
	}

	// A resubmitted document lands next to the earlier copy.
	testsupport.WriteFile(t, filepath.Join(inbox, "a.json"), []byte(validDocument))
	w.Scan(ctx)
	if got := listDir(t, filepath.Join(inbox, "processed")); len(got) != 2 {
		t.Fatalf("expected two processed files, got %v", got)
	}
}

func TestScanKeepsFilesWhoseItemsWereNotStored(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	w, err := ingest.NewWatcher(inbox, ingest.NewIngester(refusingQueue{}, logging.NewNop()), ingest.WatcherOptions{Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(inbox, "a.json"), []byte(validDocument))
	if handled := w.Scan(context.Background()); handled != 0 {
		t.Fatalf("expected file to stay, handled=%d", handled)
	}
	if got := listDir(t, inbox); len(got) != 1 {
		t.Fatalf("expected file in inbox, got %v", got)
	}
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingQueue) Enqueue(_ context.Context, item queue.Item) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, item.ID)
	return true
}

func (r *recordingQueue) Seen(string) bool { return false }

func (r *recordingQueue) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestWatcherPicksUpNewFiles(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	rq := &recordingQueue{}
	w, err := ingest.NewWatcher(inbox, ingest.NewIngester(rq, logging.NewNop()), ingest.WatcherOptions{
		Settle: 10 * time.Millisecond,
		Rescan: time.Hour,
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	if err := w.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected double start error, got %v", err)
	}

	testsupport.WriteFile(t, filepath.Join(inbox, "live.json"), []byte(validDocument))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(inbox, "processed", "live.json")); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(inbox, "processed", "live.json")); err != nil {
		t.Fatalf("file was not processed: %v", err)
	}
	if rq.count() != 2 {
		t.Fatalf("expected 2 enqueued items, got %d", rq.count())
	}
}
