package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/daemon"
	"tracespool/internal/logging"
	"tracespool/internal/queue"
	"tracespool/internal/testsupport"
)

const document = `{
  "session": {"id": "sess-1"},
  "turns": [
    {"unitId": "u1", "at": "2026-01-02T03:04:05Z", "request": {"q": 1}, "response": {"a": 1}},
    {"unitId": "u2", "at": "2026-01-02T03:04:06Z", "request": {"q": 2}, "response": {"a": 2}}
  ]
}`

type recordingSink struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (s *recordingSink) Deliver(_ context.Context, item queue.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.ids = append(s.ids, item.ID)
	return nil
}

func (s *recordingSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type recordingNotifier struct {
	mu   sync.Mutex
	dead []string
}

func (n *recordingNotifier) NotifyDeadLetter(_ context.Context, item queue.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dead = append(n.dead, item.ID)
	return nil
}

func (n *recordingNotifier) NotifyFlushFailing(context.Context, error, int) error { return nil }
func (n *recordingNotifier) TestNotification(context.Context) error            { return nil }

func newDaemon(t *testing.T, cfg *config.Config, opts daemon.Options) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(cfg, logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func slowFlushConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	opts = append(opts, testsupport.WithQueue(func(q *config.Queue) {
		q.FlushIntervalSeconds = 3600
	}))
	return testsupport.NewConfig(t, opts...)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := slowFlushConfig(t)
	d := newDaemon(t, cfg, daemon.Options{Sink: &recordingSink{}})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.LockPath != cfg.LockPath() || status.StartedAt.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	if _, err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := slowFlushConfig(t)
	first := newDaemon(t, cfg, daemon.Options{Sink: &recordingSink{}})
	second := newDaemon(t, cfg, daemon.Options{Sink: &recordingSink{}})
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if _, err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
}

func TestDaemonRecoversProcessingItemsOnStart(t *testing.T) {
	cfg := slowFlushConfig(t)
	sp := testsupport.MustOpenSpool(t, cfg)
	attempted := time.Now().Add(-time.Minute)
	stale := queue.Item{
		ID:            "stale",
		SessionID:     "s",
		Request:       json.RawMessage(`{}`),
		Status:        queue.StatusProcessing,
		CreatedAt:     time.Now().Add(-time.Hour),
		LastAttemptAt: &attempted,
		RetryCount:    1,
	}
	if err := sp.Write(context.Background(), stale); err != nil {
		t.Fatalf("seed spool: %v", err)
	}

	d := newDaemon(t, cfg, daemon.Options{Sink: &recordingSink{fail: true}})
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	item, found, err := d.GetQueueItem(ctx, "stale")
	if err != nil || !found {
		t.Fatalf("expected item, found=%v err=%v", found, err)
	}
	if item.Status != queue.StatusFailed || item.Error != queue.InterruptedReason || item.RetryCount != 1 {
		t.Fatalf("unexpected recovered item %+v", item)
	}
}

func TestDaemonStopRunsFinalFlush(t *testing.T) {
	cfg := slowFlushConfig(t)
	sink := &recordingSink{}
	d := newDaemon(t, cfg, daemon.Options{Sink: sink})
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := d.Ingest(ctx, []byte(document))
	if err != nil || result.Accepted != 2 {
		t.Fatalf("ingest: %+v %v", result, err)
	}
	if got := d.Status(ctx).Stats.Pending; got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}

	delivered, err := d.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if delivered != 2 || sink.delivered() != 2 {
		t.Fatalf("expected final flush to deliver 2, got %d (sink saw %d)", delivered, sink.delivered())
	}
}

func TestDaemonNotifiesDeadLetters(t *testing.T) {
	cfg := slowFlushConfig(t, testsupport.WithQueue(func(q *config.Queue) { q.MaxRetries = 1 }))
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, daemon.Options{Sink: &recordingSink{fail: true}, Notifier: notifier})
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := d.Ingest(ctx, []byte(document)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, err := d.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.dead) != 2 {
		t.Fatalf("expected 2 dead-letter notifications, got %v", notifier.dead)
	}
	dead, err := d.ListQueue(ctx, []queue.Status{queue.StatusDead})
	if err != nil || len(dead) != 2 {
		t.Fatalf("expected 2 dead items, got %d (%v)", len(dead), err)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d := newDaemon(t, slowFlushConfig(t), daemon.Options{Sink: &recordingSink{}})
	sent, message, err := d.TestNotification(context.Background())
	if sent || err != nil || !strings.Contains(message, "not configured") {
		t.Fatalf("unexpected result sent=%v message=%q err=%v", sent, message, err)
	}
}
