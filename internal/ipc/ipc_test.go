package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/daemon"
	"tracespool/internal/ipc"
	"tracespool/internal/logging"
	"tracespool/internal/testsupport"
)

const document = `{
  "session": {"id": "sess-ipc", "name": "ipc session"},
  "turns": [
    {"unitId": "u1", "at": "2026-01-02T03:04:05Z", "request": {"q": 1}, "response": {"a": 1}},
    {"unitId": "u2", "at": "2026-01-02T03:04:06Z", "request": {"q": 2}, "response": {"a": 2}}
  ]
}`

func startServer(t *testing.T, shutdown func()) (*ipc.Client, *daemon.Daemon) {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithQueue(func(q *config.Queue) {
		q.FlushIntervalSeconds = 3600
	}))
	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger, daemon.Options{LogPath: filepath.Join(cfg.Paths.LogDir, "ipc-test.log")})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Unix socket paths are length-limited; keep them short.
	sockDir, err := os.MkdirTemp("", "tsipc")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })
	socket := filepath.Join(sockDir, "d.sock")

	srv, err := ipc.NewServer(ctx, socket, d, logger, shutdown)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, d
}

func TestIPCServerClient(t *testing.T) {
	client, _ := startServer(t, nil)

	enq, err := client.Enqueue([]byte(document))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if enq.SessionID != "sess-ipc" || enq.Accepted != 2 || len(enq.ItemIDs) != 2 {
		t.Fatalf("unexpected enqueue response: %+v", enq)
	}

	again, err := client.Enqueue([]byte(document))
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if again.Accepted != 0 || again.Duplicates != 2 {
		t.Fatalf("expected duplicates on re-enqueue, got %+v", again)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon running")
	}
	if status.Stats.Pending != 2 || status.Stats.Total != 2 {
		t.Fatalf("unexpected stats: %+v", status.Stats)
	}
	if status.Sink != config.DeliveryNone {
		t.Fatalf("expected none sink, got %q", status.Sink)
	}
	if status.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}

	list, err := client.QueueList([]string{"pending"})
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(list.Items))
	}
	if list.Items[0].Request != nil {
		t.Fatal("listing should not carry payloads")
	}
	if list.Items[0].RequestBytes == 0 {
		t.Fatal("expected request size in listing")
	}

	desc, err := client.QueueDescribe(enq.ItemIDs[0])
	if err != nil {
		t.Fatalf("QueueDescribe: %v", err)
	}
	if desc.Item.ID != enq.ItemIDs[0] || len(desc.Item.Request) == 0 || len(desc.Item.Response) == 0 {
		t.Fatalf("unexpected describe response: %+v", desc.Item)
	}

	if _, err := client.QueueDescribe("missing"); err == nil {
		t.Fatal("expected error for unknown item")
	}
	if _, err := client.QueueList([]string{"bogus"}); err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
	if _, err := client.QueuePurge([]string{"processing"}); err == nil {
		t.Fatal("expected processing purge to be refused")
	}

	flush, err := client.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flush.Delivered != 2 || flush.Result.Delivered != 2 {
		t.Fatalf("unexpected flush response: %+v", flush)
	}

	after, err := client.QueueList(nil)
	if err != nil {
		t.Fatalf("QueueList after flush: %v", err)
	}
	if len(after.Items) != 0 {
		t.Fatalf("expected empty queue after flush, got %d", len(after.Items))
	}

	cleanup, err := client.QueueCleanup()
	if err != nil {
		t.Fatalf("QueueCleanup: %v", err)
	}
	if cleanup.Removed != 0 {
		t.Fatalf("expected nothing to reclaim, got %d", cleanup.Removed)
	}

	note, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if note.Sent {
		t.Fatal("expected notification skipped without topic")
	}

	if _, err := client.Stop(); err == nil {
		t.Fatal("expected stop to be refused without shutdown hook")
	}
}

func TestIPCEnqueueRejectsInvalidDocument(t *testing.T) {
	client, _ := startServer(t, nil)

	if _, err := client.Enqueue([]byte(`{"session": {"id": ""}, "turns": []}`)); err == nil {
		t.Fatal("expected invalid document error")
	}
}

func TestIPCStopInvokesShutdown(t *testing.T) {
	called := make(chan struct{})
	client, _ := startServer(t, func() { close(called) })

	resp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !resp.Stopped {
		t.Fatal("expected stopped response")
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hook not invoked")
	}
	if _, err := client.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
