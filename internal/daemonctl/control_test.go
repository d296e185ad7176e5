package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tracespool/internal/daemonctl"
	"tracespool/internal/queue"
	"tracespool/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		want    int
	}{
		{name: "missing", content: nil, want: 0},
		{name: "valid", content: ptr("4242\n"), want: 4242},
		{name: "garbage", content: ptr("not-a-pid"), want: 0},
		{name: "negative", content: ptr("-3"), want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".pid")
			if tc.content != nil {
				if err := os.WriteFile(path, []byte(*tc.content), 0o644); err != nil {
					t.Fatalf("write pid: %v", err)
				}
			}
			got, err := daemonctl.ReadPID(path)
			if err != nil {
				t.Fatalf("ReadPID: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ReadPID = %d, want %d", got, tc.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "tracespool.pid")
	if _, err := daemonctl.ForceKillProcess(pidPath, os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestProcessInfoWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	alive, pid, err := daemonctl.ProcessInfo(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d", alive, pid)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.StopAndTerminate(cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	mgr, closeFn, err := daemonctl.OpenOffline(cfg)
	if err != nil {
		t.Fatalf("OpenOffline: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		item := queue.Item{
			ID:        id,
			SessionID: "sess",
			CreatedAt: time.Now().UTC(),
			Request:   []byte(`{"q":1}`),
			Response:  []byte(`{"a":1}`),
		}
		if !mgr.Enqueue(ctx, item) {
			t.Fatalf("enqueue %s failed", id)
		}
	}
	if delivered, err := mgr.Flush(ctx); err != nil || delivered != 0 {
		t.Fatalf("offline flush should be a no-op, got %d, %v", delivered, err)
	}
	closeFn()

	status, err := daemonctl.BuildStatusSnapshot(ctx, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("expected offline status")
	}
	if status.Stats.Pending != 2 {
		t.Fatalf("expected 2 pending items, got %+v", status.Stats)
	}
	if status.SpoolLocation != cfg.SpoolLocation() {
		t.Fatalf("unexpected spool location %q", status.SpoolLocation)
	}
	if len(status.Checks) == 0 {
		t.Fatal("expected preflight checks in snapshot")
	}
}
