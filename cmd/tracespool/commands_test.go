package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tracespool/internal/ipc"
	"tracespool/internal/transcript"
)

func TestOnlineQueueWorkflow(t *testing.T) {
	env := newCLITestEnv(t)
	env.startDaemon(t)
	docPath := env.writeDocument(t, sampleDocument)

	out, err := runCLI(t, env.configPath, "enqueue", docPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Session sess-cli: 2 accepted, 0 duplicate, 1 unanswered")

	out, err = runCLI(t, env.configPath, "enqueue", docPath)
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	requireContains(t, out, "0 accepted, 2 duplicate")

	out, err = runCLI(t, env.configPath, "queue", "list", "--json")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var items []ipc.QueueItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	wantID := transcript.DeriveKey("sess-cli", "u1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	out, err = runCLI(t, env.configPath, "queue", "show", wantID)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "ID:         "+wantID)
	requireContains(t, out, "Pending")
	requireContains(t, out, `"q": 1`)

	if _, err := runCLI(t, env.configPath, "queue", "show", "missing"); err == nil {
		t.Fatal("expected error for unknown item")
	}

	out, err = runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "Pending")

	out, err = runCLI(t, env.configPath, "flush")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	requireContains(t, out, "2/2 delivered")

	out, err = runCLI(t, env.configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list after flush: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestOnlinePurgeAndStats(t *testing.T) {
	env := newCLITestEnv(t)
	env.startDaemon(t)
	docPath := env.writeDocument(t, sampleDocument)

	if _, err := runCLI(t, env.configPath, "enqueue", docPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, err := runCLI(t, env.configPath, "queue", "stats", "--json")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	var stats ipc.QueueStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Pending != 2 || stats.TotalBytes == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, err := runCLI(t, env.configPath, "queue", "purge"); err == nil {
		t.Fatal("expected purge without statuses to fail")
	}
	if _, err := runCLI(t, env.configPath, "queue", "purge", "--status", "processing"); err == nil {
		t.Fatal("expected processing purge to be refused")
	}

	out, err = runCLI(t, env.configPath, "queue", "purge", "--status", "pending")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Purged 2 items")

	// Purged keys are forgotten, so the same document is accepted again.
	out, err = runCLI(t, env.configPath, "enqueue", docPath)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	requireContains(t, out, "2 accepted")
}

func TestOfflineCommandsUseSpoolDirectly(t *testing.T) {
	env := newCLITestEnv(t)
	docPath := env.writeDocument(t, sampleDocument)

	out, err := runCLI(t, env.configPath, "enqueue", docPath)
	if err != nil {
		t.Fatalf("offline enqueue: %v", err)
	}
	requireContains(t, out, "2 accepted")

	out, err = runCLI(t, env.configPath, "queue", "list", "--status", "pending")
	if err != nil {
		t.Fatalf("offline list: %v", err)
	}
	requireContains(t, out, "cli session")

	if _, err := runCLI(t, env.configPath, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status error")
	}

	out, err = runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "Pending")

	if _, err := runCLI(t, env.configPath, "flush"); err == nil || !strings.Contains(err.Error(), "tracespool start") {
		t.Fatalf("expected flush to require a daemon, got %v", err)
	}

	out, err = runCLI(t, env.configPath, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	out, err = runCLI(t, env.configPath, "queue", "cleanup")
	if err != nil {
		t.Fatalf("offline cleanup: %v", err)
	}
	requireContains(t, out, "Reclaimed 0 items")
}

func TestEnqueueRejectsInvalidDocument(t *testing.T) {
	env := newCLITestEnv(t)

	if _, err := runCLI(t, env.configPath, "enqueue", env.writeDocument(t, "not json")); err == nil {
		t.Fatal("expected invalid JSON error")
	}
	if _, err := runCLI(t, env.configPath, "enqueue", env.writeDocument(t, `{"turns": []}`)); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestKeyCommand(t *testing.T) {
	at := "2026-01-02T03:04:05Z"
	out, err := runCLI(t, "", "key", "--session", "s1", "--unit", "u1", "--at", at)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	parsed, _ := time.Parse(time.RFC3339, at)
	requireContains(t, out, transcript.DeriveKey("s1", "u1", parsed))
	requireContains(t, out, "session token: "+transcript.DeriveUUID("s1"))

	if _, err := runCLI(t, "", "key", "--session", "s1", "--unit", "u1", "--at", "yesterday"); err == nil {
		t.Fatal("expected timestamp error")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	env := newCLITestEnv(t)
	target := filepath.Join(env.baseDir, "generated", "config.toml")

	out, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	out, err = runCLI(t, env.configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "********")
	if strings.Contains(out, "secret-key") {
		t.Fatal("api key leaked in config show")
	}
}

func TestNotifyTestWithoutTopic(t *testing.T) {
	env := newCLITestEnv(t)

	out, err := runCLI(t, env.configPath, "notify", "test")
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tc := range tests {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLogsCommandPrintsTail(t *testing.T) {
	env := newCLITestEnv(t)

	out, err := runCLI(t, env.configPath, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log at")

	logPath := filepath.Join(env.cfg.Paths.LogDir, "tracespool.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, err = runCLI(t, env.configPath, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}
