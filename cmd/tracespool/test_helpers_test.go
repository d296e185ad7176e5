package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracespool/internal/config"
	"tracespool/internal/daemon"
	"tracespool/internal/ipc"
	"tracespool/internal/logging"
)

const sampleDocument = `{
  "session": {"id": "sess-cli", "name": "cli session"},
  "turns": [
    {"unitId": "u1", "at": "2026-01-02T03:04:05Z", "request": {"q": 1}, "response": {"a": 1}},
    {"unitId": "u2", "at": "2026-01-02T03:04:06Z", "request": {"q": 2}, "response": {"a": 2}},
    {"unitId": "u3", "at": "2026-01-02T03:04:07Z", "request": {"q": 3}}
  ]
}`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// newCLITestEnv writes a config file rooted in a temp dir. The daemon is not
// started; call startDaemon for online tests.
func newCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
spool_dir = %q
state_dir = %q
log_dir = %q

[queue]
flush_interval_seconds = 3600

[delivery]
kind = "none"
api_key = "secret-key"

[logging]
retention_days = 0
`,
		filepath.Join(base, "spool"),
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	logger := logging.NewNop()
	d, err := daemon.New(e.cfg, logger, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		_ = d.Close()
		t.Fatalf("daemon.Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, e.cfg.SocketPath(), d, logger, cancel)
	if err != nil {
		cancel()
		_ = d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC-backed CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
		srv.Close()
	})
	return d
}

func (e *cliTestEnv) writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, "doc.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
