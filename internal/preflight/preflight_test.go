package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tracespool/internal/config"
	"tracespool/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass for 1 byte, got: %s", result.Detail)
	}
	if result := CheckDiskSpace("space", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure for an impossible requirement")
	}
	if result := CheckDiskSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckHTTPEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		status int
		passed bool
	}{
		{"ok", http.StatusOK, true},
		{"method not allowed still reachable", http.StatusMethodNotAllowed, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("expected HEAD, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			result := CheckHTTPEndpoint(context.Background(), srv.URL, "key")
			if result.Passed != tt.passed {
				t.Fatalf("passed = %v, want %v (%s)", result.Passed, tt.passed, result.Detail)
			}
		})
	}
}

func TestCheckHTTPEndpoint_MissingEndpoint(t *testing.T) {
	if result := CheckHTTPEndpoint(context.Background(), "", "key"); result.Passed {
		t.Fatal("expected failure for missing endpoint")
	}
}

func TestCheckRedis_MissingAddr(t *testing.T) {
	if result := CheckRedis(context.Background(), " "); result.Passed {
		t.Fatal("expected failure for missing address")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.Queue.MaxSpoolBytes = 1

	results := RunAll(context.Background(), cfg)
	// spool dir, free space, state dir, sink
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ChecksSQLiteParentAndInbox(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSQLiteSpool(), testsupport.WithInbox())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.Queue.MaxSpoolBytes = 1

	results := RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if results[0].Name != "Spool directory" || !results[0].Passed {
		t.Fatalf("spool directory check: %+v", results[0])
	}
}

func TestCheckSinkUsesConfiguredKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithHTTPSink(srv.URL, ""))
	result := CheckSink(context.Background(), cfg)
	if result.Name != "HTTP sink" || !result.Passed {
		t.Fatalf("unexpected result %+v", result)
	}

	cfg.Delivery.Kind = config.DeliveryNone
	if result := CheckSink(context.Background(), cfg); !result.Passed {
		t.Fatalf("disabled sink should pass, got %+v", result)
	}
}
