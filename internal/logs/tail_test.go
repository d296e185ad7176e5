package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tracespool/internal/logs"
)

func TestLast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracespool.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "fewer than file", limit: 2, want: []string{"b", "c"}},
		{name: "more than file", limit: 10, want: []string{"a", "b", "c"}},
		{name: "zero", limit: 0, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lines, offset, err := logs.Last(path, tc.limit)
			if err != nil {
				t.Fatalf("Last: %v", err)
			}
			if len(lines) != len(tc.want) {
				t.Fatalf("lines = %#v, want %#v", lines, tc.want)
			}
			for i := range lines {
				if lines[i] != tc.want[i] {
					t.Fatalf("lines = %#v, want %#v", lines, tc.want)
				}
			}
			if offset != 6 {
				t.Fatalf("offset = %d, want 6", offset)
			}
		})
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "missing.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("expected empty result, got %#v %d %v", lines, offset, err)
	}
}

func TestReadFromKeepsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("one\ntw"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	lines, offset, err := logs.ReadFrom(path, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(lines) != 1 || lines[0] != "one" || offset != 4 {
		t.Fatalf("unexpected read: %#v offset %d", lines, offset)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("o\n")
	_ = f.Close()

	lines, _, err = logs.ReadFrom(path, offset)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(lines) != 1 || lines[0] != "two" {
		t.Fatalf("expected completed line, got %#v", lines)
	}
}

func TestReadFromRestartsAfterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("fresh\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	lines, _, err := logs.ReadFrom(path, 1000)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(lines) != 1 || lines[0] != "fresh" {
		t.Fatalf("expected restart from beginning, got %#v", lines)
	}
}

func TestFollowSeesAppendsAndRelink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "tracespool-1.log")
	second := filepath.Join(dir, "tracespool-2.log")
	current := filepath.Join(dir, "tracespool.log")
	if err := os.WriteFile(first, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.Symlink(first, current); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, offset, err := logs.Last(current, 0)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, current, offset, func(line string) {
			mu.Lock()
			seen = append(seen, line)
			mu.Unlock()
		})
	}()

	waitForLines := func(want int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n >= want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("expected %d lines, got %#v", want, seen)
	}

	f, err := os.OpenFile(first, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("appended\n")
	_ = f.Close()
	waitForLines(1)

	if err := os.WriteFile(second, []byte("next run\n"), 0o644); err != nil {
		t.Fatalf("write second log: %v", err)
	}
	_ = os.Remove(current)
	if err := os.Symlink(second, current); err != nil {
		t.Fatalf("relink: %v", err)
	}
	waitForLines(2)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "appended" || seen[1] != "next run" {
		t.Fatalf("unexpected lines: %#v", seen)
	}
}
