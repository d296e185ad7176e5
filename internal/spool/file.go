package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tracespool/internal/logging"
	"tracespool/internal/queue"
)

const (
	recordExt       = ".json"
	tempPrefix      = ".tmp-"
	tempSuffix      = ".tmp"
	maxIDLength     = 200
	orphanTempAfter = time.Hour
)

// ErrInvalidID is returned for ids that cannot be mapped to exactly one file.
var ErrInvalidID = errors.New("invalid spool id")

// FileSpool keeps one JSON record per item inside a directory.
type FileSpool struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	// beforeReclaim runs between a cleanup scan and the re-read of a
	// candidate. Tests use it to rewrite records in that window.
	beforeReclaim func(id string)

	// mu serializes mutations so cleanup's re-read and delete observe the
	// latest write for an id.
	mu sync.Mutex
}

// NewFileSpool opens (creating if needed) a file spool rooted at dir.
func NewFileSpool(dir string, opts Options) (*FileSpool, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("spool directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	opts = opts.withDefaults()
	return &FileSpool{
		dir:      dir,
		maxBytes: opts.MaxBytes,
		maxAge:   opts.MaxAge,
		logger:   logging.NewComponentLogger(opts.Logger, "spool"),
		now:      opts.Now,
	}, nil
}

// Dir returns the spool directory.
func (s *FileSpool) Dir() string {
	return s.dir
}

func validID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func (s *FileSpool) pathFor(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

// Write atomically replaces the record for item.ID.
func (s *FileSpool) Write(_ context.Context, item queue.Item) error {
	target, err := s.pathFor(item.ID)
	if err != nil {
		return err
	}
	payload, err := encodeItem(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.dir, target, payload)
}

func writeFileAtomic(dir, target string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup()
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Read returns the stored item. Missing and undecodable records both report
// found=false; only I/O failures are errors.
func (s *FileSpool) Read(_ context.Context, id string) (queue.Item, bool, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return queue.Item{}, false, err
	}
	item, _, ok, err := s.load(path)
	if err != nil || !ok {
		return queue.Item{}, false, err
	}
	if item.ID != id {
		s.logger.Debug("spool record id mismatch; treating as absent",
			logging.String(logging.FieldItemID, id),
			logging.String("record_id", item.ID),
		)
		return queue.Item{}, false, nil
	}
	return item, true, nil
}

func (s *FileSpool) load(path string) (queue.Item, int64, bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return queue.Item{}, 0, false, nil
		}
		return queue.Item{}, 0, false, fmt.Errorf("read record: %w", err)
	}
	item, err := decodeItem(payload)
	if err != nil {
		s.logger.Debug("skipping corrupt spool record",
			logging.String("path", path),
			logging.Error(err),
		)
		return queue.Item{}, 0, false, nil
	}
	return item, int64(len(payload)), true, nil
}

// Delete removes the record for id; a missing record is not an error.
func (s *FileSpool) Delete(_ context.Context, id string) error {
	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

type entry struct {
	item queue.Item
	size int64
}

// scan reads every record in the directory, skipping corrupt and unreadable
// files.
func (s *FileSpool) scan(ctx context.Context) ([]entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list spool directory: %w", err)
	}
	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if !validID(id) {
			continue
		}
		item, size, ok, err := s.load(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("spool record unreadable; skipped",
				logging.String("path", name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "spool_record_skipped"),
				logging.String(logging.FieldErrorHint, "check spool file permissions"),
			)
			continue
		}
		if !ok || item.ID != id {
			continue
		}
		entries = append(entries, entry{item: item, size: size})
	}
	return entries, nil
}

// List returns every readable item.
func (s *FileSpool) List(ctx context.Context) ([]queue.Item, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]queue.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.item)
	}
	return items, nil
}

// ListByStatus returns readable items whose status is in statuses.
func (s *FileSpool) ListByStatus(ctx context.Context, statuses ...queue.Status) ([]queue.Item, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	want := statusSet(statuses)
	items := make([]queue.Item, 0, len(entries))
	for _, e := range entries {
		if _, ok := want[e.item.Status]; ok {
			items = append(items, e.item)
		}
	}
	return items, nil
}

// Stats aggregates counts, bytes, and the oldest creation time.
func (s *FileSpool) Stats(ctx context.Context) (queue.Stats, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	var stats queue.Stats
	for _, e := range entries {
		stats.Add(e.item, e.size)
	}
	stats.DiskFreeBytes = diskFree(s.dir)
	return stats, nil
}

// Cleanup removes items older than the maximum age, then the oldest items
// until the spool fits within the byte limit. Orphaned temp files from
// interrupted writes are removed as well.
func (s *FileSpool) Cleanup(ctx context.Context) (int, error) {
	s.removeOrphanTemps()

	removed := 0
	now := s.now()

	if s.maxAge > 0 {
		entries, err := s.scan(ctx)
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			if now.Sub(e.item.CreatedAt) <= s.maxAge {
				continue
			}
			deleted, _ := s.reclaim(e.item.ID, func(current queue.Item) bool {
				return now.Sub(current.CreatedAt) > s.maxAge
			})
			if deleted {
				removed++
				s.logger.Info("spool item expired",
					logging.String(logging.FieldItemID, e.item.ID),
					logging.String(logging.FieldStatus, string(e.item.Status)),
					logging.Duration("age", now.Sub(e.item.CreatedAt)),
					logging.String(logging.FieldEventType, "spool_item_expired"),
				)
			}
		}
	}

	if s.maxBytes > 0 {
		entries, err := s.scan(ctx)
		if err != nil {
			return removed, err
		}
		var total int64
		for _, e := range entries {
			total += e.size
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].item.CreatedAt.Before(entries[j].item.CreatedAt)
		})
		for _, e := range entries {
			if total <= s.maxBytes {
				break
			}
			cutoff := e.item.CreatedAt
			deleted, present := s.reclaim(e.item.ID, func(current queue.Item) bool {
				return !current.CreatedAt.After(cutoff)
			})
			if deleted || !present {
				total -= e.size
			}
			if deleted {
				removed++
				s.logger.Info("spool item evicted for size",
					logging.String(logging.FieldItemID, e.item.ID),
					logging.String(logging.FieldStatus, string(e.item.Status)),
					logging.Int64("size_bytes", e.size),
					logging.String(logging.FieldEventType, "spool_item_evicted"),
				)
			}
		}
	}
	return removed, nil
}

// reclaim re-reads id and deletes it when eligible still holds for the
// current record. present reports whether a record existed at re-read time.
func (s *FileSpool) reclaim(id string, eligible func(queue.Item) bool) (deleted, present bool) {
	path, err := s.pathFor(id)
	if err != nil {
		return false, false
	}
	if s.beforeReclaim != nil {
		s.beforeReclaim(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, ok, err := s.load(path)
	if err != nil {
		logging.WarnWithContext(s.logger, "spool cleanup re-read failed; item kept", "spool_cleanup_skipped",
			logging.String(logging.FieldItemID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool file permissions"),
			logging.String(logging.FieldImpact, "spool may stay above its limits until the next cleanup"),
		)
		return false, true
	}
	if !ok {
		return false, false
	}
	if !eligible(current) {
		return false, true
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(s.logger, "spool cleanup delete failed; item kept", "spool_cleanup_skipped",
			logging.String(logging.FieldItemID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool directory permissions"),
			logging.String(logging.FieldImpact, "spool may stay above its limits until the next cleanup"),
		)
		return false, true
	}
	return true, true
}

func (s *FileSpool) removeOrphanTemps() {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-orphanTempAfter)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			s.logger.Debug("removed orphaned temp record", logging.String("path", name))
		}
	}
}

// Close is a no-op for the file backend.
func (s *FileSpool) Close() error {
	return nil
}
