package spool

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tracespool/internal/logging"
	"tracespool/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by an incompatible version.
var ErrSchemaMismatch = errors.New("spool schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteSpool stores records in a single SQLite database.
type SQLiteSpool struct {
	db       *sql.DB
	path     string
	maxBytes int64
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	// beforeReclaim runs before each conditional size-eviction delete.
	beforeReclaim func(id string)
}

// OpenSQLite opens or creates the spool database at path.
func OpenSQLite(path string, opts Options) (*SQLiteSpool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("spool database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spool database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	opts = opts.withDefaults()
	s := &SQLiteSpool{
		db:       db,
		path:     path,
		maxBytes: opts.MaxBytes,
		maxAge:   opts.MaxAge,
		logger:   logging.NewComponentLogger(opts.Logger, "spool"),
		now:      opts.Now,
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteSpool) Path() string {
	return s.path
}

func (s *SQLiteSpool) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteSpool) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLiteSpool) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Write upserts the record for item.ID.
func (s *SQLiteSpool) Write(ctx context.Context, item queue.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	payload, err := encodeItem(item)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO spool_items (id, status, created_at, record) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, created_at = excluded.created_at, record = excluded.record`,
		item.ID, string(item.Status), item.CreatedAt.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("write item %s: %w", item.ID, err)
	}
	return nil
}

// Read returns the item; undecodable rows report found=false.
func (s *SQLiteSpool) Read(ctx context.Context, id string) (queue.Item, bool, error) {
	var payload []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT record FROM spool_items WHERE id = ?`, id).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Item{}, false, nil
	}
	if err != nil {
		return queue.Item{}, false, fmt.Errorf("read item %s: %w", id, err)
	}
	item, err := decodeItem(payload)
	if err != nil {
		s.logger.Debug("skipping corrupt spool row", logging.String(logging.FieldItemID, id), logging.Error(err))
		return queue.Item{}, false, nil
	}
	return item, true, nil
}

// Delete removes the row for id.
func (s *SQLiteSpool) Delete(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM spool_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteSpool) query(ctx context.Context, query string, args ...any) ([]queue.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list spool items: %w", err)
	}
	defer rows.Close()

	var items []queue.Item
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan spool row: %w", err)
		}
		item, err := decodeItem(payload)
		if err != nil {
			s.logger.Debug("skipping corrupt spool row", logging.String(logging.FieldItemID, id), logging.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns every decodable item ordered by creation time.
func (s *SQLiteSpool) List(ctx context.Context) ([]queue.Item, error) {
	return s.query(ctx, `SELECT id, record FROM spool_items ORDER BY created_at, id`)
}

// ListByStatus returns decodable items in the given statuses.
func (s *SQLiteSpool) ListByStatus(ctx context.Context, statuses ...queue.Status) ([]queue.Item, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return s.query(ctx, `SELECT id, record FROM spool_items WHERE status IN (`+placeholders+`) ORDER BY created_at, id`, args...)
}

// Stats aggregates per-status counts and record bytes in SQL.
func (s *SQLiteSpool) Stats(ctx context.Context) (queue.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1), COALESCE(SUM(LENGTH(record)), 0), MIN(created_at) FROM spool_items GROUP BY status`)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("spool stats: %w", err)
	}
	defer rows.Close()

	var stats queue.Stats
	for rows.Next() {
		var (
			status   string
			count    int
			bytes    int64
			oldestMS int64
		)
		if err := rows.Scan(&status, &count, &bytes, &oldestMS); err != nil {
			return queue.Stats{}, fmt.Errorf("scan spool stats: %w", err)
		}
		stats.Total += count
		stats.TotalBytes += bytes
		switch queue.Status(status) {
		case queue.StatusPending:
			stats.Pending += count
		case queue.StatusProcessing:
			stats.Processing += count
		case queue.StatusFailed:
			stats.Failed += count
		case queue.StatusDead:
			stats.Dead += count
		}
		oldest := time.UnixMilli(oldestMS)
		if stats.OldestCreatedAt.IsZero() || oldest.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = oldest
		}
	}
	if err := rows.Err(); err != nil {
		return queue.Stats{}, err
	}
	stats.DiskFreeBytes = diskFree(filepath.Dir(s.path))
	return stats, nil
}

// Cleanup deletes expired rows, then the oldest rows until the summed record
// size fits within the byte limit. Deletes are conditional on created_at so
// a row rewritten with a newer timestamp survives.
func (s *SQLiteSpool) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	now := s.now()

	if s.maxAge > 0 {
		cutoff := now.Add(-s.maxAge).UnixMilli()
		affected, err := s.exec(ctx, `DELETE FROM spool_items WHERE created_at < ?`, cutoff)
		if err != nil {
			return removed, fmt.Errorf("expire spool items: %w", err)
		}
		removed += int(affected)
		if affected > 0 {
			s.logger.Info("spool items expired",
				logging.Int64("count", affected),
				logging.String(logging.FieldEventType, "spool_item_expired"),
			)
		}
	}

	if s.maxBytes <= 0 {
		return removed, nil
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(record)), 0) FROM spool_items`).Scan(&total); err != nil {
		return removed, fmt.Errorf("measure spool size: %w", err)
	}
	if total <= s.maxBytes {
		return removed, nil
	}

	type candidate struct {
		id        string
		createdAt int64
		size      int64
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, LENGTH(record) FROM spool_items ORDER BY created_at, id`)
	if err != nil {
		return removed, fmt.Errorf("list spool sizes: %w", err)
	}
	var victims []candidate
	excess := total - s.maxBytes
	for rows.Next() && excess > 0 {
		var c candidate
		if err := rows.Scan(&c.id, &c.createdAt, &c.size); err != nil {
			_ = rows.Close()
			return removed, fmt.Errorf("scan spool size: %w", err)
		}
		victims = append(victims, c)
		excess -= c.size
	}
	if err := rows.Close(); err != nil {
		return removed, err
	}

	for _, c := range victims {
		if s.beforeReclaim != nil {
			s.beforeReclaim(c.id)
		}
		affected, err := s.exec(ctx, `DELETE FROM spool_items WHERE id = ? AND created_at <= ?`, c.id, c.createdAt)
		if err != nil {
			logging.WarnWithContext(s.logger, "spool size eviction failed; item kept", "spool_cleanup_skipped",
				logging.String(logging.FieldItemID, c.id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check spool database access"),
				logging.String(logging.FieldImpact, "spool may stay above its size limit until the next cleanup"),
			)
			continue
		}
		if affected > 0 {
			removed++
			s.logger.Info("spool item evicted for size",
				logging.String(logging.FieldItemID, c.id),
				logging.Int64("size_bytes", c.size),
				logging.String(logging.FieldEventType, "spool_item_evicted"),
			)
		}
	}
	return removed, nil
}

// Close closes the database.
func (s *SQLiteSpool) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
