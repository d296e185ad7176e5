package daemon

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"tracespool/internal/ingest"
	"tracespool/internal/queue"
)

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	SpoolLocation string
	LockPath      string
	LogPath       string
	InboxDir      string
	Sink          string
	FlushInterval time.Duration
	TrackedKeys   int
	Stats         queue.Stats
	StatsError    string
	LastFlush     queue.FlushResult
}

// Status returns the current daemon status. Spool statistics are recomputed
// on every call.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		SpoolLocation: d.cfg.SpoolLocation(),
		LockPath:      d.lockPath,
		LogPath:       d.logPath,
		InboxDir:      d.cfg.Paths.InboxDir,
		Sink:          d.cfg.DescribeSink(),
		FlushInterval: d.queue.FlushInterval(),
		TrackedKeys:   d.queue.TrackedKeys(),
		LastFlush:     d.queue.LastFlush(),
	}
	d.mu.Lock()
	status.StartedAt = d.startedAt
	d.mu.Unlock()

	stats, err := d.queue.Stats(ctx)
	if err != nil {
		status.StatsError = err.Error()
	}
	status.Stats = stats
	return status
}

// Flush runs an immediate flush. It returns 0 without error when a flush is
// already in progress.
func (d *Daemon) Flush(ctx context.Context) (int, queue.FlushResult, error) {
	delivered, err := d.queue.Flush(ctx)
	return delivered, d.queue.LastFlush(), err
}

// ListQueue returns items filtered by optional statuses, oldest first.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]queue.Item, error) {
	return d.queue.List(ctx, statuses...)
}

// GetQueueItem returns a single item.
func (d *Daemon) GetQueueItem(ctx context.Context, id string) (queue.Item, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return queue.Item{}, false, errors.New("item id is required")
	}
	return d.queue.Get(ctx, id)
}

// Purge removes items in the given statuses.
func (d *Daemon) Purge(ctx context.Context, statuses []queue.Status) (int, error) {
	return d.queue.Purge(ctx, statuses...)
}

// Cleanup runs spool reclamation now.
func (d *Daemon) Cleanup(ctx context.Context) (int, error) {
	return d.queue.Cleanup(ctx)
}

// Ingest enqueues the items of a transcript document.
func (d *Daemon) Ingest(ctx context.Context, data []byte) (ingest.Result, error) {
	return d.ingester.Ingest(ctx, data)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon run log.
func (d *Daemon) LogPath() string {
	return d.logPath
}
