package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tracespool/internal/config"
	"tracespool/internal/delivery"
	"tracespool/internal/ingest"
	"tracespool/internal/logging"
	"tracespool/internal/notifications"
	"tracespool/internal/queue"
	"tracespool/internal/spool"
)

// flushAlertThreshold is the number of consecutive failing flushes that
// triggers a notification.
const flushAlertThreshold = 3

const notifyTimeout = 15 * time.Second

// Options carries optional collaborators. Zero values select the defaults
// derived from config.
type Options struct {
	LogPath  string
	Sink     queue.Deliverer
	Notifier notifications.Service
}

// Daemon owns the spool for the lifetime of the process.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	spool    queue.Spool
	queue    *queue.Manager
	sink     queue.Deliverer
	ingester *ingest.Ingester
	watcher  *ingest.Watcher
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time

	flushFailures atomic.Int32
	notifyWG      sync.WaitGroup
}

// New opens the spool and builds every collaborator without acquiring the
// lock or touching item state.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	sp, err := spool.Open(cfg.SpoolLocation(), spool.OptionsFromConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		built, err := delivery.New(cfg, logger)
		if err != nil {
			_ = sp.Close()
			return nil, fmt.Errorf("create delivery sink: %w", err)
		}
		sink = built
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		spool:    sp,
		sink:     sink,
		notifier: notifier,
		logPath:  opts.LogPath,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	qopts := queue.OptionsFromConfig(cfg)
	qopts.Logger = logger
	qopts.OnDeadLetter = d.handleDeadLetter
	qopts.OnFlush = d.handleFlush
	d.queue = queue.NewManager(sp, sink, qopts)
	d.ingester = ingest.NewIngester(d.queue, logger)

	if cfg.Paths.InboxDir != "" {
		w, err := ingest.NewWatcher(cfg.Paths.InboxDir, d.ingester, ingest.WatcherOptions{Logger: logger})
		if err != nil {
			_ = d.closeResources()
			return nil, fmt.Errorf("create inbox watcher: %w", err)
		}
		d.watcher = w
	}
	return d, nil
}

// Start acquires the single-instance lock, recovers interrupted items, and
// launches the flush loop and inbox watcher.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tracespool daemon instance is already running")
	}

	if _, err := d.queue.Recover(ctx); err != nil {
		logging.WarnWithContext(d.logger, "stale processing recovery incomplete", "processing_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool permissions"),
			logging.String(logging.FieldImpact, "unrecovered items are still retried by the next flush"),
		)
	}
	if removed, err := d.queue.Cleanup(ctx); err != nil {
		logging.WarnWithContext(d.logger, "startup cleanup failed", "spool_cleanup_failed", logging.Error(err))
	} else if removed > 0 {
		d.logger.Info("startup cleanup reclaimed items", logging.Int("removed", removed))
	}

	if err := d.queue.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start queue: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			_, _ = d.queue.Shutdown(ctx)
			_ = d.lock.Unlock()
			return fmt.Errorf("start inbox watcher: %w", err)
		}
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("tracespool daemon started",
		logging.String("lock", d.lockPath),
		logging.String("spool", d.cfg.SpoolLocation()),
		logging.String("sink", d.cfg.Delivery.Kind),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts ingest, runs the final flush, and releases the lock. It returns
// the number of items the final flush delivered.
func (d *Daemon) Stop(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return 0, nil
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}
	delivered, err := d.queue.Shutdown(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "final flush incomplete", "final_flush_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "undelivered items stay in the spool for the next run"),
		)
	}
	d.notifyWG.Wait()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.running.Store(false)
	d.logger.Info("tracespool daemon stopped",
		logging.Int("final_delivered", delivered),
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
	return delivered, err
}

// Close stops the daemon if needed and releases the spool and sink.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout()+5*time.Second)
	defer cancel()
	_, stopErr := d.Stop(ctx)
	return errors.Join(stopErr, d.closeResources())
}

func (d *Daemon) closeResources() error {
	var errs []error
	if closer, ok := d.sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if err := d.spool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close spool: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Daemon) handleDeadLetter(ctx context.Context, item queue.Item) {
	d.notifyAsync(ctx, "dead letter", func(ctx context.Context) error {
		return d.notifier.NotifyDeadLetter(ctx, item)
	})
}

func (d *Daemon) handleFlush(result queue.FlushResult) {
	if result.Err == "" {
		d.flushFailures.Store(0)
		return
	}
	if d.flushFailures.Add(1) != flushAlertThreshold {
		return
	}
	flushErr := errors.New(result.Err)
	d.notifyAsync(context.Background(), "flush failing", func(ctx context.Context) error {
		return d.notifier.NotifyFlushFailing(ctx, flushErr, flushAlertThreshold)
	})
}

// notifyAsync keeps notification latency out of the flush path.
func (d *Daemon) notifyAsync(ctx context.Context, label string, send func(context.Context) error) {
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := send(sendCtx); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.String("notification", label),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}()
}
