package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/idempotency"
	"tracespool/internal/logging"
)

const minFlushInterval = time.Second

// Options configures a Manager.
type Options struct {
	MaxRetries      int
	RetryBaseDelay  time.Duration
	FlushInterval   time.Duration
	DeliveryTimeout time.Duration
	// EnforceBackoff skips failed items until BackoffDelay has elapsed since
	// their last attempt. When false, every flush retries them.
	EnforceBackoff bool
	Tracker        *idempotency.Tracker
	// OnDeadLetter runs after an item's dead status has been persisted.
	OnDeadLetter func(ctx context.Context, item Item)
	// OnFlush runs after every flush with its recorded result.
	OnFlush func(result FlushResult)
	Logger  *slog.Logger
	Now     func() time.Time
}

// OptionsFromConfig maps the queue section of the configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:      cfg.Queue.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay(),
		FlushInterval:   cfg.FlushInterval(),
		DeliveryTimeout: cfg.DeliveryTimeout(),
		EnforceBackoff:  cfg.Queue.EnforceBackoff,
		Tracker:         idempotency.New(cfg.Queue.TrackerCapacity),
	}
}

// Manager coordinates enqueue, flush, retry, and dead-letter transitions.
type Manager struct {
	spool     Spool
	deliverer Deliverer
	tracker   *idempotency.Tracker
	logger    *slog.Logger
	now       func() time.Time

	maxRetries      int
	baseDelay       time.Duration
	flushInterval   time.Duration
	deliveryTimeout time.Duration
	enforceBackoff  bool
	onDeadLetter    func(context.Context, Item)
	onFlush         func(FlushResult)

	enqueueMu sync.Mutex
	// flushSlot holds a token while a flush runs.
	flushSlot chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    FlushResult
}

// FlushResult describes the most recent completed flush.
type FlushResult struct {
	At        time.Time
	Attempted int
	Delivered int
	Failed    int
	Dead      int
	Reclaimed int
	Err       string
}

// NewManager constructs a manager. A nil deliverer makes Flush a no-op.
func NewManager(spool Spool, deliverer Deliverer, opts Options) *Manager {
	m := &Manager{
		spool:           spool,
		deliverer:       deliverer,
		tracker:         opts.Tracker,
		logger:          logging.NewComponentLogger(opts.Logger, "queue"),
		now:             opts.Now,
		maxRetries:      opts.MaxRetries,
		baseDelay:       opts.RetryBaseDelay,
		flushInterval:   opts.FlushInterval,
		deliveryTimeout: opts.DeliveryTimeout,
		enforceBackoff:  opts.EnforceBackoff,
		onDeadLetter:    opts.OnDeadLetter,
		onFlush:         opts.OnFlush,
		flushSlot:       make(chan struct{}, 1),
	}
	if m.tracker == nil {
		m.tracker = idempotency.New(idempotency.DefaultCapacity)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	if m.flushInterval < minFlushInterval {
		m.flushInterval = minFlushInterval
	}
	return m
}

// Enqueue persists a new item as pending. It returns false when the item is
// a duplicate or could not be stored; it never blocks on delivery.
func (m *Manager) Enqueue(ctx context.Context, item Item) bool {
	if item.ID == "" {
		logging.WarnWithContext(m.logger, "enqueue rejected item without id", "enqueue_invalid",
			logging.String(logging.FieldSessionID, item.SessionID),
			logging.String(logging.FieldImpact, "item dropped"),
		)
		return false
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	if m.tracker.Has(item.ID) {
		m.logger.Debug("duplicate item ignored", logging.String(logging.FieldItemID, item.ID), logging.String("source", "tracker"))
		return false
	}

	_, found, err := m.spool.Read(ctx, item.ID)
	if err != nil {
		logging.WarnWithContext(m.logger, "spool lookup failed; item not enqueued", "enqueue_lookup_failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool directory permissions and free space"),
			logging.String(logging.FieldImpact, "item dropped"),
		)
		return false
	}
	if found {
		m.tracker.Add(item.ID)
		m.logger.Debug("duplicate item ignored", logging.String(logging.FieldItemID, item.ID), logging.String("source", "spool"))
		return false
	}

	item = item.Clone()
	item.Status = StatusPending
	item.RetryCount = 0
	item.LastAttemptAt = nil
	item.Error = ""
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	if err := m.spool.Write(ctx, item); err != nil {
		logging.WarnWithContext(m.logger, "spool write failed; item not enqueued", "enqueue_write_failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool directory permissions and free space"),
			logging.String(logging.FieldImpact, "item dropped"),
		)
		return false
	}
	m.tracker.Add(item.ID)
	m.logger.Debug("item enqueued",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldSessionID, item.SessionID),
	)
	return true
}

// Flush attempts delivery of every eligible item and returns how many were
// delivered. A call made while another flush runs returns 0 immediately.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	select {
	case m.flushSlot <- struct{}{}:
	default:
		m.logger.Debug("flush already in progress; skipping")
		return 0, nil
	}
	defer func() { <-m.flushSlot }()
	return m.flushLocked(ctx)
}

func (m *Manager) flushLocked(ctx context.Context) (int, error) {
	if m.deliverer == nil {
		return 0, nil
	}

	batch, err := m.collect(ctx)
	if err != nil {
		m.recordResult(FlushResult{At: m.now(), Err: err.Error()})
		return 0, fmt.Errorf("collect flush batch: %w", err)
	}

	result := FlushResult{}
	var errs []error
	for _, item := range batch {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		result.Attempted++
		outcome, err := m.attempt(ctx, item)
		if err != nil {
			errs = append(errs, err)
		}
		switch outcome {
		case StatusPending:
			result.Delivered++
		case StatusFailed:
			result.Failed++
		case StatusDead:
			result.Dead++
		}
	}

	removed, err := m.spool.Cleanup(context.WithoutCancel(ctx))
	if err != nil {
		errs = append(errs, fmt.Errorf("spool cleanup: %w", err))
	}
	result.Reclaimed = removed
	result.At = m.now()

	flushErr := errors.Join(errs...)
	if flushErr != nil {
		result.Err = flushErr.Error()
	}
	m.recordResult(result)

	if result.Attempted > 0 || removed > 0 {
		m.logger.Info("flush complete",
			logging.Int("attempted", result.Attempted),
			logging.Int("delivered", result.Delivered),
			logging.Int("failed", result.Failed),
			logging.Int("dead", result.Dead),
			logging.Int("reclaimed", removed),
			logging.String(logging.FieldEventType, "flush_complete"),
		)
	}
	return result.Delivered, flushErr
}

// collect returns pending items, then failed items, then processing items
// left behind by an interrupted flush, each group ordered by creation time.
func (m *Manager) collect(ctx context.Context) ([]Item, error) {
	items, err := m.spool.ListByStatus(ctx, StatusPending, StatusFailed, StatusProcessing)
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(items)

	now := m.now()
	batch := make([]Item, 0, len(items))
	for _, status := range []Status{StatusPending, StatusFailed, StatusProcessing} {
		for _, item := range items {
			if item.Status != status {
				continue
			}
			if status == StatusFailed && m.enforceBackoff && !m.dueForRetry(item, now) {
				continue
			}
			batch = append(batch, item)
		}
	}
	return batch, nil
}

func (m *Manager) dueForRetry(item Item, now time.Time) bool {
	if item.LastAttemptAt == nil {
		return true
	}
	return !now.Before(item.LastAttemptAt.Add(m.BackoffDelay(item.RetryCount)))
}

// attempt delivers one item. The returned status is StatusPending on
// success, otherwise the status persisted after the failure.
func (m *Manager) attempt(ctx context.Context, item Item) (Status, error) {
	logger := m.logger.With(
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldSessionID, item.SessionID),
	)
	// Attempt bookkeeping is written even if the caller cancels mid-flush.
	persistCtx := context.WithoutCancel(ctx)

	attemptAt := m.now()
	item.Status = StatusProcessing
	item.LastAttemptAt = &attemptAt
	if err := m.spool.Write(persistCtx, item); err != nil {
		logging.ErrorWithContext(logger, "mark processing failed; skipping delivery", "flush_mark_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool directory permissions and free space"),
		)
		return "", fmt.Errorf("mark %s processing: %w", item.ID, err)
	}

	deliverErr := m.deliver(ctx, item)
	if deliverErr == nil {
		if err := m.spool.Delete(persistCtx, item.ID); err != nil {
			logging.ErrorWithContext(logger, "delete delivered item failed; it will be delivered again", "flush_delete_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check spool directory permissions"),
			)
			return StatusPending, fmt.Errorf("delete delivered %s: %w", item.ID, err)
		}
		logger.Debug("item delivered", logging.Int(logging.FieldAttempt, item.RetryCount))
		return StatusPending, nil
	}

	item.RetryCount++
	item.Error = deliverErr.Error()
	item.Status = StatusFailed
	if item.RetryCount >= m.maxRetries {
		item.Status = StatusDead
	}
	if err := m.spool.Write(persistCtx, item); err != nil {
		logging.ErrorWithContext(logger, "persist failed attempt failed; retry count may be lost", "flush_persist_failed",
			logging.Error(err),
			logging.Int(logging.FieldAttempt, item.RetryCount),
			logging.String(logging.FieldErrorHint, "check spool directory permissions and free space"),
		)
		return item.Status, fmt.Errorf("persist %s after failed delivery: %w", item.ID, err)
	}

	if item.Status == StatusDead {
		logging.WarnWithContext(logger, "item dead-lettered after exhausting retries", "item_dead_lettered",
			logging.Int(logging.FieldAttempt, item.RetryCount),
			logging.String("last_error", item.Error),
			logging.String(logging.FieldErrorHint, "inspect with 'tracespool queue show'"),
			logging.String(logging.FieldImpact, "item will not be delivered"),
		)
		if m.onDeadLetter != nil {
			m.onDeadLetter(persistCtx, item.Clone())
		}
	} else {
		logger.Info("delivery failed; will retry",
			logging.Int(logging.FieldAttempt, item.RetryCount),
			logging.Duration("backoff", m.BackoffDelay(item.RetryCount)),
			logging.Error(deliverErr),
			logging.String(logging.FieldEventType, "delivery_retry_scheduled"),
		)
	}
	return item.Status, nil
}

// deliver runs one delivery call. Stopping the flush loop does not cancel a
// call already in flight; only the delivery timeout bounds it.
func (m *Manager) deliver(ctx context.Context, item Item) (err error) {
	ctx = context.WithoutCancel(ctx)
	if m.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.deliveryTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	return m.deliverer.Deliver(ctx, item.Clone())
}

// BackoffDelay returns the exponential retry delay for the given retry count.
func (m *Manager) BackoffDelay(retryCount int) time.Duration {
	return BackoffDelay(m.baseDelay, retryCount)
}

// BackoffDelay computes base * 2^retryCount, saturating instead of overflowing.
func BackoffDelay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		return base
	}
	if retryCount >= 62 || base > time.Duration(math.MaxInt64>>uint(retryCount)) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(retryCount)
}

// Recover folds items left in processing by a previous run back to failed so
// the next flush retries them. Retry counts are left unchanged.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	items, err := m.spool.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing items: %w", err)
	}
	recovered := 0
	var errs []error
	for _, item := range items {
		item.Status = StatusFailed
		item.Error = InterruptedReason
		if err := m.spool.Write(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", item.ID, err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logging.WarnWithContext(m.logger, "recovered items interrupted mid-delivery", "processing_recovered",
			logging.Int("count", recovered),
			logging.String(logging.FieldErrorHint, "the previous run exited during a flush"),
			logging.String(logging.FieldImpact, "items will be delivered again on the next flush"),
		)
	}
	return recovered, errors.Join(errs...)
}

// Start launches the periodic flush loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("queue manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	m.logger.Info("flush loop started",
		logging.Duration("interval", m.flushInterval),
		logging.Int("max_retries", m.maxRetries),
		logging.Bool("enforce_backoff", m.enforceBackoff),
	)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Flush(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(m.logger, "flush cycle failed; retrying next interval", "flush_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check spool storage and sink reachability"),
					logging.String(logging.FieldImpact, "delivery delayed until the next flush"),
				)
			}
		}
	}
}

// Running reports whether the flush loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Shutdown stops the flush loop, waits for any in-flight flush, and runs one
// final flush so reachable pending work is not left behind.
func (m *Manager) Shutdown(ctx context.Context) (int, error) {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}

	if m.deliverer == nil {
		return 0, nil
	}
	select {
	case m.flushSlot <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-m.flushSlot }()

	delivered, err := m.flushLocked(ctx)
	m.logger.Info("final flush complete", logging.Int("delivered", delivered))
	return delivered, err
}

func (m *Manager) recordResult(result FlushResult) {
	m.mu.Lock()
	m.last = result
	m.mu.Unlock()
	if m.onFlush != nil {
		m.onFlush(result)
	}
}

// LastFlush returns the outcome of the most recent flush.
func (m *Manager) LastFlush() FlushResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// FlushInterval returns the effective timer interval.
func (m *Manager) FlushInterval() time.Duration {
	return m.flushInterval
}
