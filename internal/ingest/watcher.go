package ingest

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

	"github.com/fsnotify/fsnotify"

	"tracespool/internal/logging"
)

const (
	processedDir = "processed"
	rejectedDir  = "rejected"
	documentExt  = ".json"

	defaultSettle = 250 * time.Millisecond
	defaultRescan = time.Minute
)

// WatcherOptions tunes a Watcher.
type WatcherOptions struct {
	// Settle is how long a file must be quiet before it is read.
	Settle time.Duration
	// Rescan is the interval of full inbox scans that pick up files whose
	// events were missed or whose items could not be stored.
	Rescan time.Duration
	Logger *slog.Logger
}

// Watcher feeds inbox files to an Ingester.
type Watcher struct {
	dir      string
	ingester *Ingester
	settle   time.Duration
	rescan   time.Duration
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
	ready     chan string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher
}

// NewWatcher creates the inbox layout under dir and returns a stopped watcher.
func NewWatcher(dir string, ingester *Ingester, opts WatcherOptions) (*Watcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("inbox directory is empty")
	}
	if ingester == nil {
		return nil, errors.New("ingester is nil")
	}
	for _, sub := range []string{dir, filepath.Join(dir, processedDir), filepath.Join(dir, rejectedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("create inbox directory %q: %w", sub, err)
		}
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if opts.Rescan <= 0 {
		opts.Rescan = defaultRescan
	}
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		settle:   opts.Settle,
		rescan:   opts.Rescan,
		logger:   logging.NewComponentLogger(opts.Logger, "ingest"),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan string, 64),
	}, nil
}

// Dir returns the inbox directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start subscribes to inbox events and processes files already present.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("inbox watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch inbox %q: %w", w.dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.running = true

	w.wg.Add(2)
	go w.watchEvents(runCtx, fw)
	go w.process(runCtx)

	w.logger.Info("inbox watcher started",
		logging.String("inbox", w.dir),
		logging.Duration("rescan", w.rescan),
	)
	return nil
}

// Stop halts event processing and waits for the current file to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	fw := w.watcher
	w.running = false
	w.cancel = nil
	w.watcher = nil
	w.mu.Unlock()

	cancel()
	_ = fw.Close()
	w.wg.Wait()

	w.pendingMu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()
}

func (w *Watcher) watchEvents(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if isDocument(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "inbox watch error", "inbox_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "files are picked up by the next rescan"),
			)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()
		select {
		case w.ready <- path:
		default:
			w.logger.Debug("ingest backlog full; deferring to rescan", logging.String("path", path))
		}
	})
}

func (w *Watcher) process(ctx context.Context) {
	defer w.wg.Done()
	w.Scan(ctx)

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.ready:
			w.handleFile(ctx, path)
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan processes every document currently in the inbox, oldest name first,
// and returns how many files were handled.
func (w *Watcher) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.WarnWithContext(w.logger, "inbox scan failed", "inbox_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check inbox directory permissions"),
		)
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && isDocument(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	handled := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if w.handleFile(ctx, filepath.Join(w.dir, name)) {
			handled++
		}
	}
	return handled
}

// handleFile ingests one inbox file and moves it out of the inbox unless its
// items could not be stored. It reports whether the file was moved.
func (w *Watcher) handleFile(ctx context.Context, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(w.logger, "inbox file unreadable", "inbox_read_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inbox file permissions"),
			)
		}
		return false
	}

	result, err := w.ingester.Ingest(ctx, data)
	switch {
	case errors.Is(err, ErrNotStored):
		logging.WarnWithContext(w.logger, "inbox file kept; some items were not stored", "inbox_file_deferred",
			logging.String("path", path),
			logging.String(logging.FieldSessionID, result.SessionID),
			logging.Int("not_stored", result.NotStored),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file is retried on the next rescan"),
		)
		return false
	case err != nil:
		logging.WarnWithContext(w.logger, "inbox file rejected", "inbox_file_rejected",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the document and copy it back into the inbox"),
		)
		return w.move(path, rejectedDir)
	}

	w.logger.Info("inbox file ingested",
		logging.String("path", filepath.Base(path)),
		logging.String(logging.FieldSessionID, result.SessionID),
		logging.Int("accepted", result.Accepted),
		logging.Int("duplicates", result.Duplicates),
		logging.String(logging.FieldEventType, "inbox_file_ingested"),
	)
	return w.move(path, processedDir)
}

func (w *Watcher) move(path, sub string) bool {
	base := filepath.Base(path)
	target := filepath.Join(w.dir, sub, base)
	if _, err := os.Stat(target); err == nil {
		stem := strings.TrimSuffix(base, documentExt)
		target = filepath.Join(w.dir, sub, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), documentExt))
	}
	if err := os.Rename(path, target); err != nil {
		logging.WarnWithContext(w.logger, "inbox file move failed", "inbox_move_failed",
			logging.String("path", path),
			logging.String("target", target),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file is ingested again on the next rescan; its items are deduplicated"),
		)
		return false
	}
	return true
}

func isDocument(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, documentExt) && !strings.HasPrefix(base, ".")
}
