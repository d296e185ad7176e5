package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/daemon"
	"tracespool/internal/ipc"
	"tracespool/internal/logging"
	"tracespool/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the tracespool daemon and blocks until a signal or an IPC stop
// request arrives. Shutdown runs the final flush before the socket closes.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logger, logPath, err := logging.NewFromConfig(cfg, runID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if pruned := logging.PruneLogs(logger, cfg.Paths.LogDir, logging.RunLogPattern, cfg.Logging.RetentionDays, logPath); pruned > 0 {
		logger.Debug("pruned old run logs", logging.Int("count", pruned))
	}

	logPreflight(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, logger, daemon.Options{LogPath: logPath})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		_ = d.Close()
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		_ = d.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger, cancel)
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()

	logger.Info("tracespool daemon running",
		logging.String(logging.FieldEventType, "daemon_running"),
		logging.String("socket", cfg.SocketPath()),
		logging.String("spool", cfg.SpoolLocation()),
		logging.String("sink", cfg.DescribeSink()),
		logging.String("log_path", logPath),
	)

	<-signalCtx.Done()
	logger.Info("tracespool daemon shutting down")

	closeErr := d.Close()
	ipcServer.Close()
	if closeErr != nil {
		logging.ErrorWithContext(logger, "daemon shutdown incomplete", "daemon_shutdown_failed",
			logging.Error(closeErr),
			logging.String(logging.FieldImpact, "undelivered items stay in the spool for the next run"),
		)
	}
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	results := preflight.RunAll(checkCtx, cfg)
	failed := preflight.Failed(results)
	for _, result := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "items keep spooling but may not be delivered"),
			logging.String(logging.FieldErrorHint, "run `tracespool status` for details"),
		)
	}
	logger.Info("preflight snapshot",
		logging.String(logging.FieldEventType, "preflight_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
