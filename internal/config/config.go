package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and spool location configuration.
type Paths struct {
	SpoolDir string `toml:"spool_dir"`
	// SpoolDSN overrides SpoolDir when set (file:///path or sqlite:///path).
	SpoolDSN string `toml:"spool_dsn"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	InboxDir string `toml:"inbox_dir"`
}

// Queue contains the retry, pacing, and reclamation policy of the export queue.
type Queue struct {
	MaxSpoolBytes          int64 `toml:"max_spool_bytes"`
	MaxAgeHours            int   `toml:"max_age_hours"`
	FlushIntervalSeconds   int   `toml:"flush_interval_seconds"`
	MaxRetries             int   `toml:"max_retries"`
	RetryBaseDelayMillis   int   `toml:"retry_base_delay_ms"`
	DeliveryTimeoutSeconds int   `toml:"delivery_timeout_seconds"`
	TrackerCapacity        int   `toml:"tracker_capacity"`
	EnforceBackoff         bool  `toml:"enforce_backoff"`
}

// Delivery selects and configures the remote sink.
type Delivery struct {
	Kind                  string `toml:"kind"`
	Endpoint              string `toml:"endpoint"`
	APIKey                string `toml:"api_key"`
	Gzip                  bool   `toml:"gzip"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Redis contains settings for the redis stream sink.
type Redis struct {
	Addr   string `toml:"addr"`
	Stream string `toml:"stream"`
}

// Notifications configures ntfy alerts for dead-lettered items and failing
// flushes. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tracespool.
//
// Configuration sections by subsystem:
//   - Paths: spool, state, log, and inbox directories
//   - Queue: flush pacing, retry budget, and spool size/age limits
//   - Delivery: remote sink selection and credentials
//   - Redis: redis stream sink settings
//   - Notifications: ntfy alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Delivery      Delivery      `toml:"delivery"`
	Redis         Redis         `toml:"redis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tracespool/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tracespool.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The spool directory is only created for the file backend; the sqlite
// backend creates its parent directory on open.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if strings.TrimSpace(c.Paths.SpoolDSN) == "" {
		dirs = append(dirs, c.Paths.SpoolDir)
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		dirs = append(dirs, c.Paths.InboxDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SpoolLocation returns the DSN used to open the spool. A bare directory path
// selects the file backend.
func (c *Config) SpoolLocation() string {
	if dsn := strings.TrimSpace(c.Paths.SpoolDSN); dsn != "" {
		return dsn
	}
	return c.Paths.SpoolDir
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tracespool.lock")
}

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "tracespool.pid")
}

// SocketPath returns the daemon IPC socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "tracespool.sock")
}

// DescribeSink renders the configured sink for status output.
func (c *Config) DescribeSink() string {
	switch c.Delivery.Kind {
	case DeliveryHTTP:
		return "http " + c.Delivery.Endpoint
	case DeliveryRedis:
		return "redis " + c.Redis.Addr + " stream " + c.Redis.Stream
	default:
		return c.Delivery.Kind
	}
}

// MaxAge returns the maximum age of a spooled item before cleanup reclaims it.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Queue.MaxAgeHours) * time.Hour
}

// FlushInterval returns the periodic flush interval, never below one second.
func (c *Config) FlushInterval() time.Duration {
	seconds := c.Queue.FlushIntervalSeconds
	if seconds < minFlushIntervalSeconds {
		seconds = minFlushIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// RetryBaseDelay returns the base delay of the exponential backoff formula.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Queue.RetryBaseDelayMillis) * time.Millisecond
}

// DeliveryTimeout returns the per-item delivery deadline.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Queue.DeliveryTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP client timeout for the http sink.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Delivery.RequestTimeoutSeconds) * time.Second
}

// NotifyTimeout returns the ntfy client timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
