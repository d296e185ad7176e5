package testsupport

import (
	"path/filepath"
	"testing"

	"tracespool/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Delivery defaults to the "none" sink so no test reaches the network unless
// it opts in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Delivery.Kind = config.DeliveryNone
	cfgVal.Queue.FlushIntervalSeconds = 1
	cfgVal.Queue.RetryBaseDelayMillis = 10
	cfgVal.Queue.DeliveryTimeoutSeconds = 5
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithSQLiteSpool stores the spool in a SQLite database under the temp dir.
func WithSQLiteSpool() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.SpoolDSN = "sqlite://" + filepath.Join(b.baseDir, "spool.db")
	}
}

// WithHTTPSink points the http sink at endpoint.
func WithHTTPSink(endpoint, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Delivery.Kind = config.DeliveryHTTP
		b.cfg.Delivery.Endpoint = endpoint
		b.cfg.Delivery.APIKey = apiKey
	}
}

// WithInbox enables the ingest watcher on a temp inbox directory.
func WithInbox() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.InboxDir = filepath.Join(b.baseDir, "inbox")
	}
}

// WithQueue applies fn to the queue section.
func WithQueue(fn func(*config.Queue)) ConfigOption {
	return func(b *configBuilder) {
		fn(&b.cfg.Queue)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SpoolDir)
}
