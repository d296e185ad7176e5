package testsupport

import (
	"testing"

	"tracespool/internal/config"
	"tracespool/internal/logging"
	"tracespool/internal/queue"
	"tracespool/internal/spool"
)

// MustOpenSpool opens the configured spool for tests and registers cleanup.
func MustOpenSpool(t testing.TB, cfg *config.Config) queue.Spool {
	t.Helper()

	s, err := spool.Open(cfg.SpoolLocation(), spool.OptionsFromConfig(cfg, logging.NewNop()))
	if err != nil {
		t.Fatalf("spool.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
