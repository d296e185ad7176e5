package preflight

import (
	"context"

	"tracespool/internal/config"
	"tracespool/internal/spool"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	spoolDir := cfg.Paths.SpoolDir
	if loc, err := spool.ParseLocation(cfg.SpoolLocation()); err == nil {
		spoolDir = loc.Dir()
	}

	results := []Result{
		CheckDirectoryAccess("Spool directory", spoolDir),
		CheckDiskSpace("Spool free space", spoolDir, uint64(cfg.Queue.MaxSpoolBytes)),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Paths.InboxDir != "" {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}
	results = append(results, CheckSink(ctx, cfg))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
