package spool

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"tracespool/internal/config"
	"tracespool/internal/queue"
)

// Options bounds spool growth. Zero limits disable the matching cleanup pass.
type Options struct {
	MaxBytes int64
	MaxAge   time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// OptionsFromConfig maps configured limits onto Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		MaxBytes: cfg.Queue.MaxSpoolBytes,
		MaxAge:   cfg.MaxAge(),
		Logger:   logger,
	}
}

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Location is a parsed spool DSN.
type Location struct {
	Backend string
	Path    string
}

// Dir returns the directory that holds the spool's data.
func (l Location) Dir() string {
	if l.Backend == BackendSQLite {
		return filepath.Dir(l.Path)
	}
	return l.Path
}

// ParseLocation resolves dsn. A bare path or file:// URL selects the file
// backend; sqlite:// (or sqlite3://) selects SQLite.
func ParseLocation(dsn string) (Location, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Location{}, errors.New("spool location is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return Location{}, fmt.Errorf("parse spool location: %w", err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "":
		return Location{Backend: BackendFile, Path: dsn}, nil
	case "file":
		path, err := dsnPath(parsed)
		if err != nil {
			return Location{}, err
		}
		return Location{Backend: BackendFile, Path: path}, nil
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed)
		if err != nil {
			return Location{}, err
		}
		return Location{Backend: BackendSQLite, Path: path}, nil
	default:
		return Location{}, fmt.Errorf("unsupported spool scheme %q", scheme)
	}
}

// Open opens the backend selected by dsn.
func Open(dsn string, opts Options) (queue.Spool, error) {
	loc, err := ParseLocation(dsn)
	if err != nil {
		return nil, err
	}
	if loc.Backend == BackendSQLite {
		return OpenSQLite(loc.Path, opts)
	}
	return NewFileSpool(loc.Path, opts)
}

func dsnPath(parsed *url.URL) (string, error) {
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" {
		path = host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", fmt.Errorf("spool location %q has no path", parsed.String())
	}
	return path, nil
}
