// Package clusterkitlog installs a process-wide structured logger shared by
// the manager and worker binaries. Every record carries a "component" field
// (manager/worker) so a single aggregated log stream can be split back out
// per binary, and ClusterLogger further tags records with the cluster they
// concern — both clusterkit-specific (spec.md §3 clusters, §6.1 binaries)
// rather than teacher's single-binary, single-stream logging.
package clusterkitlog

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs a process-wide slog default logger, tagging every
// record with component (e.g. "manager", "worker") so log lines from the
// manager and its spawned children can be told apart once aggregated.
//
// Supported levels: debug, info, warn, error.
func Configure(level, component string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	logger := slog.New(h)
	if component != "" {
		logger = logger.With("component", component)
	}
	slog.SetDefault(logger)
	return nil
}

// ClusterLogger returns the default logger tagged with the given cluster id,
// for call sites that log on behalf of one cluster among several running in
// the same process (spec.md §4.6 — ModeWorker runs every cluster's child as
// a goroutine sharing this process's default logger).
func ClusterLogger(id int) *slog.Logger {
	return slog.Default().With("cluster", id)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
