// Package worklog is the background-process logger used by the worker and
// scheduler (task claim/complete/fail, cron firings). It is deliberately a
// separate sink from internal/platform/logging's logrus-based request
// logger: task log lines are high-volume and structured-by-default, and
// mixing them into the session log stream would make both harder to grep.
package worklog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for a background process named component
// (e.g. "worker", "scheduler").
func New(component, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
