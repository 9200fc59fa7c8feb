// Package logging wraps logrus for the request/session path. Background
// worker processes use rs/zerolog instead (see internal/platform/worklog);
// the two are kept distinct so a structured per-task log line never gets
// mixed into the chat-session log stream.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/percolation-labs/p8k8/internal/platform/config"
)

// Logger wraps a logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from the process LoggingConfig.
func New(cfg config.LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

type ctxKey struct{}

// WithContext attaches tenant/session/user identifiers to a log entry
// derived from ctx so every line in a request's path carries them.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if v, ok := ctx.Value(ctxKey{}).(logrus.Fields); ok {
		for k, val := range v {
			fields[k] = val
		}
	}
	return l.Logger.WithFields(fields)
}

// ContextWithFields returns a context carrying fields that WithContext will
// surface on every subsequent log line derived from it.
func ContextWithFields(ctx context.Context, fields logrus.Fields) context.Context {
	existing, _ := ctx.Value(ctxKey{}).(logrus.Fields)
	merged := logrus.Fields{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, ctxKey{}, merged)
}
