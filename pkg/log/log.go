// Package log provides ELARA's logging interface, a thin wrapper over
// log/slog. Every subsystem gets a component-tagged logger so a single
// session's log stream can be filtered by (wire, crypto, time, state,
// runtime) without a separate logging framework.
package log

import (
	"context"
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetDefault replaces the process-wide default logger.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
	slog.SetDefault(l)
}

// SetLevel rebuilds the default logger at the given level, writing to stderr.
func SetLevel(level slog.Level) {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(defaultLogger)
}

// ComponentLogger carries a component tag and always logs through the
// current default logger, so switching the default (e.g. in tests)
// retroactively affects loggers already handed out.
type ComponentLogger struct {
	component string
}

// Logger returns a logger tagged with component, e.g. "crypto.ratchet".
func Logger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

func (l *ComponentLogger) Debug(msg string, args ...any) {
	slog.Default().With("component", l.component).Debug(msg, args...)
}

func (l *ComponentLogger) Info(msg string, args ...any) {
	slog.Default().With("component", l.component).Info(msg, args...)
}

func (l *ComponentLogger) Warn(msg string, args ...any) {
	slog.Default().With("component", l.component).Warn(msg, args...)
}

func (l *ComponentLogger) Error(msg string, args ...any) {
	slog.Default().With("component", l.component).Error(msg, args...)
}

func (l *ComponentLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	slog.Default().With("component", l.component).DebugContext(ctx, msg, args...)
}

func (l *ComponentLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	slog.Default().With("component", l.component).InfoContext(ctx, msg, args...)
}

// With returns a standard slog.Logger with the component tag and the
// extra attributes attached, for call sites that want structured fields.
func (l *ComponentLogger) With(args ...any) *slog.Logger {
	return slog.Default().With("component", l.component).With(args...)
}

// TruncateID shortens a hex-encoded identifier for compact log lines.
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
