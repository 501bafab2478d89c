// Package lg provides the small log/slog wrapper every stateful
// component in this module embeds: a zero-value-safe Logger with the
// enabled/attrs/trace/debug/error accessor quartet, so a nil *slog.Logger
// never needs a guard at the call site.
package lg

import (
	"context"
	"log/slog"
)

// LevelTrace is a verbosity level below slog.LevelDebug, for per-packet
// tracing that would otherwise flood a Debug-level log.
const LevelTrace slog.Level = slog.LevelDebug - 4

// Logger wraps an optional *slog.Logger. The zero value discards
// everything, so components can embed a Logger by value and only callers
// who want output need call New.
type Logger struct {
	log *slog.Logger
}

// New wraps l. A nil l produces a Logger that discards everything.
func New(l *slog.Logger) Logger { return Logger{log: l} }

// enabled reports whether lvl would actually be emitted, letting a
// caller skip building attrs for a disabled level.
func (g Logger) enabled(lvl slog.Level) bool {
	return g.log != nil && g.log.Handler().Enabled(context.Background(), lvl)
}

func (g Logger) logAttrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	if g.log != nil {
		g.log.LogAttrs(context.Background(), lvl, msg, attrs...)
	}
}

// Trace logs at LevelTrace.
func (g Logger) Trace(msg string, attrs ...slog.Attr) {
	if g.enabled(LevelTrace) {
		g.logAttrs(LevelTrace, msg, attrs...)
	}
}

// Debug logs at slog.LevelDebug.
func (g Logger) Debug(msg string, attrs ...slog.Attr) {
	if g.enabled(slog.LevelDebug) {
		g.logAttrs(slog.LevelDebug, msg, attrs...)
	}
}

// Error logs at slog.LevelError.
func (g Logger) Error(msg string, attrs ...slog.Attr) {
	g.logAttrs(slog.LevelError, msg, attrs...)
}
