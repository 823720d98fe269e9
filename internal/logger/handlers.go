package logger

import (
	"io"
	"log/slog"
	"time"
)

// newTextHandler writes human-readable lines. Timestamps are omitted because
// journald and container runtimes add their own.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return replaceAttr(groups, a, tz)
		},
	})
}

func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return replaceAttr(groups, a, time.UTC)
		},
	})
}

// replaceAttr names the trace level, normalizes times and redacts secrets.
func replaceAttr(_ []string, a slog.Attr, tz *time.Location) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if IsSensitiveKey(a.Key) && a.Value.String() != "" {
			return slog.String(a.Key, "[REDACTED]")
		}
		return slog.String(a.Key, RedactSensitiveData(a.Value.String()))
	case slog.KindTime:
		return slog.String(a.Key, a.Value.Time().In(tz).Format(time.RFC3339))
	}
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
			return slog.String(a.Key, "TRACE")
		}
	}
	return a
}
