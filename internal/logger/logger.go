// Package logger configures the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys never reach a log line with their value. Keys are compared
// lower-cased with separators removed.
var sensitiveKeys = map[string]struct{}{
	"password":        {},
	"newpassword":     {},
	"currentpassword": {},
	"token":           {},
	"accesstoken":     {},
	"refreshtoken":    {},
	"authorization":   {},
	"secret":          {},
	"jwtsecret":       {},
}

// New returns a JSON logger in production and the colored console logger
// everywhere else. Both redact credential-bearing attributes.
func New(w io.Writer, production bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level), ReplaceAttr: Redact}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(NewPrettyHandler(w, opts))
}

// Redact is a slog ReplaceAttr func that masks values of sensitive keys.
func Redact(_ []string, a slog.Attr) slog.Attr {
	if isSensitive(a.Key) && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSensitive(key string) bool {
	normalized := strings.NewReplacer("_", "", "-", "", ".", "").Replace(strings.ToLower(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
