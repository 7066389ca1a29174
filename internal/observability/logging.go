package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	// Unrecognized or empty values mean info.
	Level string

	// Output receives the JSON log stream. Defaults to stderr.
	Output io.Writer

	// RedactKeys are additional attribute-key substrings whose values are
	// masked, on top of the built-in set.
	RedactKeys []string
}

// redactedValue replaces any attribute value whose key looks sensitive.
const redactedValue = "[REDACTED]"

// defaultRedactKeySubstrings are matched case-insensitively against
// attribute keys. Values under matching keys never reach the log stream;
// secrets otherwise leak through error messages and dumped configs.
var defaultRedactKeySubstrings = []string{
	"apikey", "api_key", "token", "secret", "password", "credential",
}

// ParseLevel maps a config-file level string to a slog.Level, defaulting
// to info.
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

// NewLogger builds a JSON slog.Logger that masks sensitive attribute
// values. Component loggers derive from it with .With("component", name).
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	redact := make([]string, 0, len(defaultRedactKeySubstrings)+len(cfg.RedactKeys))
	redact = append(redact, defaultRedactKeySubstrings...)
	for _, k := range cfg.RedactKeys {
		redact = append(redact, strings.ToLower(k))
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			key := strings.ToLower(a.Key)
			for _, needle := range redact {
				if strings.Contains(key, needle) {
					return slog.String(a.Key, redactedValue)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}
