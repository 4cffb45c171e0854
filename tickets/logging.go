package tickets

import (
	"io"
	"log/slog"
	"strings"
)

// Level is the recipe's logging verbosity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// slogLevelCritical sits above slog.LevelError; slog has no built-in critical.
const slogLevelCritical = slog.Level(12)

var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

// ParseLevel accepts DEBUG, INFO, WARNING, ERROR or CRITICAL in any case.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelInfo, &ConfigError{Key: "loggingLevel", Reason: "unsupported level " + s}
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "UNKNOWN"
}

// SlogLevel maps the recipe level onto slog.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slogLevelCritical
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a text logger that filters below level and prints
// WARNING and CRITICAL by their recipe names.
func NewLogger(w io.Writer, level Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.SlogLevel(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) > 0 {
				return a
			}
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			switch {
			case lvl >= slogLevelCritical:
				a.Value = slog.StringValue("CRITICAL")
			case lvl >= slog.LevelError:
				a.Value = slog.StringValue("ERROR")
			case lvl >= slog.LevelWarn:
				a.Value = slog.StringValue("WARNING")
			}
			return a
		},
	})
	return slog.New(handler)
}

// SetupLogging installs the configured level as the process default. It must
// run before the first HTTP call so retry diagnostics are not lost.
func SetupLogging(w io.Writer, level Level) *slog.Logger {
	logger := NewLogger(w, level)
	slog.SetDefault(logger)
	return logger
}

// WithComponent returns a logger with a component field for categorizing log messages.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
