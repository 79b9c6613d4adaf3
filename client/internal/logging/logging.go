// Package logging configures the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init installs a tint handler on stderr as the default logger. Colors are
// only used on a terminal and timestamps are omitted under systemd
// (JOURNAL_STREAM), which adds its own.
func Init(level string) error {
	ll, err := ParseLevel(level)
	if err != nil {
		return err
	}
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	h := NewHandler(colorable.NewColorable(os.Stderr), ll, !isatty.IsTerminal(os.Stderr.Fd()), underSystemd)
	slog.SetDefault(slog.New(h))
	return nil
}

// NewHandler returns the tint handler used by Init writing to w.
// Zero-valued attributes are dropped to keep lines short.
func NewHandler(w io.Writer, level slog.Leveler, noColor, noTime bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				if noTime {
					return slog.Attr{}
				}
				return a
			}
			if isZero(a.Value) {
				return slog.Attr{}
			}
			return a
		},
	})
}

func isZero(v slog.Value) bool {
	switch t := v.Any().(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case uint64:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	case time.Duration:
		return t == 0
	case nil:
		return true
	}
	return false
}
