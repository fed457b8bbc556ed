// Package logging builds the process-wide slog handler: JSON for log collectors,
// colorized text for a developer terminal.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Supported values for LOG_FORMAT.
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config selects the handler format and minimum level.
type Config struct {
	Format string // auto (default), json or pretty
	Level  string // debug, info (default), warn or error
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler returns a handler writing to w. In auto mode, pretty output is
// used only when w is a terminal.
func NewHandler(w io.Writer, cfg Config) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch format {
	case "", FormatAuto:
		if isTerminal(w) {
			format = FormatPretty
		} else {
			format = FormatJSON
		}
	case FormatJSON, FormatPretty:
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if format == FormatPretty {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		}), nil
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
}

// Setup installs a logger writing to stdout as the slog default.
func Setup(cfg Config) (*slog.Logger, error) {
	h, err := NewHandler(os.Stdout, cfg)
	if err != nil {
		return nil, err
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
