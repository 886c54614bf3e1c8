package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the declarative logger configuration.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "stderr" (default), "stdout", "null", or a file path.
	Output string `yaml:"output"`
	// NoColor disables ANSI colors in the text format.
	NoColor bool `yaml:"noColor"`
}

// ParseLevel converts a textual level into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. A nil cfg yields the defaults.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = FormatText
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLogger(
		WithLevel(level),
		WithFormat(format),
		WithOutput(out),
		WithColor(!cfg.NoColor && isTerminal(out)),
	), nil
}

func openOutput(name string) (io.Writer, error) {
	switch name {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "null":
		return io.Discard, nil
	default:
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		return f, nil
	}
}

func newHandler(o loggerOptions, lv slog.Leveler) slog.Handler {
	if o.format == FormatJSON {
		return slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: lv})
	}
	return tint.NewHandler(o.out, &tint.Options{
		Level:      lv,
		TimeFormat: time.RFC3339Nano,
		NoColor:    !o.color,
	})
}

func stderr() io.Writer { return os.Stderr }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
