package log

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is the logging interface handed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always carries fields.
	With(fields ...Field) Logger
	// WithComponent tags logs with a component name.
	WithComponent(component string) Logger
	// WithError attaches err under the "error" key.
	WithError(err error) Logger

	// SetLevel sets the minimum log level. The level is shared with every
	// logger derived from the same root.
	SetLevel(level Level)
	GetLevel() Level
}

// BaseLogger implements Logger on top of a slog handler.
type BaseLogger struct {
	level *levelVar
	sl    *slog.Logger
}

// levelVar pairs the facade level with the slog.LevelVar gating the handler.
type levelVar struct {
	cur atomic.Int32
	lv  slog.LevelVar
}

func (v *levelVar) set(l Level) {
	v.cur.Store(int32(l))
	v.lv.Set(l.slog())
}

func (v *levelVar) get() Level { return Level(v.cur.Load()) }

// LoggerOption configures a logger built by NewLogger.
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	level  Level
	format string
	out    io.Writer
	color  bool
}

// WithLevel sets the minimum level.
func WithLevel(l Level) LoggerOption { return func(o *loggerOptions) { o.level = l } }

// WithFormat selects "text" or "json".
func WithFormat(format string) LoggerOption { return func(o *loggerOptions) { o.format = format } }

// WithOutput sets the destination writer.
func WithOutput(w io.Writer) LoggerOption { return func(o *loggerOptions) { o.out = w } }

// WithColor toggles ANSI colors in the text format.
func WithColor(enabled bool) LoggerOption { return func(o *loggerOptions) { o.color = enabled } }

// NewLogger builds a logger. Defaults: info level, text format, stderr.
func NewLogger(opts ...LoggerOption) Logger {
	o := loggerOptions{level: InfoLevel, format: FormatText, out: stderr()}
	for _, fn := range opts {
		fn(&o)
	}
	lv := &levelVar{}
	lv.set(o.level)
	return &BaseLogger{level: lv, sl: slog.New(newHandler(o, &lv.lv))}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(ErrorLevel))
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if !l.sl.Enabled(context.Background(), level.slog()) {
		return
	}
	l.sl.LogAttrs(context.Background(), level.slog(), msg, attrs(fields)...)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &BaseLogger{level: l.level, sl: l.sl.With(args...)}
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) WithError(err error) Logger { return l.With(Err(err)) }

func (l *BaseLogger) SetLevel(level Level) { l.level.set(level) }

func (l *BaseLogger) GetLevel() Level { return l.level.get() }

// Slog exposes the underlying slog logger of a facade logger, or slog.Default
// for foreign implementations.
func Slog(l Logger) *slog.Logger {
	if bl, ok := l.(*BaseLogger); ok {
		return bl.sl
	}
	return slog.Default()
}
