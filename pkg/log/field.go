package log

import (
	"log/slog"
	"time"
)

// Field is a single structured key/value attached to a log record.
type Field struct {
	Key   string
	Value any
}

// F builds a Field from any value.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

func Str(key, value string) Field { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err attaches an error under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags a record with the emitting component.
func Component(name string) Field { return Field{Key: "component", Value: name} }

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}
