package log

import (
	stdlog "log"
	"log/slog"
)

// ToStdLogger adapts l to a *log.Logger writing at the given level.
func ToStdLogger(l Logger, level Level) *stdlog.Logger {
	return slog.NewLogLogger(Slog(l).Handler(), level.slog())
}

// RedirectStdLog routes the standard library's default logger through l at
// info level and returns a func that restores the previous writer.
func RedirectStdLog(l Logger) func() {
	prevFlags := stdlog.Flags()
	prevPrefix := stdlog.Prefix()
	prevOut := stdlog.Writer()
	std := ToStdLogger(l, InfoLevel)
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(std.Writer())
	return func() {
		stdlog.SetFlags(prevFlags)
		stdlog.SetPrefix(prevPrefix)
		stdlog.SetOutput(prevOut)
	}
}
