// Package log provides eventpipe's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by log/slog: the text
// format renders through github.com/lmittmann/tint, the json format through
// slog.JSONHandler.
//
// Quick start
//
//	l, _ := log.ApplyConfig(&log.Config{Level: "info", Format: "text"})
//	l = l.With(log.Component("ingest"), log.Str("topic", "consume-event"))
//	l.Info("Consumer connected", log.Int("partitions", 3))
//
// Components receive their logger at construction time; library packages
// never reach for a process-wide default.
//
// # Interop
//
// RedirectStdLog routes the standard library "log" package through a facade
// logger, and Slog returns the underlying *slog.Logger for libraries that
// want one.
package log
