// Package handler defines the job handler contract. Handlers may run more
// than once for the same event and must tolerate it.
package handler

import (
	"context"
	"time"

	"github.com/rzbill/eventpipe/internal/event"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// Handler processes one event. A returned error is a processing failure
// and is retried according to the job's policy.
type Handler interface {
	Process(ctx context.Context, e event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e event.Event) error

func (f HandlerFunc) Process(ctx context.Context, e event.Event) error { return f(ctx, e) }

// Simulated logs the event and waits for a fixed amount of work time.
type Simulated struct {
	work   time.Duration
	logger logpkg.Logger
}

// NewSimulated returns a handler that takes work to process each event.
func NewSimulated(work time.Duration, logger logpkg.Logger) *Simulated {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Simulated{work: work, logger: logger.WithComponent("handler")}
}

func (h *Simulated) Process(ctx context.Context, e event.Event) error {
	h.logger.Info("Processing event", logpkg.Str("eventId", e.ID), logpkg.Str("type", e.Type))
	if h.work > 0 {
		t := time.NewTimer(h.work)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.logger.Info("Event processed successfully", logpkg.Str("eventId", e.ID))
	return nil
}
