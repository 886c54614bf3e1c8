package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rzbill/eventpipe/internal/event"
	"github.com/rzbill/eventpipe/internal/observe"
	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/retry"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// execute owns one claimed job until it is acked, nacked or abandoned.
func (e *Engine) execute(ctx context.Context, job queue.Job) {
	defer func() {
		e.active.Add(-1)
		e.sem.Release(1)
		e.wg.Done()
	}()
	log := e.logger.With(logpkg.Str("jobId", job.ID), logpkg.Int("attempt", job.Attempts))

	env, err := event.DecodeEnvelope(job.Payload)
	if err != nil {
		e.settle(ctx, log, job, "", fmt.Errorf("undecodable payload: %w", err), retry.Terminal())
		return
	}
	e.sink.Emit(observe.New(observe.JobStarted, map[string]any{
		"jobId":   job.ID,
		"eventId": env.Event.ID,
		"type":    env.Event.Type,
		"attempt": job.Attempts,
	}))

	runCtx, cancelRun := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(runCtx, cancelRun, log, job)
	}()
	start := time.Now()
	err = e.invoke(runCtx, env.Event)
	leaseLost := runCtx.Err() != nil && ctx.Err() == nil
	cancelRun()
	<-hbDone

	switch {
	case ctx.Err() != nil:
		log.Warn("Job abandoned during shutdown; lease expiry will return it to the queue")
		return
	case leaseLost:
		log.Warn("Job lease lost while running; result discarded")
		return
	}

	if err == nil {
		if err := e.store.Ack(ctx, job.ID, job.LeaseToken); err != nil {
			log.Error("Ack failed; job will run again after lease expiry", logpkg.Err(err))
			return
		}
		e.sink.Emit(observe.New(observe.JobCompleted, map[string]any{
			"jobId":      job.ID,
			"attempt":    job.Attempts,
			"durationMs": time.Since(start).Milliseconds(),
		}))
		return
	}
	e.settle(ctx, log, job, env.Event.ID, err, job.Options.Retry.Next(job.Attempts))
}

// invoke runs the handler, converting a panic into an error.
func (e *Engine) invoke(ctx context.Context, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked", logpkg.Str("eventId", ev.ID), logpkg.F("panic", r), logpkg.Str("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return e.handler.Process(ctx, ev)
}

// heartbeat extends the lease until ctx ends. A lost lease cancels the run.
func (e *Engine) heartbeat(ctx context.Context, cancelRun context.CancelFunc, log logpkg.Logger, job queue.Job) {
	t := time.NewTicker(e.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := e.store.Extend(ctx, job.ID, job.LeaseToken, e.cfg.Lease)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrLeaseLost), errors.Is(err, queue.ErrNotFound):
			cancelRun()
			return
		case ctx.Err() == nil:
			log.Warn("Lease extension failed", logpkg.Err(err))
		}
	}
}

// settle records a failed attempt as a scheduled retry or a terminal failure.
func (e *Engine) settle(ctx context.Context, log logpkg.Logger, job queue.Job, eventID string, cause error, d retry.Decision) {
	if _, err := e.store.Nack(ctx, job.ID, job.LeaseToken, cause.Error(), d); err != nil {
		log.Error("Nack failed; job will run again after lease expiry", logpkg.Err(err), logpkg.Str("cause", cause.Error()))
		return
	}
	if d.Retry {
		e.sink.Emit(observe.New(observe.JobRetryScheduled, map[string]any{
			"jobId":   job.ID,
			"attempt": job.Attempts,
			"delayMs": d.Delay.Milliseconds(),
			"error":   cause.Error(),
		}))
		return
	}
	fields := map[string]any{
		"jobId":   job.ID,
		"attempt": job.Attempts,
		"error":   cause.Error(),
		"removed": job.Options.RemoveOnFail,
	}
	if eventID != "" {
		fields["eventId"] = eventID
	}
	e.sink.Emit(observe.New(observe.JobFailed, fields))
}
