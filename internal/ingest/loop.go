package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/eventpipe/internal/enqueue"
	"github.com/rzbill/eventpipe/internal/event"
	"github.com/rzbill/eventpipe/internal/observe"
	"github.com/rzbill/eventpipe/internal/retry"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// ErrPartitionStalled is returned when a record could not be enqueued after
// every local retry.
var ErrPartitionStalled = errors.New("partition stalled")

// Stream yields the records of one partition in offset order.
type Stream interface {
	Next(ctx context.Context) (event.Record, error)
	Close() error
}

// Source is the consumer side of the log broker for one topic and group.
type Source interface {
	Partitions(ctx context.Context) ([]uint32, error)
	Subscribe(ctx context.Context, partition uint32) (Stream, error)
	Commit(ctx context.Context, partition uint32, offset uint64) error
}

// Validator gates raw records.
type Validator interface {
	Validate(raw []byte) (event.Event, error)
}

// Submitter is the enqueue gateway.
type Submitter interface {
	Submit(ctx context.Context, jobID string, payload []byte, opts ...enqueue.Option) (enqueue.Ack, error)
}

// DefaultEnqueueRetry bounds how long a partition waits on the queue before
// it stalls: five attempts, 200ms doubling up to 5s.
func DefaultEnqueueRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, Kind: retry.KindExponential, MaxDelay: 5 * time.Second}
}

// Config configures a Loop.
type Config struct {
	Topic      string
	Group      string
	ConsumerID string
	// EnqueueRetry is the local retry for submissions and commits.
	EnqueueRetry retry.Policy
	// Key derives job identity; defaults to event.DeriveKey.
	Key event.KeyFunc
}

// Loop is the ingestion loop.
type Loop struct {
	cfg       Config
	src       Source
	validator Validator
	submitter Submitter
	sink      observe.Sink
	logger    logpkg.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New returns a Loop. A zero EnqueueRetry gets DefaultEnqueueRetry.
func New(cfg Config, src Source, v Validator, s Submitter, sink observe.Sink, logger logpkg.Logger) (*Loop, error) {
	if cfg.EnqueueRetry == (retry.Policy{}) {
		cfg.EnqueueRetry = DefaultEnqueueRetry()
	}
	if err := cfg.EnqueueRetry.Validate(); err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}
	if cfg.Key == nil {
		cfg.Key = event.DeriveKey
	}
	if sink == nil {
		sink = observe.Discard
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Loop{
		cfg:       cfg,
		src:       src,
		validator: v,
		submitter: s,
		sink:      sink,
		logger:    logger.WithComponent("ingest").With(logpkg.Str("topic", cfg.Topic), logpkg.Str("group", cfg.Group)),
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes every partition until ctx is cancelled or a partition stalls.
// Cancellation is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	parts, err := l.src.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	streams := make([]Stream, 0, len(parts))
	defer func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}()
	for _, p := range parts {
		s, err := l.src.Subscribe(ctx, p)
		if err != nil {
			return fmt.Errorf("subscribe partition %d: %w", p, err)
		}
		streams = append(streams, s)
	}

	l.sink.Emit(observe.New(observe.ConsumerConnected, map[string]any{
		"topic":      l.cfg.Topic,
		"group":      l.cfg.Group,
		"consumer":   l.cfg.ConsumerID,
		"partitions": len(parts),
	}))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		g.Go(func() error { return l.consume(gctx, p, streams[i]) })
	}
	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	l.logger.Info("Consumer disconnected", logpkg.Str("consumer", l.cfg.ConsumerID))
	return err
}

func (l *Loop) consume(ctx context.Context, partition uint32, s Stream) error {
	for {
		rec, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("partition %d: %w", partition, err)
		}
		if err := l.handle(ctx, rec); err != nil {
			return err
		}
	}
}

// handle moves one record through validate, enqueue and commit.
func (l *Loop) handle(ctx context.Context, rec event.Record) error {
	ev, err := l.validator.Validate(rec.Value)
	if err != nil {
		l.reject(rec, err)
		return l.commit(ctx, rec)
	}
	payload, err := event.EncodeEnvelope(event.NewEnvelope(ev, rec))
	if err != nil {
		l.reject(rec, err)
		return l.commit(ctx, rec)
	}
	jobID := l.cfg.Key(ev)

	var ack enqueue.Ack
	err = l.retry(ctx, "enqueue", rec, func() error {
		var err error
		ack, err = l.submitter.Submit(ctx, jobID, payload)
		return err
	})
	if err != nil {
		return l.stall(ctx, rec, err)
	}
	l.sink.Emit(observe.New(observe.EventEnqueued, map[string]any{
		"eventId":   ev.ID,
		"type":      ev.Type,
		"jobId":     ack.JobID,
		"duplicate": !ack.Created,
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	}))
	return l.commit(ctx, rec)
}

func (l *Loop) reject(rec event.Record, err error) {
	l.sink.Emit(observe.New(observe.MessageProcessingFailed, map[string]any{
		"error":     err.Error(),
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	}))
}

// commit runs detached from cancellation so a confirmed enqueue is not
// redelivered just because shutdown began.
func (l *Loop) commit(ctx context.Context, rec event.Record) error {
	cctx := context.WithoutCancel(ctx)
	err := l.retry(ctx, "commit", rec, func() error {
		return l.src.Commit(cctx, rec.Partition, rec.Offset)
	})
	if err != nil {
		return l.stall(ctx, rec, err)
	}
	return nil
}

func (l *Loop) stall(ctx context.Context, rec event.Record, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.sink.Emit(observe.New(observe.PartitionStalled, map[string]any{
		"error":     err.Error(),
		"topic":     rec.Topic,
		"partition": rec.Partition,
		"offset":    rec.Offset,
	}))
	return fmt.Errorf("%w: %s/%d@%d: %v", ErrPartitionStalled, rec.Topic, rec.Partition, rec.Offset, err)
}

// retry runs fn under the enqueue retry policy. It gives up early only when
// ctx is done.
func (l *Loop) retry(ctx context.Context, op string, rec event.Record, fn func() error) error {
	p := l.cfg.EnqueueRetry
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := p.Next(attempt)
		if !d.Retry {
			return err
		}
		l.logger.Warn("Retrying "+op,
			logpkg.Uint64("partition", uint64(rec.Partition)), logpkg.Uint64("offset", rec.Offset),
			logpkg.Int("attempt", attempt), logpkg.Dur("delay", d.Delay), logpkg.Err(err))
		if err := l.sleep(ctx, d.Delay); err != nil {
			return err
		}
	}
}
