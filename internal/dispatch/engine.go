package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rzbill/eventpipe/internal/handler"
	"github.com/rzbill/eventpipe/internal/observe"
	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/retry"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// ErrHandlerPanic wraps a panic raised by a handler.
var ErrHandlerPanic = errors.New("handler panic")

// Config tunes the Engine. Zero values take the defaults noted per field.
type Config struct {
	// Concurrency is the ceiling on Active jobs held by this engine (5).
	Concurrency int
	// PollInterval is the wait after finding nothing due (200ms).
	PollInterval time.Duration
	// Lease is the claim lease (30s).
	Lease time.Duration
	// HeartbeatInterval is how often running jobs extend their lease (Lease/3).
	HeartbeatInterval time.Duration
	// ReclaimInterval is how often expired leases are swept (5s).
	ReclaimInterval time.Duration
	// ReclaimBatch bounds one sweep (128).
	ReclaimBatch int
	// DrainTimeout bounds the wait for in-flight jobs on shutdown (30s).
	DrainTimeout time.Duration
	// BackendRetry governs consecutive claim failures before Run gives up
	// (5 attempts, 200ms doubling).
	BackendRetry retry.Policy
}

func (c *Config) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.Lease / 3
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 5 * time.Second
	}
	if c.ReclaimBatch <= 0 {
		c.ReclaimBatch = 128
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.BackendRetry == (retry.Policy{}) {
		c.BackendRetry = retry.Policy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, Kind: retry.KindExponential, MaxDelay: 5 * time.Second}
	}
}

// Engine runs queued jobs through a Handler.
type Engine struct {
	cfg     Config
	store   queue.Store
	handler handler.Handler
	sink    observe.Sink
	logger  logpkg.Logger

	sem    *semaphore.Weighted
	active atomic.Int64
	wg     sync.WaitGroup
}

// New returns an Engine. The store is borrowed; the caller closes it after
// Run returns.
func New(cfg Config, store queue.Store, h handler.Handler, sink observe.Sink, logger logpkg.Logger) *Engine {
	cfg.setDefaults()
	if sink == nil {
		sink = observe.Discard
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		handler: h,
		sink:    sink,
		logger:  logger.WithComponent("dispatch"),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Active returns the number of jobs currently executing.
func (e *Engine) Active() int { return int(e.active.Load()) }

// Run claims and executes jobs until ctx is cancelled, then drains. It
// returns an error only when the store keeps failing.
func (e *Engine) Run(ctx context.Context) error {
	jobCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		e.reclaimLoop(sweepCtx)
	}()

	e.logger.Info("Dispatch started",
		logpkg.Int("concurrency", e.cfg.Concurrency), logpkg.Dur("lease", e.cfg.Lease))
	err := e.claimLoop(ctx, jobCtx)
	stopSweep()
	if err != nil {
		e.logger.Error("Dispatch giving up", logpkg.Err(err))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	if n := e.Active(); n > 0 {
		e.logger.Info("Draining in-flight jobs", logpkg.Int("active", n), logpkg.Dur("timeout", e.cfg.DrainTimeout))
	}
	drain := time.NewTimer(e.cfg.DrainTimeout)
	defer drain.Stop()
	select {
	case <-done:
	case <-drain.C:
		e.logger.Warn("Drain timeout elapsed, abandoning in-flight jobs", logpkg.Int("active", e.Active()))
		abandon()
		<-done
	}
	sweeper.Wait()
	e.logger.Info("Dispatch stopped")
	return err
}

func (e *Engine) claimLoop(ctx, jobCtx context.Context) error {
	failures := 0
	for {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		job, ok, err := e.store.Claim(ctx, e.cfg.Lease)
		if err != nil {
			e.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			failures++
			d := e.cfg.BackendRetry.Next(failures)
			if !d.Retry {
				return fmt.Errorf("claim after %d attempts: %w", failures, err)
			}
			e.logger.Warn("Claim failed, retrying", logpkg.Int("attempt", failures), logpkg.Dur("delay", d.Delay), logpkg.Err(err))
			if !sleep(ctx, d.Delay) {
				return nil
			}
			continue
		}
		failures = 0
		if !ok {
			e.sem.Release(1)
			if !sleep(ctx, e.cfg.PollInterval) {
				return nil
			}
			continue
		}
		e.active.Add(1)
		e.wg.Add(1)
		go e.execute(jobCtx, job)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) reclaimLoop(ctx context.Context) {
	t := time.NewTicker(e.cfg.ReclaimInterval)
	defer t.Stop()
	for {
		n, err := e.store.ReclaimExpired(ctx, e.cfg.ReclaimBatch)
		switch {
		case err != nil && ctx.Err() == nil:
			e.logger.Warn("Reclaim failed", logpkg.Err(err))
		case n > 0:
			e.logger.Info("Reclaimed expired leases", logpkg.Int("jobs", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
