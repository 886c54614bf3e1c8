package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/eventpipe/internal/event"
	"github.com/rzbill/eventpipe/internal/handler"
	"github.com/rzbill/eventpipe/internal/observe"
	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/retry"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
)

func openStore(t *testing.T) *queue.JobQueue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	q, err := queue.Open(db, "jobs")
	require.NoError(t, err)
	return q
}

func submit(t *testing.T, s queue.Store, id string, opts queue.Options) {
	t.Helper()
	payload, err := event.EncodeEnvelope(event.Envelope{
		Event: event.Event{ID: id, Timestamp: 1700000000, Type: "order.created", Payload: []byte(`{}`)},
		Topic: "t",
	})
	require.NoError(t, err)
	created, err := s.Submit(context.Background(), id, payload, opts)
	require.NoError(t, err)
	require.True(t, created)
}

func fastConfig(c int) Config {
	return Config{
		Concurrency:     c,
		PollInterval:    2 * time.Millisecond,
		Lease:           time.Second,
		ReclaimInterval: 10 * time.Millisecond,
		DrainTimeout:    2 * time.Second,
		BackendRetry:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Kind: retry.KindFixed},
	}
}

// start runs the engine in the background; stop cancels it and returns
// Run's result.
func start(t *testing.T, e *Engine) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	var once sync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-errc:
			case <-time.After(10 * time.Second):
				t.Fatal("engine did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestConcurrencyCeiling(t *testing.T) {
	q := openStore(t)
	for i := 0; i < 12; i++ {
		submit(t, q, fmt.Sprintf("e%d", i), queue.DefaultOptions())
	}

	var cur, peak atomic.Int32
	h := handler.HandlerFunc(func(ctx context.Context, _ event.Event) error {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		cur.Add(-1)
		return nil
	})
	rec := observe.NewRecorder()
	e := New(fastConfig(3), q, h, rec, nil)
	stop := start(t, e)

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobCompleted, 12)))
	require.NoError(t, stop())
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, e.Active())

	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, st, "completed jobs are removed by default")
}

func TestFailingJobRetriesWithBackoffThenFails(t *testing.T) {
	q := openStore(t)
	opts := queue.DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 40 * time.Millisecond, Kind: retry.KindExponential}
	submit(t, q, "e1", opts)

	var (
		mu    sync.Mutex
		times []time.Time
	)
	h := handler.HandlerFunc(func(context.Context, event.Event) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return errors.New("downstream unavailable")
	})
	rec := observe.NewRecorder()
	stop := start(t, New(fastConfig(2), q, h, rec, nil))

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobFailed, 1)))
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	// Due times are stored at millisecond resolution.
	const tolerance = 2 * time.Millisecond
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 40*time.Millisecond-tolerance)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 80*time.Millisecond-tolerance)

	retries := rec.Kinds(observe.JobRetryScheduled)
	require.Len(t, retries, 2)
	assert.Equal(t, int64(40), retries[0].Fields["delayMs"])
	assert.Equal(t, int64(80), retries[1].Fields["delayMs"])

	failed := rec.Kinds(observe.JobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "e1", failed[0].Fields["jobId"])
	assert.Equal(t, 3, failed[0].Fields["attempt"])
	assert.Equal(t, "downstream unavailable", failed[0].Fields["error"])

	j, err := q.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, j.State)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, "downstream unavailable", j.LastError)
}

func TestRecoversAfterTransientFailure(t *testing.T) {
	q := openStore(t)
	opts := queue.DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, Kind: retry.KindFixed}
	submit(t, q, "e1", opts)

	var calls atomic.Int32
	h := handler.HandlerFunc(func(context.Context, event.Event) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky")
		}
		return nil
	})
	rec := observe.NewRecorder()
	stop := start(t, New(fastConfig(1), q, h, rec, nil))

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobCompleted, 1)))
	require.NoError(t, stop())
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, rec.Kinds(observe.JobFailed))
	assert.Equal(t, 2, rec.Kinds(observe.JobCompleted)[0].Fields["attempt"])
}

func TestHandlerPanicIsRetried(t *testing.T) {
	q := openStore(t)
	opts := queue.DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: 5 * time.Millisecond, Kind: retry.KindFixed}
	submit(t, q, "e1", opts)

	h := handler.HandlerFunc(func(context.Context, event.Event) error { panic("nil map") })
	rec := observe.NewRecorder()
	stop := start(t, New(fastConfig(1), q, h, rec, nil))

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobFailed, 1)))
	require.NoError(t, stop())
	require.Len(t, rec.Kinds(observe.JobRetryScheduled), 1)
	assert.Contains(t, rec.Kinds(observe.JobFailed)[0].Fields["error"], "handler panic: nil map")
}

func TestUndecodablePayloadFailsImmediately(t *testing.T) {
	q := openStore(t)
	_, err := q.Submit(context.Background(), "bad", []byte("garbage"), queue.DefaultOptions())
	require.NoError(t, err)

	var calls atomic.Int32
	h := handler.HandlerFunc(func(context.Context, event.Event) error { calls.Add(1); return nil })
	rec := observe.NewRecorder()
	stop := start(t, New(fastConfig(1), q, h, rec, nil))

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobFailed, 1)))
	require.NoError(t, stop())
	assert.Zero(t, calls.Load())
	assert.Empty(t, rec.Kinds(observe.JobStarted))

	j, err := q.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, queue.StateFailed, j.State)
}

func TestCrashedClaimIsReclaimed(t *testing.T) {
	q := openStore(t)
	submit(t, q, "e1", queue.DefaultOptions())

	// A previous engine claimed the job and died without acking.
	orphan, ok, err := q.Claim(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	var calls atomic.Int32
	h := handler.HandlerFunc(func(context.Context, event.Event) error { calls.Add(1); return nil })
	rec := observe.NewRecorder()
	stop := start(t, New(fastConfig(1), q, h, rec, nil))

	require.True(t, rec.WaitFor(5*time.Second, observe.Count(observe.JobCompleted, 1)))
	require.NoError(t, stop())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, rec.Kinds(observe.JobCompleted)[0].Fields["attempt"])
	assert.ErrorIs(t, q.Ack(context.Background(), "e1", orphan.LeaseToken), queue.ErrNotFound)
}

func TestShutdownDrainsInFlight(t *testing.T) {
	q := openStore(t)
	submit(t, q, "e1", queue.DefaultOptions())

	started := make(chan struct{})
	release := make(chan struct{})
	h := handler.HandlerFunc(func(context.Context, event.Event) error {
		close(started)
		<-release
		return nil
	})
	rec := observe.NewRecorder()
	e := New(fastConfig(1), q, h, rec, nil)
	stop := start(t, e)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()
	select {
	case <-stopped:
		t.Fatal("Run returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	assert.Len(t, rec.Kinds(observe.JobCompleted), 1)
}

func TestDrainTimeoutAbandonsJob(t *testing.T) {
	q := openStore(t)
	submit(t, q, "e1", queue.DefaultOptions())

	started := make(chan struct{})
	h := handler.HandlerFunc(func(ctx context.Context, _ event.Event) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := fastConfig(1)
	cfg.DrainTimeout = 30 * time.Millisecond
	rec := observe.NewRecorder()
	stop := start(t, New(cfg, q, h, rec, nil))
	<-started
	require.NoError(t, stop())

	assert.Empty(t, rec.Kinds(observe.JobFailed))
	assert.Empty(t, rec.Kinds(observe.JobRetryScheduled))
	j, err := q.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateActive, j.State, "abandoned job stays leased until expiry")
}

type brokenStore struct{ queue.Store }

func (brokenStore) Claim(context.Context, time.Duration) (queue.Job, bool, error) {
	return queue.Job{}, false, fmt.Errorf("claim: %w", queue.ErrBackendUnavailable)
}

func (brokenStore) ReclaimExpired(context.Context, int) (int, error) { return 0, nil }

func TestPersistentClaimFailureStopsEngine(t *testing.T) {
	e := New(fastConfig(1), brokenStore{}, handler.HandlerFunc(func(context.Context, event.Event) error { return nil }), nil, nil)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, queue.ErrBackendUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after claim retries were exhausted")
	}
}

func TestCrashOnFinalAttemptFailsJob(t *testing.T) {
	q := openStore(t)
	opts := queue.DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Kind: retry.KindFixed}
	submit(t, q, "e1", opts)

	_, ok, err := q.Claim(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	var calls atomic.Int32
	h := handler.HandlerFunc(func(context.Context, event.Event) error { calls.Add(1); return nil })
	stop := start(t, New(fastConfig(1), q, h, observe.NewRecorder(), nil))

	require.Eventually(t, func() bool {
		j, err := q.Get(context.Background(), "e1")
		return err == nil && j.State == queue.StateFailed
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
	assert.Zero(t, calls.Load(), "a job past its last attempt is never handed out again")

	j, err := q.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, queue.LeaseExpiredCause, j.LastError)
}
