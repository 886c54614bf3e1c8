package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/eventpipe/internal/retry"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	return db
}

func openTestQueue(t *testing.T) (*JobQueue, *fakeClock) {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	clk := newFakeClock()
	q, err := Open(db, "jobs", WithClock(clk.Now))
	require.NoError(t, err)
	return q, clk
}

func mustClaim(t *testing.T, q *JobQueue, lease time.Duration) Job {
	t.Helper()
	j, ok, err := q.Claim(context.Background(), lease)
	require.NoError(t, err)
	require.True(t, ok, "expected a claimable job")
	return j
}

func assertNothingDue(t *testing.T, q *JobQueue) {
	t.Helper()
	_, ok, err := q.Claim(context.Background(), time.Second)
	require.NoError(t, err)
	require.False(t, ok, "expected no claimable job")
}

func TestSubmitIsIdempotent(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	created, err := q.Submit(ctx, "e1", []byte("p1"), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.Submit(ctx, "e1", []byte("p2"), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, created)

	j, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []byte("p1"), j.Payload, "duplicate must not overwrite")
	assert.Equal(t, StateWaiting, j.State)
}

func TestConcurrentSubmitCreatesOneJob(t *testing.T) {
	q, _ := openTestQueue(t)
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.Submit(context.Background(), "dup", []byte("x"), DefaultOptions())
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())

	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Waiting)
}

func TestClaimOrderAndAckRemoves(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := q.Submit(ctx, fmt.Sprintf("e%d", i), nil, DefaultOptions())
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		j := mustClaim(t, q, time.Minute)
		assert.Equal(t, fmt.Sprintf("e%d", i), j.ID)
		assert.Equal(t, StateActive, j.State)
		assert.Equal(t, 1, j.Attempts)
		assert.NotEmpty(t, j.LeaseToken)
		require.NoError(t, q.Ack(ctx, j.ID, j.LeaseToken))
		_, err := q.Get(ctx, j.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assertNothingDue(t, q)

	// A removed job may be safely re-created.
	created, err := q.Submit(ctx, "e0", nil, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAckRetainsWhenConfigured(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	opts := DefaultOptions()
	opts.RemoveOnComplete = false
	_, err := q.Submit(ctx, "keep", nil, opts)
	require.NoError(t, err)

	j := mustClaim(t, q, time.Minute)
	require.NoError(t, q.Ack(ctx, j.ID, j.LeaseToken))

	got, err := q.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.False(t, got.FinishedAt.IsZero())

	created, err := q.Submit(ctx, "keep", nil, opts)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNackRetryWaitsForDelay(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Submit(ctx, "e1", nil, DefaultOptions())
	require.NoError(t, err)

	j := mustClaim(t, q, time.Minute)
	got, err := q.Nack(ctx, j.ID, j.LeaseToken, "boom", retry.Decision{Retry: true, Delay: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, StateRetrying, got.State)
	assert.Equal(t, "boom", got.LastError)
	assert.Equal(t, clk.Now().Add(2*time.Second), got.ReadyAt)

	clk.Advance(1999 * time.Millisecond)
	assertNothingDue(t, q)

	clk.Advance(time.Millisecond)
	j2 := mustClaim(t, q, time.Minute)
	assert.Equal(t, "e1", j2.ID)
	assert.Equal(t, 2, j2.Attempts)
	assert.Equal(t, "boom", j2.LastError)
}

func TestNackTerminalRetainsAndRequeue(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Submit(ctx, "e1", []byte("p"), DefaultOptions())
	require.NoError(t, err)

	j := mustClaim(t, q, time.Minute)
	got, err := q.Nack(ctx, j.ID, j.LeaseToken, "fatal", retry.Terminal())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assertNothingDue(t, q)

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e1", failed[0].ID)
	assert.Equal(t, "fatal", failed[0].LastError)
	assert.Equal(t, []byte("p"), failed[0].Payload)

	created, err := q.Submit(ctx, "e1", nil, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, created, "terminal job still owns its id")

	require.NoError(t, q.Requeue(ctx, "e1"))
	failed, err = q.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	j2 := mustClaim(t, q, time.Minute)
	assert.Equal(t, 1, j2.Attempts)

	assert.ErrorIs(t, q.Requeue(ctx, "e1"), ErrInvalidState)
	assert.ErrorIs(t, q.Requeue(ctx, "missing"), ErrNotFound)
}

func TestNackTerminalRemoveOnFail(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	opts := DefaultOptions()
	opts.RemoveOnFail = true
	_, err := q.Submit(ctx, "e1", nil, opts)
	require.NoError(t, err)

	j := mustClaim(t, q, time.Minute)
	_, err = q.Nack(ctx, j.ID, j.LeaseToken, "fatal", retry.Terminal())
	require.NoError(t, err)
	_, err = q.Get(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleTokenIsRejected(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Submit(ctx, "e1", nil, DefaultOptions())
	require.NoError(t, err)
	j := mustClaim(t, q, time.Minute)

	assert.ErrorIs(t, q.Ack(ctx, j.ID, "not-the-token"), ErrLeaseLost)
	_, err = q.Nack(ctx, j.ID, "not-the-token", "x", retry.Terminal())
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.ErrorIs(t, q.Ack(ctx, "missing", j.LeaseToken), ErrNotFound)
}

func TestReclaimExpiredLease(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Submit(ctx, "e1", nil, DefaultOptions())
	require.NoError(t, err)
	j := mustClaim(t, q, time.Second)

	n, err := q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "lease not yet expired")

	clk.Advance(2 * time.Second)
	n, err = q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.ErrorIs(t, q.Ack(ctx, j.ID, j.LeaseToken), ErrLeaseLost)

	j2 := mustClaim(t, q, time.Second)
	assert.Equal(t, 2, j2.Attempts)
	assert.NotEqual(t, j.LeaseToken, j2.LeaseToken)
}

func TestReclaimOnFinalAttemptFails(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Retry.MaxAttempts = 1
	_, err := q.Submit(ctx, "e1", []byte("p"), opts)
	require.NoError(t, err)
	j := mustClaim(t, q, time.Second)

	clk.Advance(2 * time.Second)
	n, err := q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertNothingDue(t, q)

	got, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, LeaseExpiredCause, got.LastError)
	assert.ErrorIs(t, q.Ack(ctx, j.ID, j.LeaseToken), ErrLeaseLost)

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e1", failed[0].ID)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, st)
}

func TestReclaimOnFinalAttemptRemoveOnFail(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Retry.MaxAttempts = 1
	opts.RemoveOnFail = true
	_, err := q.Submit(ctx, "e1", nil, opts)
	require.NoError(t, err)
	mustClaim(t, q, time.Second)

	clk.Advance(2 * time.Second)
	n, err := q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = q.Get(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	assertNothingDue(t, q)
}

func TestListFailedInFailureOrder(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	for _, id := range []string{"a", "z"} {
		_, err := q.Submit(ctx, id, nil, DefaultOptions())
		require.NoError(t, err)
	}
	a := mustClaim(t, q, time.Minute)
	z := mustClaim(t, q, time.Minute)

	// Both fail within the same millisecond of the frozen clock.
	_, err := q.Nack(ctx, z.ID, z.LeaseToken, "first", retry.Terminal())
	require.NoError(t, err)
	_, err = q.Nack(ctx, a.ID, a.LeaseToken, "second", retry.Terminal())
	require.NoError(t, err)

	failed, err := q.ListFailed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "z", failed[0].ID)
	assert.Equal(t, "a", failed[1].ID)
}

func TestExtendKeepsJobActive(t *testing.T) {
	q, clk := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Submit(ctx, "e1", nil, DefaultOptions())
	require.NoError(t, err)
	j := mustClaim(t, q, time.Second)

	clk.Advance(900 * time.Millisecond)
	require.NoError(t, q.Extend(ctx, j.ID, j.LeaseToken, time.Second))
	clk.Advance(900 * time.Millisecond)

	n, err := q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, q.Ack(ctx, j.ID, j.LeaseToken))
}

func TestActiveJobSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	clk := newFakeClock()
	ctx := context.Background()

	db := openTestDB(t, dir)
	q, err := Open(db, "jobs", WithClock(clk.Now))
	require.NoError(t, err)
	_, err = q.Submit(ctx, "e1", []byte("p"), DefaultOptions())
	require.NoError(t, err)
	mustClaim(t, q, 5*time.Second)
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	t.Cleanup(func() { _ = db.Close() })
	q, err = Open(db, "jobs", WithClock(clk.Now))
	require.NoError(t, err)

	got, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)

	clk.Advance(6 * time.Second)
	n, err := q.ReclaimExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	j := mustClaim(t, q, time.Second)
	assert.Equal(t, "e1", j.ID)
	assert.Equal(t, []byte("p"), j.Payload)
}

func TestStatsCountsStates(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Submit(ctx, id, nil, DefaultOptions())
		require.NoError(t, err)
	}
	j := mustClaim(t, q, time.Minute)
	_, err := q.Nack(ctx, j.ID, j.LeaseToken, "x", retry.Terminal())
	require.NoError(t, err)
	mustClaim(t, q, time.Minute)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1, Active: 1, Failed: 1}, st)
	require.NoError(t, q.Ping(ctx))
}
