package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/eventpipe/internal/retry"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
	"github.com/rzbill/eventpipe/pkg/id"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// JobQueue is the embedded Store backed by Pebble. All transitions run under
// one mutex and commit as a single batch, which makes Claim exclusive within
// the process that owns the database.
type JobQueue struct {
	db     *pebblestore.DB
	name   string
	now    func() time.Time
	ids    *id.Generator
	logger logpkg.Logger

	mu sync.Mutex
}

// Option configures a JobQueue.
type Option func(*JobQueue)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(q *JobQueue) { q.now = now } }

// WithLogger sets the queue logger.
func WithLogger(l logpkg.Logger) Option { return func(q *JobQueue) { q.logger = l } }

// Open returns the queue named name stored in db.
func Open(db *pebblestore.DB, name string, opts ...Option) (*JobQueue, error) {
	if name == "" {
		return nil, errors.New("queue: name is required")
	}
	q := &JobQueue{db: db, name: name, now: time.Now, logger: logpkg.NewNop()}
	for _, fn := range opts {
		fn(q)
	}
	q.ids = id.NewGeneratorWithClock(func() int64 { return q.now().UnixMilli() })
	return q, nil
}

// Name returns the queue name.
func (q *JobQueue) Name() string { return q.name }

// Close is a no-op; the database belongs to the caller.
func (q *JobQueue) Close() error { return nil }

// Ping checks that the database answers reads.
func (q *JobQueue) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := q.db.Has(JobKey(q.name, "")); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (q *JobQueue) load(jobID string) (storedJob, error) {
	b, err := q.db.Get(JobKey(q.name, jobID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return storedJob{}, ErrNotFound
	}
	if err != nil {
		return storedJob{}, unavailable("load job", err)
	}
	return decodeJob(b)
}

// write applies fn's mutations atomically.
func (q *JobQueue) write(ctx context.Context, op string, fn func(set func(k, v []byte) error, del func(k []byte) error) error) error {
	b := q.db.NewBatch()
	defer b.Close()
	set := func(k, v []byte) error { return b.Set(k, v, nil) }
	del := func(k []byte) error { return b.Delete(k, nil) }
	if err := fn(set, del); err != nil {
		return err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return unavailable(op, err)
	}
	return nil
}

func putJob(set func(k, v []byte) error, queue string, j storedJob) error {
	b, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return set(JobKey(queue, j.ID), b)
}

// schedule assigns j a fresh ready key due at readyAt.
func (q *JobQueue) schedule(set func(k, v []byte) error, j *storedJob, readyAt time.Time) error {
	key := q.ids.At(readyAt.UnixMilli())
	j.ReadyAt = readyAt
	j.ReadyKey = key.String()
	return set(ReadyKey(q.name, key, j.ID), []byte(j.ID))
}

func (q *JobQueue) unschedule(del func(k []byte) error, j *storedJob) error {
	if j.ReadyKey == "" {
		return nil
	}
	key, err := id.Parse(j.ReadyKey)
	j.ReadyKey = ""
	if err != nil {
		return nil
	}
	return del(ReadyKey(q.name, key, j.ID))
}

func (q *JobQueue) Submit(ctx context.Context, jobID string, payload []byte, opts Options) (bool, error) {
	if jobID == "" {
		return false, errors.New("queue: empty job id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	switch _, err := q.load(jobID); {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorruptRecord):
		q.logger.Warn("Overwriting corrupt job record", logpkg.Str("jobId", jobID))
	default:
		return false, err
	}

	now := q.now()
	j := storedJob{Job: Job{
		ID:        jobID,
		State:     StateWaiting,
		Options:   opts,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	err := q.write(ctx, "submit", func(set func(k, v []byte) error, _ func(k []byte) error) error {
		if err := q.schedule(set, &j, now); err != nil {
			return err
		}
		return putJob(set, q.name, j)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *JobQueue) Claim(ctx context.Context, lease time.Duration) (Job, bool, error) {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	prefix := ReadyPrefix(q.name)
	var (
		found storedJob
		ok    bool
		stale [][]byte
	)
	err := q.db.ScanPrefix(prefix, func(k, v []byte) bool {
		due, valid := parseIndexID(prefix, k)
		if !valid {
			stale = append(stale, append([]byte(nil), k...))
			return true
		}
		if due.Time().After(now) {
			return false
		}
		j, err := q.load(string(v))
		if err != nil || !j.State.Claimable() || j.ReadyKey != due.String() {
			stale = append(stale, append([]byte(nil), k...))
			return true
		}
		found, ok = j, true
		return false
	})
	if err != nil {
		return Job{}, false, unavailable("claim", err)
	}
	if !ok && len(stale) == 0 {
		return Job{}, false, nil
	}

	err = q.write(ctx, "claim", func(set func(k, v []byte) error, del func(k []byte) error) error {
		for _, k := range stale {
			if err := del(k); err != nil {
				return err
			}
		}
		if !ok {
			return nil
		}
		if err := q.unschedule(del, &found); err != nil {
			return err
		}
		found.State = StateActive
		found.Attempts++
		found.LeaseToken = uuid.NewString()
		found.LeaseExpiresAt = now.Add(lease)
		found.UpdatedAt = now
		if err := set(LeaseKey(q.name, found.LeaseExpiresAt.UnixMilli(), found.ID), nil); err != nil {
			return err
		}
		return putJob(set, q.name, found)
	})
	if err != nil || !ok {
		return Job{}, false, err
	}
	return found.Job, true, nil
}

// owned loads an Active job held by token.
func (q *JobQueue) owned(jobID, token string) (storedJob, error) {
	j, err := q.load(jobID)
	if err != nil {
		return storedJob{}, err
	}
	if j.State != StateActive || j.LeaseToken != token {
		return storedJob{}, fmt.Errorf("job %s: %w", jobID, ErrLeaseLost)
	}
	return j, nil
}

func (q *JobQueue) Extend(ctx context.Context, jobID, token string, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(jobID, token)
	if err != nil {
		return err
	}
	now := q.now()
	return q.write(ctx, "extend", func(set func(k, v []byte) error, del func(k []byte) error) error {
		if err := del(LeaseKey(q.name, j.LeaseExpiresAt.UnixMilli(), j.ID)); err != nil {
			return err
		}
		j.LeaseExpiresAt = now.Add(lease)
		j.UpdatedAt = now
		if err := set(LeaseKey(q.name, j.LeaseExpiresAt.UnixMilli(), j.ID), nil); err != nil {
			return err
		}
		return putJob(set, q.name, j)
	})
}

func (q *JobQueue) Ack(ctx context.Context, jobID, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(jobID, token)
	if err != nil {
		return err
	}
	now := q.now()
	return q.write(ctx, "ack", func(set func(k, v []byte) error, del func(k []byte) error) error {
		if err := del(LeaseKey(q.name, j.LeaseExpiresAt.UnixMilli(), j.ID)); err != nil {
			return err
		}
		if j.Options.RemoveOnComplete {
			return del(JobKey(q.name, j.ID))
		}
		j.State = StateCompleted
		j.LeaseToken = ""
		j.LeaseExpiresAt = time.Time{}
		j.FinishedAt = now
		j.UpdatedAt = now
		return putJob(set, q.name, j)
	})
}

func (q *JobQueue) Nack(ctx context.Context, jobID, token, cause string, d retry.Decision) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(jobID, token)
	if err != nil {
		return Job{}, err
	}
	now := q.now()
	err = q.write(ctx, "nack", func(set func(k, v []byte) error, del func(k []byte) error) error {
		if err := del(LeaseKey(q.name, j.LeaseExpiresAt.UnixMilli(), j.ID)); err != nil {
			return err
		}
		j.LastError = cause
		j.LeaseToken = ""
		j.LeaseExpiresAt = time.Time{}
		j.UpdatedAt = now
		if d.Retry {
			j.State = StateRetrying
			if err := q.schedule(set, &j, now.Add(d.Delay)); err != nil {
				return err
			}
			return putJob(set, q.name, j)
		}
		return q.fail(set, del, &j, now)
	})
	if err != nil {
		return Job{}, err
	}
	return j.Job, nil
}

// fail moves j to the terminal state and indexes it for ListFailed, or
// deletes it under RemoveOnFail.
func (q *JobQueue) fail(set func(k, v []byte) error, del func(k []byte) error, j *storedJob, now time.Time) error {
	j.State = StateFailed
	j.FinishedAt = now
	if j.Options.RemoveOnFail {
		return del(JobKey(q.name, j.ID))
	}
	fk := q.ids.Next()
	j.FailedKey = fk.String()
	if err := set(FailedKey(q.name, fk, j.ID), []byte(j.ID)); err != nil {
		return err
	}
	return putJob(set, q.name, *j)
}

func (q *JobQueue) Get(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	j, err := q.load(jobID)
	if err != nil {
		return Job{}, err
	}
	return j.Job, nil
}

func (q *JobQueue) ListFailed(ctx context.Context, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out     []Job
		loadErr error
	)
	err := q.db.ScanPrefix(FailedPrefix(q.name), func(_, v []byte) bool {
		j, err := q.load(string(v))
		if errors.Is(err, ErrNotFound) || (err == nil && j.State != StateFailed) {
			return true
		}
		if err != nil {
			loadErr = err
			return false
		}
		out = append(out, j.Job)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, unavailable("list failed", err)
	}
	return out, loadErr
}

func (q *JobQueue) Requeue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.load(jobID)
	if err != nil {
		return err
	}
	if j.State != StateFailed {
		return fmt.Errorf("requeue %s in state %s: %w", jobID, j.State, ErrInvalidState)
	}
	now := q.now()
	return q.write(ctx, "requeue", func(set func(k, v []byte) error, del func(k []byte) error) error {
		if j.FailedKey != "" {
			if fk, err := id.Parse(j.FailedKey); err == nil {
				if err := del(FailedKey(q.name, fk, j.ID)); err != nil {
					return err
				}
			}
			j.FailedKey = ""
		}
		j.State = StateWaiting
		j.Attempts = 0
		j.FinishedAt = time.Time{}
		j.UpdatedAt = now
		if err := q.schedule(set, &j, now); err != nil {
			return err
		}
		return putJob(set, q.name, j)
	})
}

func (q *JobQueue) ReclaimExpired(ctx context.Context, max int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	prefix := LeasePrefix(q.name)
	type expired struct {
		key []byte
		job storedJob
		ok  bool
	}
	var due []expired
	err := q.db.ScanPrefix(prefix, func(k, _ []byte) bool {
		exp, jobID, valid := parseLeaseKey(prefix, k)
		if valid && exp > now.UnixMilli() {
			return false
		}
		e := expired{key: append([]byte(nil), k...)}
		if valid {
			if j, err := q.load(jobID); err == nil && j.State == StateActive && j.LeaseExpiresAt.UnixMilli() == exp {
				e.job, e.ok = j, true
			}
		}
		due = append(due, e)
		return max <= 0 || len(due) < max
	})
	if err != nil {
		return 0, unavailable("reclaim", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	reclaimed := 0
	err = q.write(ctx, "reclaim", func(set func(k, v []byte) error, del func(k []byte) error) error {
		for i := range due {
			if err := del(due[i].key); err != nil {
				return err
			}
			if !due[i].ok {
				continue
			}
			j := due[i].job
			j.LeaseToken = ""
			j.LeaseExpiresAt = time.Time{}
			j.UpdatedAt = now
			reclaimed++
			if j.Attempts >= j.Options.Retry.MaxAttempts {
				j.LastError = LeaseExpiredCause
				if err := q.fail(set, del, &j, now); err != nil {
					return err
				}
				continue
			}
			j.State = StateWaiting
			if err := q.schedule(set, &j, now); err != nil {
				return err
			}
			if err := putJob(set, q.name, j); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

func (q *JobQueue) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := q.db.ScanPrefix(JobPrefix(q.name), func(_, v []byte) bool {
		if j, err := decodeJob(v); err == nil {
			st.add(j.State)
		}
		return true
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return st, nil
}

var _ Store = (*JobQueue)(nil)
