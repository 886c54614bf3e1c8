// Package postgres implements the durable queue contract on PostgreSQL.
// Claims use SELECT ... FOR UPDATE SKIP LOCKED, so any number of dispatch
// engines may share one queue.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/retry"
)

// Store is a queue.Store backed by a PostgreSQL table shared by all queues.
type Store struct {
	db    *sql.DB
	queue string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for due times and leases.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Open connects with the pgx driver, applies the schema and returns the
// store for the named queue.
func Open(ctx context.Context, dsn, queueName string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	s, err := New(ctx, db, queueName, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The store closes db on Close.
func New(ctx context.Context, db *sql.DB, queueName string, opts ...Option) (*Store, error) {
	if queueName == "" {
		return nil, errors.New("postgres: queue name is required")
	}
	s := &Store{db: db, queue: queueName, now: time.Now}
	for _, fn := range opts {
		fn(s)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, unavailable("ping", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, queue.ErrBackendUnavailable, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (queue.Job, error) {
	var (
		j        queue.Job
		state    string
		opts     []byte
		leaseExp sql.NullTime
		finished sql.NullTime
	)
	if err := r.Scan(&j.ID, &state, &j.Attempts, &opts, &j.Payload, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt, &j.ReadyAt, &j.LeaseToken, &leaseExp, &finished); err != nil {
		return queue.Job{}, err
	}
	j.State = queue.State(state)
	if err := json.Unmarshal(opts, &j.Options); err != nil {
		return queue.Job{}, fmt.Errorf("decode options of %s: %w", j.ID, err)
	}
	if leaseExp.Valid {
		j.LeaseExpiresAt = leaseExp.Time
	}
	if finished.Valid {
		j.FinishedAt = finished.Time
	}
	return j, nil
}

func (s *Store) Submit(ctx context.Context, id string, payload []byte, opts queue.Options) (bool, error) {
	if id == "" {
		return false, errors.New("postgres: empty job id")
	}
	o, err := json.Marshal(opts)
	if err != nil {
		return false, err
	}
	if payload == nil {
		payload = []byte{}
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO eventpipe_jobs (queue, id, state, options, payload, created_at, updated_at, ready_at)
VALUES ($1, $2, 'waiting', $3, $4, $5, $5, $5)
ON CONFLICT (queue, id) DO NOTHING;`, s.queue, id, string(o), payload, now)
	if err != nil {
		return false, unavailable("submit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("submit", err)
	}
	return n == 1, nil
}

func (s *Store) Claim(ctx context.Context, lease time.Duration) (queue.Job, bool, error) {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Job{}, false, unavailable("claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	var id string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM eventpipe_jobs
WHERE queue = $1 AND state IN ('waiting', 'retrying') AND ready_at <= $2
ORDER BY ready_at, seq
FOR UPDATE SKIP LOCKED
LIMIT 1;`, s.queue, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, false, nil
	}
	if err != nil {
		return queue.Job{}, false, unavailable("claim", err)
	}

	row := tx.QueryRowContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'active', attempts = attempts + 1, lease_token = $3, lease_expires_at = $4, updated_at = $5
WHERE queue = $1 AND id = $2
RETURNING `+jobColumns+`;`, s.queue, id, uuid.NewString(), now.Add(lease), now)
	j, err := scanJob(row)
	if err != nil {
		return queue.Job{}, false, unavailable("claim", err)
	}
	if err := tx.Commit(); err != nil {
		return queue.Job{}, false, unavailable("claim", err)
	}
	return j, true, nil
}

// owned locks the job row inside tx and checks the lease token.
func (s *Store) owned(ctx context.Context, tx *sql.Tx, id, token string) (queue.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM eventpipe_jobs WHERE queue = $1 AND id = $2 FOR UPDATE;`, s.queue, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, queue.ErrNotFound
	}
	if err != nil {
		return queue.Job{}, unavailable("load", err)
	}
	if j.State != queue.StateActive || j.LeaseToken != token {
		return queue.Job{}, fmt.Errorf("job %s: %w", id, queue.ErrLeaseLost)
	}
	return j, nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (s *Store) Extend(ctx context.Context, id, token string, lease time.Duration) error {
	return s.inTx(ctx, "extend", func(tx *sql.Tx) error {
		if _, err := s.owned(ctx, tx, id, token); err != nil {
			return err
		}
		now := s.now().UTC()
		_, err := tx.ExecContext(ctx, `UPDATE eventpipe_jobs SET lease_expires_at = $3, updated_at = $4 WHERE queue = $1 AND id = $2;`,
			s.queue, id, now.Add(lease), now)
		if err != nil {
			return unavailable("extend", err)
		}
		return nil
	})
}

func (s *Store) Ack(ctx context.Context, id, token string) error {
	return s.inTx(ctx, "ack", func(tx *sql.Tx) error {
		j, err := s.owned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		if j.Options.RemoveOnComplete {
			_, err = tx.ExecContext(ctx, `DELETE FROM eventpipe_jobs WHERE queue = $1 AND id = $2;`, s.queue, id)
		} else {
			now := s.now().UTC()
			_, err = tx.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'completed', lease_token = '', lease_expires_at = NULL, finished_at = $3, updated_at = $3
WHERE queue = $1 AND id = $2;`, s.queue, id, now)
		}
		if err != nil {
			return unavailable("ack", err)
		}
		return nil
	})
}

func (s *Store) Nack(ctx context.Context, id, token, cause string, d retry.Decision) (queue.Job, error) {
	var out queue.Job
	err := s.inTx(ctx, "nack", func(tx *sql.Tx) error {
		j, err := s.owned(ctx, tx, id, token)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		j.LastError = cause
		j.LeaseToken = ""
		j.LeaseExpiresAt = time.Time{}
		j.UpdatedAt = now
		switch {
		case d.Retry:
			j.State = queue.StateRetrying
			j.ReadyAt = now.Add(d.Delay)
			_, err = tx.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'retrying', ready_at = $3, last_error = $4, lease_token = '', lease_expires_at = NULL, updated_at = $5
WHERE queue = $1 AND id = $2;`, s.queue, id, j.ReadyAt, cause, now)
		case j.Options.RemoveOnFail:
			j.State = queue.StateFailed
			j.FinishedAt = now
			_, err = tx.ExecContext(ctx, `DELETE FROM eventpipe_jobs WHERE queue = $1 AND id = $2;`, s.queue, id)
		default:
			j.State = queue.StateFailed
			j.FinishedAt = now
			_, err = tx.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'failed', last_error = $3, lease_token = '', lease_expires_at = NULL, finished_at = $4, updated_at = $4
WHERE queue = $1 AND id = $2;`, s.queue, id, cause, now)
		}
		if err != nil {
			return unavailable("nack", err)
		}
		out = j
		return nil
	})
	return out, err
}

func (s *Store) Get(ctx context.Context, id string) (queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM eventpipe_jobs WHERE queue = $1 AND id = $2;`, s.queue, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Job{}, queue.ErrNotFound
	}
	if err != nil {
		return queue.Job{}, unavailable("get", err)
	}
	return j, nil
}

func (s *Store) ListFailed(ctx context.Context, limit int) ([]queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM eventpipe_jobs
WHERE queue = $1 AND state = 'failed'
ORDER BY finished_at, seq
LIMIT NULLIF($2::int, 0);`, s.queue, limit)
	if err != nil {
		return nil, unavailable("list failed", err)
	}
	defer rows.Close()
	var out []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, unavailable("list failed", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list failed", err)
	}
	return out, nil
}

func (s *Store) Requeue(ctx context.Context, id string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'waiting', attempts = 0, ready_at = $3, finished_at = NULL, updated_at = $3
WHERE queue = $1 AND id = $2 AND state = 'failed';`, s.queue, id, now)
	if err != nil {
		return unavailable("requeue", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("requeue %s in state %s: %w", id, j.State, queue.ErrInvalidState)
}

func (s *Store) ReclaimExpired(ctx context.Context, max int) (int, error) {
	now := s.now().UTC()
	total := 0
	err := s.inTx(ctx, "reclaim", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, attempts, options FROM eventpipe_jobs
WHERE queue = $1 AND state = 'active' AND lease_expires_at <= $2
ORDER BY lease_expires_at
FOR UPDATE SKIP LOCKED
LIMIT NULLIF($3::int, 0);`, s.queue, now, max)
		if err != nil {
			return unavailable("reclaim", err)
		}
		type expired struct {
			id       string
			attempts int
			opts     queue.Options
		}
		var due []expired
		for rows.Next() {
			var (
				e   expired
				raw []byte
			)
			if err := rows.Scan(&e.id, &e.attempts, &raw); err != nil {
				rows.Close()
				return unavailable("reclaim", err)
			}
			if err := json.Unmarshal(raw, &e.opts); err != nil {
				rows.Close()
				return fmt.Errorf("decode options of %s: %w", e.id, err)
			}
			due = append(due, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return unavailable("reclaim", err)
		}
		for _, e := range due {
			switch {
			case e.attempts < e.opts.Retry.MaxAttempts:
				_, err = tx.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'waiting', ready_at = $3, lease_token = '', lease_expires_at = NULL, updated_at = $3
WHERE queue = $1 AND id = $2;`, s.queue, e.id, now)
			case e.opts.RemoveOnFail:
				_, err = tx.ExecContext(ctx, `DELETE FROM eventpipe_jobs WHERE queue = $1 AND id = $2;`, s.queue, e.id)
			default:
				_, err = tx.ExecContext(ctx, `
UPDATE eventpipe_jobs
SET state = 'failed', last_error = $3, lease_token = '', lease_expires_at = NULL, finished_at = $4, updated_at = $4
WHERE queue = $1 AND id = $2;`, s.queue, e.id, queue.LeaseExpiredCause, now)
			}
			if err != nil {
				return unavailable("reclaim", err)
			}
			total++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Stats(ctx context.Context) (queue.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM eventpipe_jobs WHERE queue = $1 GROUP BY state;`, s.queue)
	if err != nil {
		return queue.Stats{}, unavailable("stats", err)
	}
	defer rows.Close()
	var st queue.Stats
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return queue.Stats{}, unavailable("stats", err)
		}
		switch queue.State(state) {
		case queue.StateWaiting:
			st.Waiting = n
		case queue.StateActive:
			st.Active = n
		case queue.StateRetrying:
			st.Retrying = n
		case queue.StateCompleted:
			st.Completed = n
		case queue.StateFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return queue.Stats{}, unavailable("stats", err)
	}
	return st, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ queue.Store = (*Store)(nil)
