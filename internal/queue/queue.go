package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/eventpipe/internal/retry"
)

var (
	// ErrBackendUnavailable wraps storage or transport failures. Callers retry
	// rather than drop work.
	ErrBackendUnavailable = errors.New("queue backend unavailable")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when a lease token no longer owns the job.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrInvalidState is returned for transitions the job's state forbids.
	ErrInvalidState = errors.New("invalid job state")
)

// LeaseExpiredCause is the LastError of a job whose lease expired during its
// final attempt.
const LeaseExpiredCause = "lease expired on final attempt"

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err)
}

// Store is the durable queue contract. Implementations must make Claim
// atomic: a job is handed to at most one claimant per lease.
type Store interface {
	// Submit creates a Waiting job unless one with id already exists, in
	// which case it reports created=false and changes nothing.
	Submit(ctx context.Context, id string, payload []byte, opts Options) (created bool, err error)
	// Claim moves the oldest due job to Active, increments its attempts and
	// leases it. ok is false when nothing is due.
	Claim(ctx context.Context, lease time.Duration) (job Job, ok bool, err error)
	// Extend pushes the lease expiry of an Active job.
	Extend(ctx context.Context, id, token string, lease time.Duration) error
	// Ack completes an Active job.
	Ack(ctx context.Context, id, token string) error
	// Nack records a failed attempt and either reschedules the job after
	// d.Delay or marks it terminally Failed.
	Nack(ctx context.Context, id, token, cause string, d retry.Decision) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	// ListFailed returns terminally failed jobs, oldest failure first.
	ListFailed(ctx context.Context, limit int) ([]Job, error)
	// Requeue moves a terminally failed job back to Waiting with attempts reset.
	Requeue(ctx context.Context, id string) error
	// ReclaimExpired returns Active jobs with expired leases to Waiting. A
	// job that already used its last attempt is failed terminally instead,
	// so attempts never exceed the policy's maximum. It reports both.
	ReclaimExpired(ctx context.Context, max int) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
