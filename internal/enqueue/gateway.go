// Package enqueue is the producer side of the durable queue: it submits
// jobs under a caller-chosen identity with the default job options attached.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/retry"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// ErrInvalidJobID is returned for empty job identities.
var ErrInvalidJobID = errors.New("invalid job id")

// Ack confirms a durable submission. Created is false when a job with the
// same id already existed; that is still a success.
type Ack struct {
	JobID   string
	Created bool
}

// Option overrides the defaults for a single submission.
type Option func(*queue.Options)

// WithRetry sets the retry policy of the job.
func WithRetry(p retry.Policy) Option { return func(o *queue.Options) { o.Retry = p } }

// WithRemoveOnComplete controls whether completed jobs are kept.
func WithRemoveOnComplete(v bool) Option { return func(o *queue.Options) { o.RemoveOnComplete = v } }

// WithRemoveOnFail controls whether terminally failed jobs are kept.
func WithRemoveOnFail(v bool) Option { return func(o *queue.Options) { o.RemoveOnFail = v } }

// Gateway submits jobs to a queue.Store.
type Gateway struct {
	store    queue.Store
	defaults queue.Options
	logger   logpkg.Logger
}

// New returns a gateway attaching defaults to every job.
func New(store queue.Store, defaults queue.Options, logger logpkg.Logger) (*Gateway, error) {
	if err := defaults.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("default retry policy: %w", err)
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Gateway{store: store, defaults: defaults, logger: logger.WithComponent("enqueue")}, nil
}

// Submit durably creates the job unless one with jobID exists. Store
// failures come back wrapping queue.ErrBackendUnavailable; the caller must
// retry rather than drop the work.
func (g *Gateway) Submit(ctx context.Context, jobID string, payload []byte, opts ...Option) (Ack, error) {
	if strings.TrimSpace(jobID) == "" {
		return Ack{}, ErrInvalidJobID
	}
	o := g.defaults
	for _, fn := range opts {
		fn(&o)
	}
	created, err := g.store.Submit(ctx, jobID, payload, o)
	if err != nil {
		if !errors.Is(err, queue.ErrBackendUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", queue.ErrBackendUnavailable, err)
		}
		return Ack{}, fmt.Errorf("submit %s: %w", jobID, err)
	}
	if !created {
		g.logger.Debug("Duplicate submission ignored", logpkg.Str("jobId", jobID))
	}
	return Ack{JobID: jobID, Created: created}, nil
}
