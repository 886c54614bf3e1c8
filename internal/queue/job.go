package queue

import (
	"time"

	"github.com/rzbill/eventpipe/internal/retry"
)

// State is the lifecycle state of a Job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Claimable reports whether a job in state s may be claimed once due.
func (s State) Claimable() bool { return s == StateWaiting || s == StateRetrying }

// Options are attached to a job at submission.
type Options struct {
	Retry retry.Policy `json:"retry"`
	// RemoveOnComplete deletes the job once acknowledged.
	RemoveOnComplete bool `json:"removeOnComplete"`
	// RemoveOnFail deletes the job on terminal failure instead of retaining it.
	RemoveOnFail bool `json:"removeOnFail"`
}

// DefaultOptions mirrors the pipeline defaults: 3 exponential attempts from
// 1s, completed jobs removed, failed jobs kept.
func DefaultOptions() Options {
	return Options{Retry: retry.Default(), RemoveOnComplete: true}
}

// Job is one durable unit of execution.
type Job struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Options   Options   `json:"options"`
	Payload   []byte    `json:"payload"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ReadyAt is when a waiting or retrying job becomes claimable.
	ReadyAt time.Time `json:"readyAt"`

	LeaseToken     string    `json:"leaseToken,omitempty"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt,omitempty"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
}

// Stats counts jobs per state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *Stats) add(st State) {
	switch st {
	case StateWaiting:
		s.Waiting++
	case StateActive:
		s.Active++
	case StateRetrying:
		s.Retrying++
	case StateCompleted:
		s.Completed++
	case StateFailed:
		s.Failed++
	}
}
