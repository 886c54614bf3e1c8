// Package observe carries pipeline lifecycle records to operators. Every
// discarded record and every terminally failed job produces exactly one
// failure record.
package observe

import (
	"sync"
	"time"
)

// Kind names a lifecycle record.
type Kind string

const (
	ConsumerConnected       Kind = "consumer-connected"
	EventEnqueued           Kind = "event-enqueued"
	MessageProcessingFailed Kind = "message-processing-failed"
	PartitionStalled        Kind = "partition-stalled"
	JobStarted              Kind = "job-started"
	JobCompleted            Kind = "job-completed"
	JobRetryScheduled       Kind = "job-retry-scheduled"
	JobFailed               Kind = "job-failed"
)

// Failure reports whether records of this kind signal lost or abandoned work.
func (k Kind) Failure() bool {
	return k == MessageProcessingFailed || k == PartitionStalled || k == JobFailed
}

// Record is one structured observation.
type Record struct {
	Kind   Kind           `json:"kind"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New stamps a record with the current time.
func New(kind Kind, fields map[string]any) Record {
	return Record{Kind: kind, Time: time.Now().UTC(), Fields: fields}
}

// Sink receives records. Emit must not block the pipeline for long and must
// be safe for concurrent use.
type Sink interface {
	Emit(Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Emit(r Record) { f(r) }

// Discard drops every record.
var Discard Sink = SinkFunc(func(Record) {})

type multi []Sink

func (m multi) Emit(r Record) {
	for _, s := range m {
		s.Emit(r)
	}
}

// Multi fans a record out to every non-nil sink, in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Recorder keeps every record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	notify  chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{notify: make(chan struct{})} }

func (r *Recorder) Emit(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Kinds returns records filtered to kind.
func (r *Recorder) Kinds(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// WaitFor blocks until cond holds over the recorded records or timeout
// elapses, and reports whether cond held.
func (r *Recorder) WaitFor(timeout time.Duration, cond func([]Record) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		ok := cond(r.records)
		ch := r.notify
		r.mu.Unlock()
		if ok {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}

// Count is a WaitFor condition: at least n records of kind.
func Count(kind Kind, n int) func([]Record) bool {
	return func(recs []Record) bool {
		c := 0
		for _, r := range recs {
			if r.Kind == kind {
				c++
			}
		}
		return c >= n
	}
}
