package observe

import (
	"sort"

	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// LogSink writes records through the structured logger. Failure kinds are
// logged at error level.
type LogSink struct {
	logger logpkg.Logger
}

// NewLogSink returns a sink tagged with the "observe" component.
func NewLogSink(logger logpkg.Logger) *LogSink {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &LogSink{logger: logger.WithComponent("observe")}
}

var messages = map[Kind]string{
	ConsumerConnected:       "Consumer connected",
	EventEnqueued:           "Event enqueued",
	MessageProcessingFailed: "Message processing failed",
	PartitionStalled:        "Partition stalled",
	JobStarted:              "Job started",
	JobCompleted:            "Job completed",
	JobRetryScheduled:       "Job retry scheduled",
	JobFailed:               "Job failed",
}

func (s *LogSink) Emit(r Record) {
	msg, ok := messages[r.Kind]
	if !ok {
		msg = string(r.Kind)
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]logpkg.Field, 0, len(keys)+1)
	fields = append(fields, logpkg.Str("kind", string(r.Kind)))
	for _, k := range keys {
		fields = append(fields, logpkg.F(k, r.Fields[k]))
	}
	switch {
	case r.Kind.Failure():
		s.logger.Error(msg, fields...)
	case r.Kind == JobRetryScheduled:
		s.logger.Warn(msg, fields...)
	default:
		s.logger.Info(msg, fields...)
	}
}
