package event

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Envelope is the payload snapshot stored with a job.
type Envelope struct {
	Event     Event  `json:"event"`
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	Offset    uint64 `json:"offset"`
}

// NewEnvelope attaches rec's provenance to e.
func NewEnvelope(e Event, rec Record) Envelope {
	return Envelope{Event: e, Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset}
}

// EncodeEnvelope serializes env for storage in the durable queue.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a stored snapshot.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event.ID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event id")
	}
	return env, nil
}
