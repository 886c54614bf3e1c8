package event

import (
	json "github.com/goccy/go-json"
)

// Event is the canonical unit of work. It is never mutated after validation.
type Event struct {
	ID        string          `json:"eventId"`
	Timestamp int64           `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Record is a single record read from a topic partition.
type Record struct {
	Topic     string
	Partition uint32
	Offset    uint64
	Value     []byte
}

// KeyFunc derives a job identity from an Event.
type KeyFunc func(Event) string

// DeriveKey returns the event id unchanged.
func DeriveKey(e Event) string { return e.ID }
