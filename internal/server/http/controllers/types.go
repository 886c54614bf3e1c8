package controllers

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/rzbill/eventpipe/internal/queue"
)

// topicCreateReq provisions a topic.
type topicCreateReq struct {
	Name              string `json:"name"`
	Partitions        int    `json:"partitions"`
	ReplicationFactor int    `json:"replicationFactor"`
}

// publishReq appends one record. Topic defaults to the configured topic.
type publishReq struct {
	Topic string          `json:"topic"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type publishResp struct {
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	Offset    uint64 `json:"offset"`
}

type requeueReq struct {
	ID string `json:"id"`
}

// jobView is the operator-facing rendering of a job. Lease tokens are not
// exposed.
type jobView struct {
	ID            string          `json:"id"`
	State         queue.State     `json:"state"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	LastError     string          `json:"lastError,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadBase64 []byte          `json:"payloadBase64,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ReadyAt       *time.Time      `json:"readyAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
}

func newJobView(j queue.Job) jobView {
	v := jobView{
		ID:          j.ID,
		State:       j.State,
		Attempts:    j.Attempts,
		MaxAttempts: j.Options.Retry.MaxAttempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if json.Valid(j.Payload) {
		v.Payload = j.Payload
	} else {
		v.PayloadBase64 = j.Payload
	}
	if j.State.Claimable() && !j.ReadyAt.IsZero() {
		t := j.ReadyAt
		v.ReadyAt = &t
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		v.FinishedAt = &t
	}
	return v
}
