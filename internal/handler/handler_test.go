package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rzbill/eventpipe/internal/event"
)

func TestSimulatedCompletes(t *testing.T) {
	h := NewSimulated(5*time.Millisecond, nil)
	assert.NoError(t, h.Process(context.Background(), event.Event{ID: "e1", Type: "order.created"}))
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	h := NewSimulated(time.Hour, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := h.Process(ctx, event.Event{ID: "e1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerFunc(t *testing.T) {
	boom := errors.New("boom")
	var got string
	h := HandlerFunc(func(_ context.Context, e event.Event) error {
		got = e.ID
		return boom
	})
	assert.ErrorIs(t, h.Process(context.Background(), event.Event{ID: "e9"}), boom)
	assert.Equal(t, "e9", got)
}
