package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/eventpipe/internal/event"
	"github.com/rzbill/eventpipe/internal/eventlog"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("subscription closed")

// GroupConsumer reads a topic on behalf of a consumer group. Cursors are
// shared by every consumer of the same group.
type GroupConsumer struct {
	b     *Broker
	topic string
	group string
	id    string
}

// Group returns a consumer for topic in group. Each call gets a new
// instance id.
func (b *Broker) Group(topic, group string) *GroupConsumer {
	return &GroupConsumer{b: b, topic: topic, group: group, id: uuid.NewString()}
}

// ID identifies this consumer instance.
func (g *GroupConsumer) ID() string { return g.id }

// Topic returns the consumed topic.
func (g *GroupConsumer) Topic() string { return g.topic }

// Partitions lists the topic's partitions.
func (g *GroupConsumer) Partitions(context.Context) ([]uint32, error) {
	m, err := g.b.Topic(g.topic)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, m.Partitions)
	for i := range out {
		out[i] = uint32(i)
	}
	return out, nil
}

// Committed returns the group's committed offset on a partition.
func (g *GroupConsumer) Committed(partition uint32) (uint64, bool, error) {
	l, err := g.b.partitionLog(g.topic, partition)
	if err != nil {
		return 0, false, err
	}
	return l.Cursor(g.group)
}

// Commit records offset as consumed. Lower offsets than the stored cursor
// are ignored.
func (g *GroupConsumer) Commit(ctx context.Context, partition uint32, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := g.b.partitionLog(g.topic, partition)
	if err != nil {
		return err
	}
	if _, err := l.CommitCursor(g.group, offset); err != nil {
		return fmt.Errorf("commit %s/%d@%d for %s: %w", g.topic, partition, offset, g.group, err)
	}
	return nil
}

// Subscribe starts reading partition after the group's committed offset.
func (g *GroupConsumer) Subscribe(ctx context.Context, partition uint32) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := g.b.partitionLog(g.topic, partition)
	if err != nil {
		return nil, err
	}
	committed, _, err := l.Cursor(g.group)
	if err != nil {
		return nil, err
	}
	g.b.logger.Debug("Subscribed",
		logpkg.Str("topic", g.topic), logpkg.Str("group", g.group), logpkg.Str("consumer", g.id),
		logpkg.Int64("partition", int64(partition)), logpkg.Uint64("from", committed+1))
	return &Subscription{
		log:   l,
		topic: g.topic,
		next:  committed + 1,
		batch: g.b.readBatch,
		poll:  g.b.poll,
	}, nil
}

// Subscription is a sequential reader over one partition. It is not safe
// for concurrent use.
type Subscription struct {
	log    *eventlog.Log
	topic  string
	next   uint64
	batch  int
	poll   time.Duration
	buf    []eventlog.Entry
	closed atomic.Bool
}

// Next blocks until a record is available or ctx is done.
func (s *Subscription) Next(ctx context.Context) (event.Record, error) {
	for {
		if s.closed.Load() {
			return event.Record{}, ErrClosed
		}
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf = s.buf[1:]
			s.next = e.Offset + 1
			return event.Record{
				Topic:     s.topic,
				Partition: s.log.Partition(),
				Offset:    e.Offset,
				Value:     e.Value,
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return event.Record{}, err
		}
		entries, err := s.log.Read(s.next, s.batch)
		if err != nil {
			return event.Record{}, fmt.Errorf("read %s/%d@%d: %w", s.topic, s.log.Partition(), s.next, err)
		}
		if len(entries) > 0 {
			s.buf = entries
			continue
		}
		s.log.WaitForAppend(ctx, s.next-1, s.poll)
	}
}

// Close stops the subscription. Uncommitted records are redelivered to the
// next subscriber of the group.
func (s *Subscription) Close() error {
	s.closed.Store(true)
	return nil
}
