package broker

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/eventpipe/internal/eventlog"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// Options tunes the broker.
type Options struct {
	// ReadBatch is how many entries a subscription reads per fetch.
	ReadBatch int
	// PollTimeout bounds a single wait for new appends.
	PollTimeout time.Duration
	Logger      logpkg.Logger
	// Now overrides the clock used for metadata and append times.
	Now func() time.Time
}

type partKey struct {
	topic string
	part  uint32
}

// Broker serves topics from one Pebble database. It caches a single
// eventlog.Log per partition so appends and waits share offset state.
type Broker struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	now    func() time.Time

	readBatch int
	poll      time.Duration

	mu     sync.Mutex
	topics map[string]TopicMeta
	logs   map[partKey]*eventlog.Log

	rr atomic.Uint32
}

// New returns a broker over db. The caller owns db.
func New(db *pebblestore.DB, opts Options) *Broker {
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = 256
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		db:        db,
		logger:    opts.Logger.WithComponent("broker"),
		now:       opts.Now,
		readBatch: opts.ReadBatch,
		poll:      opts.PollTimeout,
		topics:    make(map[string]TopicMeta),
		logs:      make(map[partKey]*eventlog.Log),
	}
}

func (b *Broker) partitionLog(topic string, part uint32) (*eventlog.Log, error) {
	m, err := b.Topic(topic)
	if err != nil {
		return nil, err
	}
	if int(part) >= m.Partitions {
		return nil, fmt.Errorf("topic %s has no partition %d", topic, part)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := partKey{topic, part}
	if l, ok := b.logs[k]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(b.db, topic, part)
	if err != nil {
		return nil, err
	}
	b.logs[k] = l
	return l, nil
}

// PartitionFor maps a record key to a partition. Empty keys are spread
// round-robin.
func (b *Broker) PartitionFor(key []byte, partitions int) uint32 {
	if partitions <= 1 {
		return 0
	}
	if len(key) == 0 {
		return (b.rr.Add(1) - 1) % uint32(partitions)
	}
	return crc32.ChecksumIEEE(key) % uint32(partitions)
}

// Publish appends value to the partition selected by key.
func (b *Broker) Publish(ctx context.Context, topic string, key, value []byte) (partition uint32, offset uint64, err error) {
	m, err := b.Topic(topic)
	if err != nil {
		return 0, 0, err
	}
	partition = b.PartitionFor(key, m.Partitions)
	l, err := b.partitionLog(topic, partition)
	if err != nil {
		return 0, 0, err
	}
	offs, err := l.Append(ctx, []eventlog.AppendRecord{{Key: key, Value: value, AppendedAtMs: b.now().UnixMilli()}})
	if err != nil {
		return 0, 0, fmt.Errorf("publish to %s/%d: %w", topic, partition, err)
	}
	return partition, offs[0], nil
}

// LastOffset returns the newest offset of a partition, 0 when empty.
func (b *Broker) LastOffset(topic string, part uint32) (uint64, error) {
	l, err := b.partitionLog(topic, part)
	if err != nil {
		return 0, err
	}
	return l.LastOffset(), nil
}

// Retain deletes records older than maxAge that every consumer group has
// already committed. It returns the number of records removed.
func (b *Broker) Retain(ctx context.Context, topic string, maxAge time.Duration) (int, error) {
	m, err := b.Topic(topic)
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-maxAge).UnixMilli()
	total := 0
	for p := 0; p < m.Partitions; p++ {
		l, err := b.partitionLog(topic, uint32(p))
		if err != nil {
			return total, err
		}
		through, ok, err := l.MinCommitted()
		if err != nil {
			return total, err
		}
		if !ok {
			continue
		}
		n, err := l.TrimThrough(ctx, through, cutoff, 0)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		b.logger.Debug("Retention trimmed records", logpkg.Str("topic", topic), logpkg.Int("records", total))
	}
	return total, nil
}
