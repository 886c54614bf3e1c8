package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
)

// AppendRecord is a single record handed to Append.
type AppendRecord struct {
	Key          []byte
	Value        []byte
	AppendedAtMs int64
}

// Entry is a stored record together with its offset.
type Entry struct {
	Offset       uint64
	Key          []byte
	AppendedAtMs int64
	Value        []byte
}

// Log is one partition of a topic. Offsets start at 1 and increase by one
// per appended record. A process must hold a single Log per partition.
type Log struct {
	db    *pebblestore.DB
	topic string
	part  uint32

	mu         sync.Mutex
	lastOffset uint64
	notifyCh   chan struct{}
}

// OpenLog initializes a Log and loads the last offset from metadata.
func OpenLog(db *pebblestore.DB, topic string, partition uint32) (*Log, error) {
	l := &Log{db: db, topic: topic, part: partition, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(topic, partition))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastOffset = binary.BigEndian.Uint64(meta[:8])
	case err == nil, errors.Is(err, pebblestore.ErrNotFound):
	default:
		return nil, err
	}
	return l, nil
}

// Topic returns the topic name.
func (l *Log) Topic() string { return l.topic }

// Partition returns the partition index.
func (l *Log) Partition() uint32 { return l.part }

// LastOffset returns the offset of the newest appended record, 0 when empty.
func (l *Log) LastOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOffset
}

// Append writes recs as one atomic batch and returns their offsets.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	next := l.lastOffset
	offsets := make([]uint64, len(recs))
	for i, r := range recs {
		next++
		if err := b.Set(KeyLogEntry(l.topic, l.part, next), encodeEntry(r.Key, r.AppendedAtMs, r.Value), nil); err != nil {
			return nil, err
		}
		offsets[i] = next
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyLogMeta(l.topic, l.part), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastOffset = next

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return offsets, nil
}
