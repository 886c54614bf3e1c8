package eventlog

import (
	"context"

	"github.com/cockroachdb/pebble"
)

// TrimThrough deletes entries with offset <= through that were appended
// before cutoffMs, oldest first, committing in batches of batchLimit. It stops
// at the first entry that is newer than the cutoff. Callers pass the lowest
// committed group offset as through so unconsumed records are never removed.
func (l *Log) TrimThrough(ctx context.Context, through uint64, cutoffMs int64, batchLimit int) (int, error) {
	if through == 0 {
		return 0, nil
	}
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyLogEntry(l.topic, l.part, 0),
		UpperBound: KeyLogEntry(l.topic, l.part, through+1),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	ok := iter.First()
	for ok {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			e, err := decodeEntry(entryOffset(iter.Key()), iter.Value())
			if err == nil && e.AppendedAtMs >= cutoffMs {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			n++
			ok = iter.Next()
		}
		if n > 0 {
			if err := l.db.CommitBatch(ctx, b); err != nil {
				b.Close()
				return deleted, err
			}
			deleted += n
		}
		b.Close()
	}
	return deleted, iter.Error()
}
