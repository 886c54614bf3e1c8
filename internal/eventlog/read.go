package eventlog

import (
	"github.com/cockroachdb/pebble"
)

// Read returns up to limit entries with offset >= from, in offset order.
// A limit <= 0 reads to the end of the partition. Corrupt entries abort the
// read with ErrCorruptEntry so a consumer never silently skips one.
func (l *Log) Read(from uint64, limit int) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	prefix := append(partitionPrefix(l.topic, l.part), entrySeg...)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyLogEntry(l.topic, l.part, from),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.First(); ok && (limit <= 0 || len(out) < limit); ok = iter.Next() {
		e, err := decodeEntry(entryOffset(iter.Key()), iter.Value())
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}
