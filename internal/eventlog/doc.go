// Package eventlog implements the partitioned append-only log behind the
// embedded broker.
//
// # Overview
//
// Each topic partition is a Log persisted in Pebble. Keys are ordered for
// range scans:
//   - topic/{topic}                           (topic metadata, owned by broker)
//   - log/{topic}/{part_be4}/m                (partition metadata: lastOffset)
//   - log/{topic}/{part_be4}/e/{offset_be8}   (entries)
//   - cursor/{topic}/{group}/{part_be4}       (committed group offset)
//
// Entries are stored as keyLen(varint) | key | appendedAt(8B BE) | value |
// crc32c.
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "consume-event", 0)
//	offs, _ := l.Append(ctx, []AppendRecord{{Key: k, Value: v, AppendedAtMs: now}})
//	entries, _ := l.Read(offs[0], 100)
//	_ = l.WaitForAppend(ctx, entries[len(entries)-1].Offset, 200*time.Millisecond)
//	_, _ = l.CommitCursor("event-consumer-group", offs[len(offs)-1])
//	_, _ = l.TrimThrough(ctx, committed, cutoffMs, 1024)
package eventlog
