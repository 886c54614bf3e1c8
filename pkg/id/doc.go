// Package id provides a 128-bit, lexicographically sortable identifier.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order, and IDs generated
// within the same millisecond remain strictly increasing by sequence.
//
// # Monotonicity
//
// Generator.Next ensures per-process monotonicity:
//   - If the clock regresses, it pins to the last seen millisecond and
//     increments the sequence.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond.
//
// The durable queue keys its failed index with Next, so ListFailed returns
// failures in the order they happened. Generator.At stamps an arbitrary
// millisecond instead of the clock; the queue uses it to order jobs by their
// due time.
//
// Usage
//
//	g := id.NewGeneratorWithClock(nil)
//	k := g.At(time.Now().Add(time.Second).UnixMilli())
//	key := append([]byte("ready/"), k[:]...)
package id
