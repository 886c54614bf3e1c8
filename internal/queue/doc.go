// Package queue defines the durable job queue contract and its embedded
// Pebble implementation.
//
// # Lifecycle
//
//	Submit → Waiting → [Claim] → Active → [Ack] → Completed (removed by default)
//	                               │
//	                               └─ [Nack] → Retrying (due after delay) → [Claim] → ...
//	                                        └→ Failed (terminal, retained)
//
// Jobs are keyed by their id, so a Submit for an id that already exists is a
// no-op. Claim hands out a lease token; Ack, Nack and Extend must present it.
// Active jobs whose lease expires (for example after a crash) are returned to
// Waiting by ReclaimExpired, or failed if that was their final attempt.
//
// # Keyspace (embedded store)
//
//	q/{queue}/job/{jobId}                            job record (json | crc32c)
//	q/{queue}/ready/{due_ms_be8}{seq_be8}{jobId}     → jobId, claim order
//	q/{queue}/lease/{expiry_ms_be8}/{jobId}          lease expiry index
//	q/{queue}/failed/{failed_ms_be8}{seq_be8}{jobId} → jobId, terminal failures
package queue
