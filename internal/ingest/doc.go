// Package ingest drives per-partition consumption of the event log into the
// durable queue.
//
// Each partition is read by one goroutine, strictly in offset order. A record
// is committed only after its job submission is confirmed, or after it was
// rejected by the validator and reported. When submissions keep failing the
// partition stalls: the loop reports it and stops rather than skip the
// record.
package ingest
