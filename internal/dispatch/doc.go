// Package dispatch is the consumer side of the durable queue.
//
// The Engine claims due jobs while it holds fewer than Concurrency in
// flight, runs the handler on each, and turns the outcome into an ack, a
// scheduled retry or a terminal failure. Claims are leased: a heartbeat
// extends the lease while the handler runs, and a reclaimer returns jobs
// whose lease expired (for example after a crash) to the waiting state.
//
// On shutdown the Engine stops claiming, waits up to DrainTimeout for
// in-flight jobs and then abandons them. Abandoned jobs stay Active in the
// store and are reclaimed once their lease expires.
package dispatch
