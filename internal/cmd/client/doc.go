// Package client provides the `eventpipe` client commands.
//
// The commands talk to the admin HTTP API of a running worker, which owns
// the embedded stores. The base URL comes from the embedding binary via a
// BaseURLFunc; the standalone binary reads EVENTPIPE_API and defaults to
// http://127.0.0.1:8080.
//
// Usage
//
//	eventpipe produce '{"eventId":"e1","timestamp":1700000000000,"type":"user.created","payload":{"name":"ada"}}'
//	eventpipe produce --demo 20 --type user.created
//
//	eventpipe topic create --name consume-event --partitions 3
//	eventpipe topic get --name consume-event
//
//	eventpipe jobs stats
//	eventpipe jobs failed --limit 20
//	eventpipe jobs get e1
//	eventpipe jobs requeue e1 e2
//
// Notes
//
//   - produce keys each record by its eventId so redeliveries land on the
//     same partition.
//   - --demo generates events with random word payloads.
package client
