// Package event defines the canonical Event, the validation gate every log
// record passes before it becomes a job, and the deduplication key that
// names that job.
//
// A record becomes an Event only through Validator.Validate, which rejects
// unparseable bytes as ErrMalformedPayload and structurally wrong records as
// ErrSchemaViolation. DeriveKey maps a valid Event to its job identity.
// Envelope is the immutable payload snapshot stored with each job: the Event
// plus the topic, partition and offset it was read from.
package event
