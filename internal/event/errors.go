package event

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload means the record bytes are not a parseable document.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSchemaViolation means a required field is missing, empty, of the
	// wrong kind, or a gate rule rejected the event.
	ErrSchemaViolation = errors.New("schema violation")
)

// ValidationError describes why a record was rejected.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func malformed(reason string) error {
	return &ValidationError{Kind: ErrMalformedPayload, Reason: reason}
}

func violation(field, reason string) error {
	return &ValidationError{Kind: ErrSchemaViolation, Field: field, Reason: reason}
}
