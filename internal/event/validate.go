package event

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// DefaultMaxBytes bounds the size of a single record.
const DefaultMaxBytes = 1 << 20

// Validator gates raw records. It is safe for concurrent use.
type Validator struct {
	maxBytes int
	rules    []rule
}

type validatorOptions struct {
	maxBytes int
	rules    []string
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*validatorOptions)

// WithMaxBytes rejects records larger than n bytes. n <= 0 disables the limit.
func WithMaxBytes(n int) ValidatorOption {
	return func(o *validatorOptions) { o.maxBytes = n }
}

// WithRules adds CEL predicates every event must satisfy. Expressions see
// id, type, timestamp and payload.
func WithRules(exprs ...string) ValidatorOption {
	return func(o *validatorOptions) { o.rules = append(o.rules, exprs...) }
}

// NewValidator compiles the configured rules.
func NewValidator(opts ...ValidatorOption) (*Validator, error) {
	o := validatorOptions{maxBytes: DefaultMaxBytes}
	for _, fn := range opts {
		fn(&o)
	}
	v := &Validator{maxBytes: o.maxBytes}
	for _, expr := range o.rules {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		r, err := compileRule(expr)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", expr, err)
		}
		v.rules = append(v.rules, r)
	}
	return v, nil
}

// Validate parses raw into an Event. Errors wrap ErrMalformedPayload or
// ErrSchemaViolation.
func (v *Validator) Validate(raw []byte) (Event, error) {
	if v.maxBytes > 0 && len(raw) > v.maxBytes {
		return Event{}, violation("", fmt.Sprintf("record is %d bytes, limit %d", len(raw), v.maxBytes))
	}
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return Event{}, malformed("record is not valid JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, violation("", "record must be a JSON object")
	}

	var e Event
	if err := decodeString(fields, "eventId", &e.ID); err != nil {
		return Event{}, err
	}
	ts, ok := fields["timestamp"]
	if !ok {
		return Event{}, violation("timestamp", "required")
	}
	if err := json.Unmarshal(ts, &e.Timestamp); err != nil {
		return Event{}, violation("timestamp", "must be an integer")
	}
	if e.Timestamp <= 0 {
		return Event{}, violation("timestamp", "must be positive")
	}
	if err := decodeString(fields, "type", &e.Type); err != nil {
		return Event{}, err
	}
	payload, ok := fields["payload"]
	if !ok || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return Event{}, violation("payload", "required")
	}
	e.Payload = append(json.RawMessage(nil), payload...)

	for _, r := range v.rules {
		if err := r.check(e); err != nil {
			return Event{}, err
		}
	}
	return e, nil
}

func decodeString(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok {
		return violation(name, "required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return violation(name, "must be a string")
	}
	if strings.TrimSpace(*dst) == "" {
		return violation(name, "must not be empty")
	}
	return nil
}
