// Package retry maps an attempt count to the next action for a failed job:
// retry after a delay, or give up.
package retry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Kind selects how the delay grows between attempts.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindExponential Kind = "exponential"
)

// ParseKind accepts "fixed" or "exponential" ("exp" is an alias).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return KindFixed, nil
	case "exponential", "exp", "":
		return KindExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff kind %q", s)
	}
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// maxDelay guards the exponential shift against overflow.
const maxDelay = time.Duration(1<<62 - 1)

// Policy is the retry configuration attached to every job.
type Policy struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	BaseDelay   time.Duration `json:"baseDelay" yaml:"baseDelay"`
	Kind        Kind          `json:"kind" yaml:"backoff"`
	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration `json:"maxDelay,omitempty" yaml:"maxDelay"`
	// Jitter spreads each delay uniformly over [delay/2, delay].
	Jitter bool `json:"jitter,omitempty" yaml:"jitter"`
}

// Default returns 3 attempts, exponential from 1s.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, Kind: KindExponential}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("maxAttempts must be >= 1, got %d", p.MaxAttempts))
	}
	if p.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("baseDelay must be positive, got %s", p.BaseDelay))
	}
	if p.Kind != KindFixed && p.Kind != KindExponential {
		errs = append(errs, fmt.Errorf("unknown backoff kind %q", p.Kind))
	}
	if p.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("maxDelay must not be negative"))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after the given 1-based failed attempt:
// baseDelay for fixed, baseDelay * 2^(attempt-1) for exponential.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	if p.Kind != KindFixed {
		for i := 1; i < attempt; i++ {
			if d > maxDelay/2 {
				d = maxDelay
				break
			}
			d <<= 1
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(d-half)+1))
	}
	return d
}

// Decision is the outcome of consulting a Policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Next decides what follows the failure of attempt (1-based). Attempts below
// MaxAttempts retry; the attempt reaching MaxAttempts is terminal.
func (p Policy) Next(attempt int) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attempt)}
}

// Terminal is the decision for failures no retry can fix.
func Terminal() Decision { return Decision{} }
