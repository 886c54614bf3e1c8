package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rzbill/eventpipe/internal/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVENTPIPE_"

// FromEnv overlays EVENTPIPE_* environment variables onto cfg. Unparseable
// values are reported together; valid ones are still applied.
func FromEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	str("BROKER_DIR", &cfg.Broker.Dir)
	str("TOPIC", &cfg.Broker.Topic)
	num("PARTITIONS", &cfg.Broker.Partitions)
	str("GROUP", &cfg.Broker.Group)
	str("QUEUE_BACKEND", &cfg.Queue.Backend)
	str("QUEUE_DIR", &cfg.Queue.Dir)
	str("QUEUE_DSN", &cfg.Queue.DSN)
	str("QUEUE_NAME", &cfg.Queue.Name)
	num("CONCURRENCY", &cfg.Worker.Concurrency)
	num("MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	dur("BASE_DELAY", &cfg.Retry.BaseDelay)
	dur("DRAIN_TIMEOUT", &cfg.Worker.DrainTimeout)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("NATS_URL", &cfg.NATS.URL)

	if v := os.Getenv(EnvPrefix + "BACKOFF"); v != "" {
		k, err := retry.ParseKind(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBACKOFF: %w", EnvPrefix, err))
		} else {
			cfg.Retry.Kind = k
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("1s") or bare milliseconds ("1000").
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
