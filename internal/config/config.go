package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/eventpipe/internal/retry"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

const (
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	// DataDir holds the embedded stores unless Broker.Dir or Queue.Dir
	// point elsewhere.
	DataDir string        `yaml:"dataDir"`
	Broker  BrokerConfig  `yaml:"broker"`
	Queue   QueueConfig   `yaml:"queue"`
	Retry   retry.Policy  `yaml:"retry"`
	Worker  WorkerConfig  `yaml:"worker"`
	Ingest  IngestConfig  `yaml:"ingest"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     logpkg.Config `yaml:"log"`
	NATS    NATSConfig    `yaml:"nats"`
}

// BrokerConfig describes the consumed topic and the embedded broker store.
type BrokerConfig struct {
	Dir               string `yaml:"dir"`
	Topic             string `yaml:"topic"`
	Partitions        int    `yaml:"partitions"`
	ReplicationFactor int    `yaml:"replicationFactor"`
	Group             string `yaml:"group"`
	// Fsync is "always", "interval" or "never".
	Fsync string `yaml:"fsync"`
	// Retention trims records every group has committed once they are older
	// than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	Backend          string `yaml:"backend"`
	Dir              string `yaml:"dir"`
	DSN              string `yaml:"dsn"`
	Name             string `yaml:"name"`
	RemoveOnComplete bool   `yaml:"removeOnComplete"`
	RemoveOnFail     bool   `yaml:"removeOnFail"`
}

// WorkerConfig tunes the dispatch engine and the default handler.
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Lease           time.Duration `yaml:"lease"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	ReclaimInterval time.Duration `yaml:"reclaimInterval"`
	DrainTimeout    time.Duration `yaml:"drainTimeout"`
	SimulatedWork   time.Duration `yaml:"simulatedWork"`
}

// IngestConfig tunes the ingestion loop and the validator.
type IngestConfig struct {
	MaxRecordBytes int `yaml:"maxRecordBytes"`
	// Rules are CEL predicates every event must satisfy.
	Rules        []string     `yaml:"rules"`
	EnqueueRetry retry.Policy `yaml:"enqueueRetry"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables the NATS observability sink when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Broker: BrokerConfig{
			Topic:             "consume-event",
			Partitions:        3,
			ReplicationFactor: 1,
			Group:             "event-consumer-group",
			Fsync:             "always",
		},
		Queue: QueueConfig{
			Backend:          BackendPebble,
			Name:             "event-processing-queue",
			RemoveOnComplete: true,
		},
		Retry: retry.Default(),
		Worker: WorkerConfig{
			Concurrency:     5,
			Lease:           30 * time.Second,
			PollInterval:    200 * time.Millisecond,
			ReclaimInterval: 5 * time.Second,
			DrainTimeout:    30 * time.Second,
			SimulatedWork:   10 * time.Second,
		},
		Ingest: IngestConfig{
			MaxRecordBytes: 1 << 20,
			EnqueueRetry: retry.Policy{
				MaxAttempts: 5,
				BaseDelay:   200 * time.Millisecond,
				Kind:        retry.KindExponential,
				MaxDelay:    5 * time.Second,
			},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  logpkg.Config{Level: "info", Format: logpkg.FormatText, Output: "stderr"},
		NATS: NATSConfig{SubjectPrefix: "eventpipe"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// JSON is accepted too since it is valid YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// BrokerDir is the broker store directory.
func (c Config) BrokerDir() string {
	if c.Broker.Dir != "" {
		return c.Broker.Dir
	}
	return filepath.Join(c.DataDir, "broker")
}

// QueueDir is the embedded queue store directory.
func (c Config) QueueDir() string {
	if c.Queue.Dir != "" {
		return c.Queue.Dir
	}
	return filepath.Join(c.DataDir, "queue")
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Broker.Topic) == "" {
		errs = append(errs, errors.New("broker.topic is required"))
	}
	if c.Broker.Partitions < 1 {
		errs = append(errs, fmt.Errorf("broker.partitions must be >= 1, got %d", c.Broker.Partitions))
	}
	if strings.TrimSpace(c.Broker.Group) == "" {
		errs = append(errs, errors.New("broker.group is required"))
	}
	switch c.Queue.Backend {
	case BackendPebble:
	case BackendPostgres:
		if c.Queue.DSN == "" {
			errs = append(errs, errors.New("queue.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	if strings.TrimSpace(c.Queue.Name) == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.Ingest.EnqueueRetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingest.enqueueRetry: %w", err))
	}
	return errors.Join(errs...)
}
