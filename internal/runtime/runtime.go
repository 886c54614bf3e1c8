package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rzbill/eventpipe/internal/broker"
	cfgpkg "github.com/rzbill/eventpipe/internal/config"
	"github.com/rzbill/eventpipe/internal/queue"
	"github.com/rzbill/eventpipe/internal/queue/postgres"
	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// slowCommit is the batch commit latency above which Pebble writes are logged.
const slowCommit = 200 * time.Millisecond

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime owns the backend handles of one process: the broker database and
// the durable queue store. They are opened once at startup, passed into
// the pipeline and released by Close.
type Runtime struct {
	config cfgpkg.Config
	logger logpkg.Logger

	brokerDB *pebblestore.DB
	queueDB  *pebblestore.DB
	broker   *broker.Broker
	queue    queue.Store
}

// Open initializes the backends selected by the configuration.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	rt := &Runtime{config: opts.Config, logger: logger.WithComponent("runtime")}
	if err := rt.open(ctx, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.logger.Info("Backends opened",
		logpkg.Str("brokerDir", rt.config.BrokerDir()),
		logpkg.Str("queueBackend", rt.config.Queue.Backend),
		logpkg.Str("queue", rt.config.Queue.Name))
	return rt, nil
}

func (r *Runtime) open(ctx context.Context, logger logpkg.Logger) error {
	cfg := r.config
	fsync, err := pebblestore.ParseFsyncMode(cfg.Broker.Fsync)
	if err != nil {
		return err
	}
	r.brokerDB, err = pebblestore.Open(pebblestore.Options{
		DataDir: cfg.BrokerDir(), Fsync: fsync, SlowCommit: slowCommit, Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("open broker store: %w", err)
	}
	r.broker = broker.New(r.brokerDB, broker.Options{Logger: logger})

	if cfg.Queue.Backend == cfgpkg.BackendPostgres {
		pg, err := postgres.Open(ctx, cfg.Queue.DSN, cfg.Queue.Name)
		if err != nil {
			return fmt.Errorf("open postgres queue: %w", err)
		}
		r.queue = pg
		return nil
	}
	db := r.brokerDB
	if filepath.Clean(cfg.QueueDir()) != filepath.Clean(cfg.BrokerDir()) {
		r.queueDB, err = pebblestore.Open(pebblestore.Options{
			DataDir: cfg.QueueDir(), Fsync: fsync, SlowCommit: slowCommit, Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("open queue store: %w", err)
		}
		db = r.queueDB
	}
	q, err := queue.Open(db, cfg.Queue.Name, queue.WithLogger(logger.WithComponent("queue")))
	if err != nil {
		return err
	}
	r.queue = q
	return nil
}

// Close releases the queue store and the databases.
func (r *Runtime) Close() error {
	var errs []error
	if r.queue != nil {
		errs = append(errs, r.queue.Close())
		r.queue = nil
	}
	if r.queueDB != nil {
		errs = append(errs, r.queueDB.Close())
		r.queueDB = nil
	}
	if r.brokerDB != nil {
		errs = append(errs, r.brokerDB.Close())
		r.brokerDB = nil
	}
	return errors.Join(errs...)
}

// CheckHealth probes both backends.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.brokerDB == nil || r.queue == nil {
		return errors.New("runtime closed")
	}
	it, err := r.brokerDB.NewIter(nil)
	if err != nil {
		return fmt.Errorf("broker store: %w", err)
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("broker store: %w", err)
	}
	if err := r.queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	return nil
}

// EnsureTopic provisions the configured topic.
func (r *Runtime) EnsureTopic(ctx context.Context) (broker.TopicMeta, error) {
	return r.broker.EnsureTopic(ctx, broker.TopicSpec{
		Name:              r.config.Broker.Topic,
		Partitions:        r.config.Broker.Partitions,
		ReplicationFactor: r.config.Broker.ReplicationFactor,
	})
}

// JobOptions are the defaults attached to every submitted job.
func (r *Runtime) JobOptions() queue.Options {
	return queue.Options{
		Retry:            r.config.Retry,
		RemoveOnComplete: r.config.Queue.RemoveOnComplete,
		RemoveOnFail:     r.config.Queue.RemoveOnFail,
	}
}

func (r *Runtime) Broker() *broker.Broker { return r.broker }

func (r *Runtime) Queue() queue.Store { return r.queue }

func (r *Runtime) Config() cfgpkg.Config { return r.config }
