package serverrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/eventpipe/internal/broker"
	cfgpkg "github.com/rzbill/eventpipe/internal/config"
	"github.com/rzbill/eventpipe/internal/dispatch"
	"github.com/rzbill/eventpipe/internal/enqueue"
	"github.com/rzbill/eventpipe/internal/event"
	"github.com/rzbill/eventpipe/internal/handler"
	"github.com/rzbill/eventpipe/internal/ingest"
	"github.com/rzbill/eventpipe/internal/observe"
	"github.com/rzbill/eventpipe/internal/runtime"
	httpserver "github.com/rzbill/eventpipe/internal/server/http"
	logpkg "github.com/rzbill/eventpipe/pkg/log"
)

// Options configures Run. Only Config is required.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// Handler defaults to the simulated handler.
	Handler handler.Handler
	// Sink receives every observability record in addition to the log
	// and NATS sinks.
	Sink observe.Sink
}

// Run starts the pipeline and blocks until ctx is cancelled or a component
// fails. A stalled partition is returned as an error so the process exits
// non-zero.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		logger = l
		restore := logpkg.RedirectStdLog(logger)
		defer restore()
	}

	logger.Info("Starting eventpipe",
		logpkg.Str("topic", cfg.Broker.Topic),
		logpkg.Str("group", cfg.Broker.Group),
		logpkg.Str("queue", cfg.Queue.Name),
		logpkg.Str("backend", cfg.Queue.Backend),
		logpkg.Int("concurrency", cfg.Worker.Concurrency),
		logpkg.Str("http", cfg.HTTP.Addr))

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.EnsureTopic(sctx); err != nil {
		return fmt.Errorf("ensure topic: %w", err)
	}

	sink, closeSink, err := buildSink(cfg, opts.Sink, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	validator, err := event.NewValidator(
		event.WithMaxBytes(cfg.Ingest.MaxRecordBytes),
		event.WithRules(cfg.Ingest.Rules...),
	)
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	gw, err := enqueue.New(rt.Queue(), rt.JobOptions(), logger)
	if err != nil {
		return err
	}
	group := rt.Broker().Group(cfg.Broker.Topic, cfg.Broker.Group)
	loop, err := ingest.New(ingest.Config{
		Topic:        cfg.Broker.Topic,
		Group:        cfg.Broker.Group,
		ConsumerID:   group.ID(),
		EnqueueRetry: cfg.Ingest.EnqueueRetry,
	}, groupSource{group}, validator, gw, sink, logger)
	if err != nil {
		return err
	}

	h := opts.Handler
	if h == nil {
		h = handler.NewSimulated(cfg.Worker.SimulatedWork, logger)
	}
	engine := dispatch.New(dispatch.Config{
		Concurrency:     cfg.Worker.Concurrency,
		PollInterval:    cfg.Worker.PollInterval,
		Lease:           cfg.Worker.Lease,
		ReclaimInterval: cfg.Worker.ReclaimInterval,
		DrainTimeout:    cfg.Worker.DrainTimeout,
	}, rt.Queue(), h, sink, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	if cfg.HTTP.Addr != "" {
		hsrv := httpserver.New(rt, logger)
		g.Go(func() error {
			defer hsrv.Close()
			if err := hsrv.ListenAndServe(gctx, cfg.HTTP.Addr); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	if cfg.Broker.Retention > 0 {
		g.Go(func() error {
			retain(gctx, rt.Broker(), cfg.Broker.Topic, cfg.Broker.Retention, logger)
			return nil
		})
	}

	err = g.Wait()
	if err != nil && errors.Is(err, context.Canceled) && sctx.Err() != nil {
		err = nil
	}
	if err != nil {
		logger.Error("Pipeline stopped", logpkg.Err(err))
		return err
	}
	logger.Info("Pipeline stopped")
	return nil
}

// groupSource adapts a broker group consumer to the ingestion loop.
type groupSource struct {
	*broker.GroupConsumer
}

func (s groupSource) Subscribe(ctx context.Context, partition uint32) (ingest.Stream, error) {
	sub, err := s.GroupConsumer.Subscribe(ctx, partition)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func buildSink(cfg cfgpkg.Config, extra observe.Sink, logger logpkg.Logger) (observe.Sink, func(), error) {
	sinks := []observe.Sink{observe.NewLogSink(logger), extra}
	if cfg.NATS.URL == "" {
		return observe.Multi(sinks...), func() {}, nil
	}
	nc, err := observe.DialNATS(cfg.NATS.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: %w", err)
	}
	sinks = append(sinks, observe.NewNATSSink(nc, cfg.NATS.SubjectPrefix, logger))
	return observe.Multi(sinks...), func() { _ = nc.Drain() }, nil
}

// retain trims fully consumed records older than maxAge on a ticker.
func retain(ctx context.Context, b *broker.Broker, topic string, maxAge time.Duration, logger logpkg.Logger) {
	interval := min(max(maxAge/4, time.Second), time.Minute)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := b.Retain(ctx, topic, maxAge)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Retention sweep failed", logpkg.Str("topic", topic), logpkg.Err(err))
			}
			continue
		}
		if n > 0 {
			logger.Debug("Retention sweep", logpkg.Str("topic", topic), logpkg.Int("trimmed", n))
		}
	}
}
