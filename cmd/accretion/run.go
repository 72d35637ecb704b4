package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	"github.com/ajitpratap0/accretion/internal/dispatcher"
	"github.com/ajitpratap0/accretion/internal/ops"
	"github.com/ajitpratap0/accretion/pkg/checkpoint"
	"github.com/ajitpratap0/accretion/pkg/clients"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/registry"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/lease"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/observability"
	"github.com/ajitpratap0/accretion/pkg/sink"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an indexing worker",
		Long: `Run an indexing worker: scheduler, dispatcher, janitor, and the
operator API, wired to the stores and queue named in the configuration.
Multiple workers sharing the same stores and queue cooperate through
leases; any of them can resume any connector's sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "accretion.yaml", "Path to worker configuration file")
	return cmd
}

// workerStores holds the backend implementations picked by config.
type workerStores struct {
	attempts    coordinator.AttemptStore
	connectors  coordinator.ConfigStore
	checkpoints checkpoint.Store
	leases      lease.Store
	resolver    credentials.Resolver
	sink        sink.Sink
	cleanup     []func()
}

func (s *workerStores) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func runWorker(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "worker"))

	if err := observability.Init(cfg.Observability); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.close()

	coord, err := coordinator.New(coordinator.Deps{
		WorkerID:      cfg.Worker.ID,
		LeaseTTL:      cfg.Worker.LeaseTTL,
		Retry:         cfg.Retry,
		Attempts:      stores.attempts,
		Connectors:    stores.connectors,
		Checkpoints:   stores.checkpoints,
		Leases:        stores.leases,
		Resolver:      stores.resolver,
		Sink:          stores.sink,
		CreateFetcher: registry.Create,
		Tracer:        observability.NewAttemptTracer(),
	})
	if err != nil {
		return err
	}

	queue, err := buildQueue(cfg.Queue)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	disp, err := dispatcher.NewDispatcher(cfg.Dispatcher, coord, queue)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Janitor(ctx, cfg.Worker.LeaseTTL)
	}()

	if cfg.HasScheduler() {
		sched := dispatcher.NewScheduler(cfg.Scheduler, stores.connectors, stores.attempts, stores.leases, queue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	var srv *ops.Server
	opsErr := make(chan error, 1)
	if cfg.Ops.Enabled {
		srv = ops.NewServer(cfg.Ops, ops.Deps{
			Coordinator: coord,
			Connectors:  stores.connectors,
			Leases:      stores.leases,
			Queue:       queue,
		})
		go func() { opsErr <- srv.Start() }()
	}

	dispErr := make(chan error, 1)
	go func() { dispErr <- disp.Run(ctx) }()

	log.Info("worker started",
		zap.String("worker_id", cfg.Worker.ID),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("checkpoint_backend", cfg.Checkpoints.Backend),
		zap.Bool("scheduler", cfg.HasScheduler()),
		zap.Bool("ops", cfg.Ops.Enabled))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-opsErr:
		stop()
		if err != nil {
			log.Error("ops server failed", zap.Error(err))
			return err
		}
	case err := <-dispErr:
		stop()
		if err != nil {
			log.Error("dispatcher failed", zap.Error(err))
			return err
		}
	}

	// Running attempts see the cancellation at their next batch boundary,
	// checkpoint, and exit; Stop waits for them up to the grace period.
	disp.Stop(cfg.Worker.ShutdownGrace)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown failed", zap.Error(err))
		}
	}

	_ = queue.Close()
	wg.Wait()

	obsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(obsCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}

	log.Info("worker stopped")
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*workerStores, error) {
	s := &workerStores{}

	switch cfg.Database.Backend {
	case "postgres":
		pool, err := clients.NewPostgresPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns, log)
		if err != nil {
			return nil, err
		}
		s.cleanup = append(s.cleanup, pool.Close)

		if s.attempts, err = coordinator.NewPostgresAttemptStore(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
		if s.leases, err = lease.NewPostgresStore(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
		// Connectors declared in the config file win; otherwise the
		// catalog lives in the database.
		if len(cfg.Connectors) > 0 {
			s.connectors = coordinator.NewStaticConfigStore(cfg.Connectors)
		} else if s.connectors, err = coordinator.NewPostgresConfigStore(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
	case "memory":
		s.attempts = coordinator.NewMemoryAttemptStore()
		s.leases = lease.NewMemoryStore()
		s.connectors = coordinator.NewStaticConfigStore(cfg.Connectors)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown database backend %q", cfg.Database.Backend)
	}

	inner, err := buildCheckpointBackend(ctx, cfg.Checkpoints)
	if err != nil {
		s.close()
		return nil, err
	}
	if c, ok := inner.(interface{ Close() error }); ok {
		s.cleanup = append(s.cleanup, func() { _ = c.Close() })
	}
	s.checkpoints = checkpoint.NewMonotonicStore(inner)

	switch cfg.Sink.Backend {
	case "http":
		httpClient := clients.NewHTTPClient(nil, log)
		s.sink = sink.NewHTTPSink(sink.HTTPConfig{
			URL:            cfg.Sink.URL,
			AuthToken:      cfg.Sink.AuthToken,
			RequestTimeout: cfg.Sink.RequestTimeout,
		}, httpClient)
	case "memory":
		s.sink = sink.NewMemorySink()
	default:
		s.close()
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown sink backend %q", cfg.Sink.Backend)
	}

	s.resolver = credentials.FromConfig(cfg.Credentials)

	return s, nil
}

func buildCheckpointBackend(ctx context.Context, cfg config.CheckpointStoreConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "s3", "gcs":
		codec, err := checkpoint.NewCodec(cfg.Compression, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		if cfg.Backend == "s3" {
			return checkpoint.NewS3Store(ctx, checkpoint.S3Config{
				Bucket:   cfg.Bucket,
				Prefix:   cfg.Prefix,
				Region:   cfg.Region,
				Endpoint: cfg.Endpoint,
			}, codec)
		}
		return checkpoint.NewGCSStore(ctx, checkpoint.GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
		}, codec)
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown checkpoint backend %q", cfg.Backend)
	}
}

func buildQueue(cfg config.QueueConfig) (dispatcher.Queue, error) {
	switch cfg.Backend {
	case "kafka":
		return dispatcher.NewKafkaQueue(cfg)
	case "memory":
		return dispatcher.NewMemoryQueue(cfg.BufferSize), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown queue backend %q", cfg.Backend)
	}
}
