package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DanielPopoola/librarian/internal/adapters/consumer"
	"github.com/DanielPopoola/librarian/internal/adapters/memory"
	"github.com/DanielPopoola/librarian/internal/adapters/messaging"
	"github.com/DanielPopoola/librarian/internal/adapters/postgres"
	"github.com/DanielPopoola/librarian/internal/config"
	"github.com/DanielPopoola/librarian/internal/core/ports"
	"github.com/DanielPopoola/librarian/internal/core/service"
	"github.com/DanielPopoola/librarian/internal/observability"
	"github.com/DanielPopoola/librarian/internal/worker"
)

type stores struct {
	requests     ports.PendingRequestRepository
	lendings     ports.LendingRepository
	books        ports.BookRepository
	readers      ports.ReaderRepository
	correlations ports.CorrelationStore
	lock         ports.BootstrapLock
	close        func()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("librarian exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("librarian exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting librarian",
		"env", cfg.Primary.Env,
		"bus", cfg.Bus.Driver,
		"database", cfg.Database.Driver,
		"resolve_mode", cfg.Lending.ResolveMode,
	)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	metrics := observability.NewMetrics()
	clock := service.SystemClock()

	retrier := service.NewConflictRetrier(service.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Interval:    cfg.Retry.Delay,
	}, clock, metrics)

	registry := service.NewCorrelationRegistry(st.correlations, bus, clock, metrics, service.CorrelationConfig{
		TTL:        cfg.Correlation.TTL,
		MaxResends: cfg.Correlation.MaxResends,
		SweepBatch: cfg.Correlation.SweepBatch,
	}, logger.With("component", "correlation"))

	saga := service.NewSignupSaga(st.requests, st.readers, bus, retrier, clock, metrics, logger.With("component", "signup_saga"))

	lending := service.NewLendingActivation(st.lendings, st.books, st.readers, registry, bus, retrier, clock, metrics,
		service.LendingConfig{
			ResolveMode: service.ResolveMode(cfg.Lending.ResolveMode),
			Resolve: service.RetryPolicy{
				MaxAttempts: cfg.Lending.ResolveMaxAttempts,
				Interval:    cfg.Lending.ResolveInterval,
			},
		}, logger.With("component", "lending"))

	responder := service.NewValidationResponder(st.books, st.readers, st.lendings, bus, clock,
		cfg.Lending.MaxOutstandingLendings, logger.With("component", "validation"))

	projector := service.NewReplicaProjector(st.books, st.readers, logger.With("component", "projection"))

	queues := consumer.Queues(consumer.Services{
		Saga:      saga,
		Lending:   lending,
		Responder: responder,
		Projector: projector,
	}, cfg.Worker.HandlerTimeout, metrics, logger)

	reconciler := worker.NewSagaReconciler(st.requests, saga, clock,
		cfg.Saga.ReconcileInterval, cfg.Saga.StaleAfter, cfg.Saga.BatchSize, logger.With("component", "saga_reconciler"))
	lendingReconciler := worker.NewLendingReconciler(st.lendings, lending, clock,
		cfg.Lending.ReconcileInterval, cfg.Lending.StaleAfter, cfg.Lending.BatchSize, logger.With("component", "lending_reconciler"))
	sweeper := worker.NewCorrelationSweeper(registry, cfg.Correlation.SweepInterval, logger.With("component", "correlation_sweeper"))

	if cfg.Worker.Bootstrap {
		bootstrap := worker.NewBootstrap(st.lock, uuid.NewString(), cfg.Worker.BootstrapTTL, logger.With("component", "bootstrap"), reconciler, lendingReconciler, sweeper)
		if _, err := bootstrap.Run(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, q := range queues {
		g.Go(func() error {
			return bus.Subscribe(gctx, q.Name, q.Router.Types(), q.Router.Dispatch)
		})
	}

	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		lendingReconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGrace)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down librarian")
	return err
}

func metricsMux(metrics *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory stores, state is lost on exit")
		return &stores{
			requests:     memory.NewPendingRequestStore(),
			lendings:     memory.NewLendingStore(),
			books:        memory.NewBookStore(),
			readers:      memory.NewReaderStore(),
			correlations: memory.NewCorrelationStore(),
			lock:         memory.NewBootstrapLock(service.SystemClock()),
			close:        func() {},
		}, nil
	}

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(cfg.Database.DSN()); err != nil {
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &stores{
		requests:     postgres.NewPendingRequestRepository(db),
		lendings:     postgres.NewLendingRepository(db),
		books:        postgres.NewBookRepository(db),
		readers:      postgres.NewReaderRepository(db),
		correlations: postgres.NewCorrelationStore(db),
		lock:         postgres.NewBootstrapLock(db),
		close:        db.Close,
	}, nil
}

func openBus(cfg *config.Config, logger *slog.Logger) (ports.Bus, error) {
	switch cfg.Bus.Driver {
	case "kafka":
		return messaging.NewKafkaBus(messaging.KafkaConfig{
			Brokers: cfg.Bus.Kafka.BrokerList(),
			Topic:   cfg.Bus.Kafka.Topic,
			GroupID: cfg.Bus.Kafka.GroupID,
			Workers: cfg.Bus.Kafka.Workers,
		}, logger.With("component", "kafka")), nil
	case "memory":
		return messaging.NewMemoryBus(logger.With("component", "memory_bus")), nil
	default:
		bus, err := messaging.NewRabbitMQBus(messaging.RabbitMQConfig{
			URL:      cfg.Bus.RabbitMQ.URL,
			Exchange: cfg.Bus.RabbitMQ.Exchange,
			Prefetch: cfg.Bus.RabbitMQ.Prefetch,
		}, logger.With("component", "rabbitmq"))
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return bus, nil
	}
}
