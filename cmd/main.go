package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/engage/internal/adapters/http/api"
	"github.com/okian/engage/internal/adapters/http/ws"
	"github.com/okian/engage/internal/adapters/mq/queue"
	"github.com/okian/engage/internal/adapters/pubsub"
	"github.com/okian/engage/internal/adapters/repository"
	app "github.com/okian/engage/internal/app"
	"github.com/okian/engage/internal/config"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.GetRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, "engage exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run serves until ctx ends, then shuts down in dependency order.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	if a.hub != nil {
		go a.hub.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store_driver", cfg.StoreDriver),
			logger.Bool("ws_enabled", cfg.WSEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// application holds the wired components of one process.
type application struct {
	svc     *app.Service
	bus     *pubsub.Bus
	hub     *ws.Hub
	handler http.Handler
}

// close stops the service, which drains the workers and releases the queue
// and store, then closes the bus.
func (a *application) close() {
	a.svc.Stop()
	a.bus.Close()
}

// build wires the store, queue, bus, service and HTTP routes from cfg.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	log := logger.Get()

	queueOpts := []queue.Option{
		queue.WithMaxAttempts(cfg.QueueMaxAttempts),
		queue.WithBackoff(cfg.RetryBackoff(), cfg.RetryBackoffMax()),
		queue.WithLeaseTimeout(cfg.LeaseTimeout()),
		queue.WithPollInterval(cfg.QueuePollInterval()),
		queue.WithRetention(cfg.KeepCompleted, cfg.KeepFailed),
		queue.WithLogger(log.Named("queue")),
	}

	var (
		store repository.Store
		q     queue.Queue
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := repository.OpenPostgres(ctx, cfg.DatabaseURL,
			repository.WithPool(cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime()),
			repository.WithLogger(log.Named("postgres")),
		)
		if err != nil {
			return nil, err
		}
		if err := queue.Migrate(ctx, pg.DB()); err != nil {
			_ = pg.Close()
			return nil, err
		}
		store = pg
		q = queue.NewPostgresQueue(pg.DB(), queueOpts...)
	default:
		store = repository.NewMemoryStore(repository.WithLogger(log.Named("memstore")))
		q = queue.NewInMemoryQueue(queueOpts...)
	}

	bus := pubsub.NewBus(
		pubsub.WithBuffer(cfg.NotifyBuffer),
		pubsub.WithLogger(log.Named("pubsub")),
	)

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithQueue(q),
		app.WithBus(bus),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithJobTimeout(cfg.JobTimeout()),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithDefaultMaxScore(cfg.DefaultMaxScore),
		app.WithSeedRules(cfg.ScoringRules),
		app.WithRuleRefreshInterval(cfg.RuleRefreshInterval()),
		app.WithMaxPageLimit(cfg.MaxPageLimit),
	)

	a := &application{svc: svc, bus: bus}
	apiOpts := []api.Option{
		api.WithMaxBatchSize(cfg.MaxBatchSize),
		api.WithLogger(log.Named("api")),
	}
	if cfg.WSEnabled {
		a.hub = ws.New(bus, ws.WithLogger(log.Named("ws")))
		apiOpts = append(apiOpts, api.WithWebSocket(a.hub))
	}

	mux := http.NewServeMux()
	api.NewServer(svc, apiOpts...).Register(mux)
	a.handler = mux
	return a, nil
}
