package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/txpilot/internal/core/config"
	"github.com/vietddude/txpilot/internal/core/worker"
	"github.com/vietddude/txpilot/internal/health"
	"github.com/vietddude/txpilot/internal/infra/postgres"
	redisclient "github.com/vietddude/txpilot/internal/infra/redis"
	"github.com/vietddude/txpilot/internal/infra/wallet"
	"github.com/vietddude/txpilot/internal/lifecycle"
	"github.com/vietddude/txpilot/internal/resilience"
)

// App wires the registry, its collaborators and the HTTP surface together
// and manages their lifecycle.
type App struct {
	cfg          *config.AppConfig
	registry     *lifecycle.Registry
	walletClient wallet.Client
	breaker      *resilience.CircuitBreaker
	grpcConn     *wallet.GRPCConn
	pruner       *worker.Pruner
	healthServer *health.Server
	redisClient  *redisclient.Client
	db           *postgres.DB
	log          *slog.Logger

	cancel context.CancelFunc
}

// NewApp builds an App from config with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	walletClient := wallet.NewHTTPClient(cfg.Wallet.Name, cfg.Wallet.URL, cfg.Wallet.Timeout)
	log.Info("Wallet client initialized", "name", walletClient.Name(), "url", cfg.Wallet.URL)

	breaker := resilience.NewCircuitBreaker(
		"submit",
		cfg.Breaker.Threshold,
		cfg.Breaker.ResetTimeout,
	)

	registry := lifecycle.NewRegistry(lifecycle.Config{
		Lookup:  walletClient.LookupStatus,
		Breaker: breaker,
		Confirm: lifecycle.ConfirmOptions{
			PollInterval: cfg.Confirm.PollInterval,
			Timeout:      cfg.Confirm.Timeout,
		},
		Logger: log,
	})

	app := &App{
		cfg:          cfg,
		registry:     registry,
		walletClient: walletClient,
		breaker:      breaker,
		log:          log,
	}

	// Optional gRPC wallet backend; kept alongside the JSON-RPC client for
	// deployments where submission goes through a generated stub.
	if cfg.Wallet.GRPCAddr != "" {
		conn, err := wallet.NewGRPCConn(context.Background(), cfg.Wallet.Name, cfg.Wallet.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial wallet grpc backend: %w", err)
		}
		app.grpcConn = conn
		log.Info("Wallet gRPC backend connected", "name", conn.Name(), "addr", cfg.Wallet.GRPCAddr)
	}

	// Optional Redis event history
	if cfg.Redis.URL != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		registry.Subscribe(redisClient.EventSink(log))
		app.redisClient = redisClient
		log.Info("Redis event history enabled")
	}

	// Optional Postgres archive
	var archive health.ArchiveSource
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		repo := postgres.NewArchiveRepo(db)
		registry.Subscribe(repo.EventSink(log))
		archive = repo
		app.db = db
		log.Info("Postgres archive enabled")
	}

	var history health.HistorySource
	if app.redisClient != nil {
		history = app.redisClient
	}
	app.healthServer = health.NewServer(registry, history, archive, cfg.Server.Port)
	app.pruner = worker.NewPruner(registry, cfg.Registry.KeepRecords, cfg.Registry.PruneInterval, log)

	return app, nil
}

// Registry exposes the operation registry for callers embedding the app.
func (a *App) Registry() *lifecycle.Registry {
	return a.registry
}

// Wallet exposes the wallet client for building submit operations.
func (a *App) Wallet() wallet.Client {
	return a.walletClient
}

// DefaultPolicy returns the configured submit retry policy.
func (a *App) DefaultPolicy() resilience.Policy {
	return resilience.Policy{
		Name:            "submit",
		MaxAttempts:     a.cfg.Retry.MaxAttempts,
		BaseDelay:       a.cfg.Retry.BaseDelay,
		MaxDelay:        a.cfg.Retry.MaxDelay,
		ExponentialBase: a.cfg.Retry.ExponentialBase,
		JitterFactor:    a.cfg.Retry.JitterFactor,
	}
}

// Start launches the background workers and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.grpcConn != nil {
		if err := a.grpcConn.Ready(ctx); err != nil {
			a.log.Warn("Wallet gRPC backend not ready", "error", err)
		}
	}

	go a.pruner.Start(ctx)

	go func() {
		a.log.Info("Health server listening", "port", a.cfg.Server.Port)
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the app down, waiting for in-flight operations up to ctx's
// deadline.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping txpilot...")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.registry.Stop(ctx); err != nil {
		a.log.Warn("Registry stop timed out", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	if a.grpcConn != nil {
		if err := a.grpcConn.Close(); err != nil {
			a.log.Warn("Failed to close wallet gRPC backend", "error", err)
		}
	}

	if err := a.walletClient.Close(); err != nil {
		a.log.Warn("Failed to close wallet client", "error", err)
	}

	return a.healthServer.Stop(ctx)
}
