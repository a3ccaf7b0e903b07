// Command missiongate launches the mission gateway entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/internal/auth"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/infra/memory"
	"github.com/kalefund/missiongate/internal/infra/persistence/migrations"
	"github.com/kalefund/missiongate/internal/infra/persistence/postgres"
	httpserver "github.com/kalefund/missiongate/internal/infra/server/http"
	"github.com/kalefund/missiongate/internal/mission"
	"github.com/kalefund/missiongate/internal/observability"
	"github.com/kalefund/missiongate/internal/oracle"
	"github.com/kalefund/missiongate/internal/policy"
	"github.com/kalefund/missiongate/internal/relay"
	"github.com/kalefund/missiongate/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	gatewayLoggerPrefix      = "missiongate "
	telemetryBusBuffer       = 64
	deadLetterCapacity       = 256
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	relayDrainTimeout        = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newGatewayLogger()

	cfg, loadedFromFile, err := config.Load(resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, oracle=%s", cfg.Environment, cfg.Oracle.Mode)

	appLogger := observability.NewLogrusLogger(logLevel(cfg.Environment))
	observability.SetLogger(appLogger)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	bus := observability.NewInMemoryTelemetryBus(telemetryBusBuffer)
	metrics := observability.NewRuntimeMetrics()
	dlq := observability.NewDeadLetterQueue(deadLetterCapacity)

	store, pool, err := buildLedger(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise ledger: %v", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.Fatalf("initialise oracle provider: %v", err)
	}
	reader := oracle.NewReader(provider, store, cfg.Oracle,
		oracle.WithLogger(appLogger),
		oracle.WithMetrics(metrics),
		oracle.WithTelemetryBus(bus))

	authorizer, err := auth.NewJWTAuthorizer(cfg.Auth)
	if err != nil {
		logger.Fatalf("initialise authorizer: %v", err)
	}

	validator, err := buildValidator(cfg.Mission.ProofPolicyScript)
	if err != nil {
		logger.Fatalf("initialise proof policy: %v", err)
	}

	orchestrator := mission.NewOrchestrator(store, reader, authorizer, cfg,
		mission.WithValidator(validator),
		mission.WithOrchestratorLogger(appLogger))

	relayer := relay.NewRelay(store.Outbox(), relay.NewBusPublisher(bus),
		relay.WithLogger(appLogger),
		relay.WithMetrics(metrics),
		relay.WithDeadLetterQueue(dlq))

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := relayer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("outbox relay: %v", err)
		}
	})

	apiServer := buildAPIServer(cfg, orchestrator, reader, authorizer, bus, appLogger)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("API listening on %s", apiServer.Addr)

	logger.Print("missiongate started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		relayer:    relayer,
		bus:        bus,
		pool:       pool,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayLogger() *log.Logger {
	return log.New(os.Stdout, gatewayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func logLevel(env config.Environment) string {
	if env == config.EnvProd {
		return "info"
	}
	return "debug"
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.Settings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildLedger(ctx context.Context, logger *log.Logger, cfg config.Settings) (ledger.Ledger, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		logger.Print("no database configured; using in-memory ledger")
		return memory.NewLedger(), nil, nil
	}
	if err := migrations.Apply(ctx, cfg.DatabaseURL, logger); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return postgres.New(pool), pool, nil
}

func buildProvider(cfg config.Settings) (oracle.Provider, error) {
	switch cfg.Oracle.Mode {
	case config.OracleModeMock:
		return oracle.NewMockProvider(), nil
	case config.OracleModeREST:
		return oracle.NewRESTProvider(cfg.Oracle)
	default:
		return nil, fmt.Errorf("unknown oracle mode %q", cfg.Oracle.Mode)
	}
}

func buildValidator(scriptPath string) (policy.Validator, error) {
	if scriptPath == "" {
		return policy.AcceptAll{}, nil
	}
	script, err := os.ReadFile(filepath.Clean(scriptPath))
	if err != nil {
		return nil, fmt.Errorf("read proof policy script: %w", err)
	}
	return policy.New(string(script))
}

func buildAPIServer(cfg config.Settings, orchestrator *mission.Orchestrator, reader *oracle.Reader, authorizer auth.Authorizer, bus observability.TelemetryBus, logger observability.Logger) *http.Server {
	handler := httpserver.NewHandler(orchestrator, reader, authorizer, bus, logger)
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	relayer    *relay.Relay
	bus        *observability.InMemoryTelemetryBus
	pool       *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	var stepErrs []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			stepErrs = append(stepErrs, fmt.Errorf("%s: %w", name, err))
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.relayer != nil {
		shutdownStep("draining outbox relay", relayDrainTimeout, func(stepCtx context.Context) error {
			return cfg.relayer.Drain(stepCtx)
		})
	}

	if cfg.bus != nil {
		cfg.bus.Close()
	}
	if cfg.pool != nil {
		cfg.pool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	if err := observability.AggregateErrors("graceful shutdown", stepErrs); err != nil {
		logger.Printf("shutdown finished with errors: %v", err)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
