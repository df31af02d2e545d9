package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/bootstrap"
	httpx "github.com/target/fbdispatch/internal/http"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	cfgPtr := &cfg
	logger = bootstrap.ConfigureLogger(cfgPtr, logger)

	logStartupInfo(ctx, logger, cfgPtr)

	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	infra, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer infra.close(ctx, logger)

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, infra.db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfgPtr,
		DB:          infra.db,
		RedisClient: infra.redis,
		JS:          infra.js,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer func() {
		if cerr := services.Observability.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metrics failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   cfgPtr,
		Services: services,
		DB:       infra.db,
		JS:       infra.js,
		Ready:    infra.readinessChecks(services),
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting fbdispatch",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"nats_url", cfg.NATS.URL,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}

type infrastructure struct {
	db    *sql.DB
	redis redis.UniversalClient
	nc    *nats.Conn // nil when no enabled service talks to the broker
	js    jetstream.JetStream
}

// initInfrastructure connects shared dependencies used by the service runtime.
func initInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*infrastructure, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Consumers:   bootstrap.ConsumerLoops(cfg),
		Logger:      logger,
	}
	db, err := bootstrap.ConnectDB(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	infra := &infrastructure{db: db}

	infra.redis, err = bootstrap.ConnectRedis(ctx, dbCfg)
	if err != nil {
		return nil, infra.abort(ctx, logger, fmt.Errorf("connect redis: %w", err))
	}

	if cfg.NeedsQueue() {
		infra.nc, infra.js, err = bootstrap.ConnectNATS(ctx, cfg.NATS, logger)
		if err != nil {
			return nil, infra.abort(ctx, logger, fmt.Errorf("connect nats: %w", err))
		}
	}

	return infra, nil
}

func (i *infrastructure) abort(ctx context.Context, logger *slog.Logger, cause error) error {
	if cerr := i.closeAll(); cerr != nil {
		logger.ErrorContext(ctx, "close infrastructure after startup failure", "error", cerr)
		return errors.Join(cause, cerr)
	}
	return cause
}

func (i *infrastructure) close(ctx context.Context, logger *slog.Logger) {
	if err := i.closeAll(); err != nil {
		logger.ErrorContext(ctx, "close infrastructure failed", "error", err)
	}
}

func (i *infrastructure) closeAll() error {
	var errs []error
	if i.nc != nil {
		if err := i.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (i *infrastructure) readinessChecks(services bootstrap.ServiceContainer) map[string]httpx.ReadinessCheck {
	checks := map[string]httpx.ReadinessCheck{
		"postgres": bootstrap.DocumentStoreCheck(i.db),
		"redis":    services.Blobs.Health,
	}
	if i.nc != nil {
		nc := i.nc
		checks["nats"] = func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		}
	}
	return checks
}
