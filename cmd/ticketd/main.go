package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))
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
	logger = bootstrap.InitLogger(cfg.LogLevel)

	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	db, redisClient, err := initInfrastructure(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close database failed", "error", cerr)
			}
		}()
		if cfg.Postgres.RunMigrationsOnStart {
			if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
				return err
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
	}
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer func() {
		if cerr := services.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close registry failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(ctx, &bootstrap.ServiceOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting ticketd",
		"registry_backend", cfg.Registry.Backend,
		"auth_policy", cfg.Auth.Policy,
		"service_registry_file", cfg.ServiceRegistry.File,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}

// initInfrastructure connects the backing store the configured registry needs.
// Connections a backend does not use are left nil.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	}

	switch cfg.Registry.Backend {
	case config.RegistryPostgres:
		db, err := bootstrap.ConnectDB(ctx, dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		return db, nil, nil
	case config.RegistryRedis:
		redisClient, err := bootstrap.ConnectRedis(ctx, dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return nil, redisClient, nil
	case config.RegistryMemory, config.RegistryBolt:
		return nil, nil, nil
	default:
		return nil, nil, errors.New("unknown registry backend " + string(cfg.Registry.Backend))
	}
}
