package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/bootstrap"
)

// core is a wired ticket core plus the connections it owns.
type core struct {
	services    bootstrap.ServiceContainer
	db          *sql.DB
	redisClient redis.UniversalClient
}

func (c *core) Close() error {
	closeErr := c.services.Close()
	return errors.Join(closeErr, closeInfra(c.db, c.redisClient))
}

// connectInfra connects only the backing store the configured registry uses.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectInfra(cmdCtx *commandContext) (*sql.DB, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cmdCtx.Config.Postgres,
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	}
	switch cmdCtx.Config.Registry.Backend {
	case config.RegistryPostgres:
		db, err := bootstrap.ConnectDB(cmdCtx.Ctx, dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		return db, nil, nil
	case config.RegistryRedis:
		client, err := bootstrap.ConnectRedis(cmdCtx.Ctx, dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return nil, client, nil
	default:
		return nil, nil, nil
	}
}

// openCore wires the ticket core against the configured registry.
func openCore(cmdCtx *commandContext) (*core, error) {
	if cmdCtx.Config.Registry.Backend == config.RegistryMemory {
		cmdCtx.Logger.Warn("registry backend is memory; this process starts with an empty registry")
	}
	db, redisClient, err := connectInfra(cmdCtx)
	if err != nil {
		return nil, err
	}
	services, err := bootstrap.NewServices(cmdCtx.Ctx, &bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, closeInfra(db, redisClient))
	}
	return &core{services: services, db: db, redisClient: redisClient}, nil
}

// withCore runs f against a wired core, cancelled on SIGINT/SIGTERM or after defaultCommandTimeout.
func withCore(cmdCtx *commandContext, f func(context.Context, *core) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	c, err := openCore(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close failed", "error", cerr)
		}
	}()
	return f(ctx, c)
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
