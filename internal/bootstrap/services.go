package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/adapters/services"
	"github.com/target/sso-ticket-core/internal/adapters/sweeper"
	"github.com/target/sso-ticket-core/internal/codec"
	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/service"
)

// ServiceContainer holds the wired ticket core.
type ServiceContainer struct {
	Registry      ports.TicketRegistry
	Authenticator *service.AuthenticationManager
	Tickets       *service.TicketService
	Transcoder    *codec.Transcoder
	// ServiceFile is nil when no registered services file is configured.
	ServiceFile *services.FileRegistry
	Metrics     statsd.Sink

	closer io.Closer
}

// Close releases resources owned by the registry.
func (c ServiceContainer) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ServiceDeps contains the shared connections the services are built on.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

//nolint:ireturn // a nil interface disables metrics
func buildMetricsSink(logger *slog.Logger, cfg config.ObservabilityConfig, backend config.RegistryBackend) statsd.Sink {
	if !cfg.Metrics.IsEnabled() {
		return nil
	}
	tags := statsd.ParseTags(cfg.Metrics.Tags)
	tags["registry_backend"] = string(backend)
	client, err := statsd.NewClient(statsd.Config{
		Enabled:    true,
		Address:    cfg.Metrics.StatsdAddress,
		Prefix:     cfg.Metrics.Prefix,
		Logger:     logger,
		GlobalTags: tags,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// TicketPolicies maps the tickets configuration to expiration policies.
func TicketPolicies(cfg config.TicketsConfig) service.TicketPolicies {
	return service.TicketPolicies{
		GrantingTicket: ticket.GrantingTicketPolicy{
			Lifetime: cfg.GrantingMaxLifetime,
			Idle:     cfg.GrantingIdleTimeout,
		},
		ServiceTicket: ticket.MultiTimeUseOrTimeoutPolicy{
			Uses: cfg.ServiceMaxUses,
			TTL:  cfg.ServiceTTL,
		},
		ProxyGrantingTicket: ticket.GrantingTicketPolicy{
			Lifetime: cfg.ProxyGrantingTTL,
			Idle:     min(cfg.GrantingIdleTimeout, cfg.ProxyGrantingTTL),
		},
	}
}

// NewServices wires the registry, authentication and ticket services.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := &data.RealTimeProvider{}
	metrics := buildMetricsSink(logger, cfg.Observability, cfg.Registry.Backend)

	transcoder, err := BuildTranscoder(cfg.Transcoder, metrics)
	if err != nil {
		return ServiceContainer{}, err
	}
	cipher, err := CreateCipher(cfg.PayloadKey, cfg.IsDev, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	registry, closer, err := BuildRegistry(RegistryDeps{
		Config: cfg.Registry,
		DB:     deps.DB,
		Redis:  deps.RedisClient,
		Codec:  transcoder,
		Cipher: cipher,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	handlers, err := BuildAuthHandlers(ctx, AuthConfig{Config: cfg.Auth, IsDev: cfg.IsDev, Logger: logger})
	if err != nil {
		return ServiceContainer{}, errors.Join(err, closer.Close())
	}
	policy, err := service.ParseAuthPolicy(string(cfg.Auth.Policy))
	if err != nil {
		return ServiceContainer{}, errors.Join(err, closer.Close())
	}
	authenticator := service.NewAuthenticationManager(service.AuthenticationManagerOptions{
		Handlers: handlers,
		Config:   service.AuthenticationManagerConfig{Policy: policy, Clock: clock},
		Logger:   logger,
		Metrics:  metrics,
	})

	ticketDeps := service.TicketServiceDeps{Registry: registry, Auth: authenticator}
	var serviceFile *services.FileRegistry
	if cfg.ServiceRegistry.File != "" {
		serviceFile, err = services.NewFileRegistry(cfg.ServiceRegistry.File, logger)
		if err != nil {
			return ServiceContainer{}, errors.Join(fmt.Errorf("load service registry: %w", err), closer.Close())
		}
		ticketDeps.Services = serviceFile
	} else {
		logger.Warn("no service registry file configured; proxying is refused and no attributes are released")
	}

	tickets := service.NewTicketService(service.TicketServiceOptions{
		Deps: ticketDeps,
		Config: service.TicketServiceConfig{
			Policies:               TicketPolicies(cfg.Tickets),
			IDs:                    ticket.NewIDGenerator(cfg.Tickets.IDSuffix),
			Clock:                  clock,
			MultiUseServiceTickets: cfg.Tickets.MultiUseServiceTickets,
			MaxRetries:             cfg.Tickets.MaxRetries,
			MaxChainDepth:          cfg.Tickets.MaxChainDepth,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	return ServiceContainer{
		Registry:      registry,
		Authenticator: authenticator,
		Tickets:       tickets,
		Transcoder:    transcoder,
		ServiceFile:   serviceFile,
		Metrics:       metrics,
		closer:        closer,
	}, nil
}

// ServiceOrchestrationConfig contains the dependencies for running background services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func newSweeperBackgroundService(cfg *ServiceOrchestrationConfig, logger *slog.Logger) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "sweeper",
		start: func(ctx context.Context) error {
			runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
				Registry: cfg.Services.Registry,
				Tickets:  cfg.Services.Tickets,
				Config:   cfg.Config.Sweeper,
				Logger:   logger,
				Metrics:  cfg.Services.Metrics,
			})
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
	}
}

func newStatsBackgroundService(cfg *ServiceOrchestrationConfig, logger *slog.Logger) backgroundService {
	return backgroundService{
		mode: config.ServiceModeStats,
		name: "stats",
		start: func(ctx context.Context) error {
			stats, err := service.NewStatsService(service.StatsServiceOptions{
				Registry: cfg.Services.Registry,
				Tickets:  cfg.Services.Tickets,
				Interval: cfg.Config.Sweeper.StatsInterval,
				Logger:   logger,
				Metrics:  cfg.Services.Metrics,
			})
			if err != nil {
				return err
			}
			return stats.Run(ctx)
		},
	}
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) []backgroundService {
	return []backgroundService{
		newSweeperBackgroundService(cfg, logger),
		newStatsBackgroundService(cfg, logger),
	}
}

// RunServicesWithShutdown starts all enabled background services and blocks until
// a shutdown signal is received or a service fails. SIGHUP reloads the registered
// services file.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(serviceCtx)
	for _, svc := range buildBackgroundServices(cfg, logger) {
		if !enabled[svc.mode] {
			continue
		}
		g.Go(func() error {
			if err := svc.start(gctx); err != nil {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			logger.Info(svc.name + " stopped")
			return nil
		})
		logger.InfoContext(ctx, "background service started", "service", svc.name, "mode", svc.mode)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	for {
		select {
		case <-hup:
			reloadServiceFile(cfg.Services.ServiceFile, logger)
		case <-quit:
			logger.Info("shutting down services...")
			cancel()
			return waitForStop(done, logger)
		case err := <-done:
			if err != nil {
				logger.Error("service error", "error", err)
			}
			return err
		}
	}
}

func reloadServiceFile(f *services.FileRegistry, logger *slog.Logger) {
	if f == nil {
		logger.Info("SIGHUP ignored, no service registry file configured")
		return
	}
	if err := f.Reload(); err != nil {
		logger.Error("service registry reload failed, keeping previous definitions", "error", err)
	}
}

// waitForStop waits for background services to finish with timeout.
func waitForStop(done <-chan error, logger *slog.Logger) error {
	select {
	case err := <-done:
		return err
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for background services to stop")
		return nil
	}
}
