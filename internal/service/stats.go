package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

// RegistryStats is a point-in-time census of the registry.
type RegistryStats struct {
	Total   int
	ByKind  map[ticket.Kind]int
	Invalid int
	Proxies int
}

// StatsServiceOptions groups dependencies for StatsService.
type StatsServiceOptions struct {
	Registry ports.TicketRegistry
	Tickets  *TicketService
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// StatsService periodically reports registry gauges.
type StatsService struct {
	registry ports.TicketRegistry
	tickets  *TicketService
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewStatsService constructs a StatsService.
func NewStatsService(opts StatsServiceOptions) (*StatsService, error) {
	if opts.Registry == nil || opts.Tickets == nil {
		return nil, errors.New("TicketRegistry and TicketService are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{
		registry: opts.Registry,
		tickets:  opts.Tickets,
		interval: opts.Interval,
		logger:   logger.With("component", "stats_service"),
		metrics:  opts.Metrics,
	}, nil
}

// Collect counts every ticket in the registry.
func (s *StatsService) Collect(ctx context.Context) (RegistryStats, error) {
	stats := RegistryStats{ByKind: map[ticket.Kind]int{}}
	all, err := s.registry.GetAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("list tickets: %w", err)
	}
	for _, t := range all {
		stats.Total++
		stats.ByKind[t.Kind()]++
		if tgt, ok := t.(*ticket.GrantingTicket); ok && !tgt.IsRoot() {
			stats.Proxies++
		}
		if valid, validErr := s.tickets.chainValid(ctx, t); validErr != nil || !valid {
			stats.Invalid++
		}
	}
	return stats, nil
}

// Run reports gauges every interval until the context is cancelled.
func (s *StatsService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting stats service", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.report(ctx)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *StatsService) report(ctx context.Context) {
	stats, err := s.Collect(ctx)
	if err != nil {
		if !isContextCancellation(err) {
			s.logger.ErrorContext(ctx, "collect registry stats failed", "error", err)
		}
		return
	}
	if s.metrics == nil {
		return
	}
	for _, kind := range []ticket.Kind{ticket.KindGrantingTicket, ticket.KindServiceTicket} {
		s.metrics.Gauge("registry.tickets", float64(stats.ByKind[kind]), map[string]string{"kind": string(kind)})
	}
	s.metrics.Gauge("registry.proxy_granting_tickets", float64(stats.Proxies), nil)
	s.metrics.Gauge("registry.invalid", float64(stats.Invalid), nil)
}
