// Package sweeper provides adapters for running the expiration sweeper.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/service"
)

// Loop is the part of the sweeper the runner drives.
type Loop interface {
	Run(ctx context.Context) error
}

// Runner constructs the sweeper service and runs its loop.
type Runner struct {
	loop   Loop
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Registry ports.TicketRegistry
	Tickets  *service.TicketService
	Config   config.SweeperConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Optional dependency injection for testing
	Loop Loop
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	loop := opts.Loop
	if loop == nil {
		svc, err := service.NewSweeperService(service.SweeperServiceOptions{
			Registry: opts.Registry,
			Tickets:  opts.Tickets,
			Config:   opts.Config,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("wire sweeper service: %w", err)
		}
		loop = svc
	}

	return &Runner{loop: loop, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Loop == nil && (opts.Registry == nil || opts.Tickets == nil) {
		return errors.New("ticket registry and ticket service are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.loop.Run(ctx)
}
