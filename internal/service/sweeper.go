package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	obserrors "github.com/target/sso-ticket-core/internal/observability/errors"
	"github.com/target/sso-ticket-core/internal/observability/metrics"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Registry ports.TicketRegistry // Required: registry to sweep
	Tickets  *TicketService       // Required: validity checks
	Config   config.SweeperConfig // Required: sweeper configuration
	Logger   *slog.Logger         // Optional: structured logger
	Metrics  statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// SweeperService removes tickets that can no longer be used.
//
// A ticket is removed when it is expired by its own policy or flag, or when any
// ancestor is expired or missing. Deletes are paced by an optional rate limit.
type SweeperService struct {
	registry ports.TicketRegistry
	tickets  *TicketService
	config   config.SweeperConfig
	schedule cron.Schedule
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  statsd.Sink
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Removed int
	// Removed tickets per kind.
	ByKind  map[ticket.Kind]int
	Elapsed time.Duration
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Registry == nil {
		return nil, errors.New("TicketRegistry is required")
	}
	if opts.Tickets == nil {
		return nil, errors.New("TicketService is required")
	}

	s := &SweeperService{
		registry: opts.Registry,
		tickets:  opts.Tickets,
		config:   opts.Config,
		metrics:  opts.Metrics,
	}
	if opts.Config.Schedule != "" {
		sched, err := cron.ParseStandard(opts.Config.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid sweeper schedule %q: %w", opts.Config.Schedule, err)
		}
		s.schedule = sched
	}
	if opts.Config.DeleteRate > 0 {
		burst := max(int(opts.Config.DeleteRate), 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.Config.DeleteRate), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With("component", "sweeper_service")
	s.logger.Debug("SweeperService initialized",
		"interval", opts.Config.Interval,
		"schedule", opts.Config.Schedule,
		"delete_rate", opts.Config.DeleteRate,
	)
	return s, nil
}

// Run sweeps on the configured schedule until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.schedule != nil {
		return s.runCron(ctx)
	}

	s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweepAndLog(ctx, "initial sweep")

	for {
		select {
		case <-ctx.Done():
			return s.stopped(ctx)
		case <-ticker.C:
			s.sweepAndLog(ctx, "sweep")
		}
	}
}

func (s *SweeperService) runCron(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting sweeper service", "schedule", s.config.Schedule)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.sweepAndLog(ctx, "scheduled sweep") }))
	c.Start()

	<-ctx.Done()
	// Wait for a running sweep to observe cancellation
	<-c.Stop().Done()
	return s.stopped(ctx)
}

func (s *SweeperService) stopped(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
	// Return nil on graceful shutdown to avoid treating it as a failure
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *SweeperService) sweepAndLog(ctx context.Context, label string) {
	if _, err := s.Sweep(ctx); err != nil {
		if isContextCancellation(err) || apperrors.IsCanceled(err) {
			s.logger.Debug(label+" cancelled by context", "error", err)
			return
		}
		s.logger.Error(label+" failed", "error", err)
	}
}

// Sweep runs a single pass over the registry. Validity is decided for every ticket
// before anything is deleted, so the outcome does not depend on iteration order.
func (s *SweeperService) Sweep(ctx context.Context) (res SweepResult, err error) {
	start := time.Now()
	res.ByKind = map[ticket.Kind]int{}
	defer func() {
		res.Elapsed = time.Since(start)
		s.emitSweepMetrics(res, err)
	}()

	all, err := s.registry.GetAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list tickets: %w", err)
	}
	res.Scanned = len(all)

	var doomed []ticket.Ticket
	for _, t := range all {
		valid, validErr := s.tickets.chainValid(ctx, t)
		if validErr != nil {
			// a broken chain is reported but does not stop the sweep
			s.logger.WarnContext(ctx, "validity check failed", "ticket_id", t.ID(), "error", validErr)
			continue
		}
		if !valid {
			doomed = append(doomed, t)
		}
	}

	var errs []error
	for _, t := range doomed {
		if s.limiter != nil {
			if waitErr := s.limiter.Wait(ctx); waitErr != nil {
				return res, apperrors.MapStoreError(waitErr)
			}
		}
		removed, delErr := s.registry.Delete(ctx, t.ID())
		if delErr != nil {
			if isContextCancellation(delErr) || apperrors.IsCanceled(delErr) {
				return res, delErr
			}
			errs = append(errs, fmt.Errorf("delete %s: %w", t.ID(), delErr))
			continue
		}
		if removed {
			res.Removed++
			res.ByKind[t.Kind()]++
			metrics.EmitTicketTransition(s.metrics, metrics.TicketMetric{
				Kind:       string(t.Kind()),
				Transition: metrics.TransitionSweep,
				Result:     metrics.ResultSuccess,
			})
		}
	}

	if res.Removed > 0 {
		s.logger.InfoContext(ctx, "swept expired tickets",
			"scanned", res.Scanned,
			"removed", res.Removed,
		)
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("sweep failed: %w", errors.Join(errs...))
	}
	return res, nil
}

func (s *SweeperService) emitSweepMetrics(res SweepResult, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if res.Removed == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.run", 1, tags)
	if res.Elapsed > 0 {
		s.metrics.Timing("sweeper.duration", res.Elapsed, metrics.CloneTags(tags))
	}
	s.metrics.Gauge("sweeper.scanned", float64(res.Scanned), nil)
	for kind, n := range res.ByKind {
		s.metrics.Count("sweeper.removed", int64(n), map[string]string{"kind": string(kind)})
	}

	if err == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
