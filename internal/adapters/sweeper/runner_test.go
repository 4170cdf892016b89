package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/service"
)

type loopFunc func(ctx context.Context) error

func (f loopFunc) Run(ctx context.Context) error { return f(ctx) }

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_DelegatesToLoop(t *testing.T) {
	boom := errors.New("boom")
	r, err := NewRunner(RunnerOptions{Loop: loopFunc(func(context.Context) error { return boom })})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Run(context.Background()), boom)
}

func TestRunner_WiresSweeperService(t *testing.T) {
	registry := data.NewMemoryTicketRegistry()
	tickets := service.NewTicketService(service.TicketServiceOptions{
		Deps: service.TicketServiceDeps{Registry: registry},
	})

	_, err := NewRunner(RunnerOptions{
		Registry: registry,
		Tickets:  tickets,
		Config:   config.SweeperConfig{Schedule: "not a schedule"},
	})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{
		Registry: registry,
		Tickets:  tickets,
		Config:   config.SweeperConfig{Interval: 50 * time.Millisecond},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	assert.NoError(t, r.Run(ctx), "cancellation is a graceful stop")
}
