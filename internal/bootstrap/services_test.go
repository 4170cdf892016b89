package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sso-ticket-core/config"
	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	"github.com/target/sso-ticket-core/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		IsDev:    true,
		Services: "sweeper,stats",
		Registry: config.RegistryConfig{Backend: config.RegistryMemory},
		Auth: config.AuthConfig{
			Policy: config.AuthPolicyAny,
			AcceptUsers: config.AcceptUsersConfig{
				Enabled:    true,
				Users:      []string{"casuser::Mellon"},
				Attributes: []string{"mail=casuser@example.edu"},
			},
		},
		Sweeper: config.SweeperConfig{Interval: time.Minute, StatsInterval: time.Minute},
	}
	cfg.Sanitize()
	return cfg
}

func TestTicketPolicies(t *testing.T) {
	p := TicketPolicies(config.TicketsConfig{
		GrantingMaxLifetime: 8 * time.Hour,
		GrantingIdleTimeout: 2 * time.Hour,
		ServiceTTL:          10 * time.Second,
		ServiceMaxUses:      3,
		ProxyGrantingTTL:    time.Hour,
	})

	assert.Equal(t, ticket.GrantingTicketPolicy{Lifetime: 8 * time.Hour, Idle: 2 * time.Hour}, p.GrantingTicket)
	assert.Equal(t, ticket.MultiTimeUseOrTimeoutPolicy{Uses: 3, TTL: 10 * time.Second}, p.ServiceTicket)
	assert.Equal(t, ticket.GrantingTicketPolicy{Lifetime: time.Hour, Idle: time.Hour}, p.ProxyGrantingTicket)
}

func TestNewServices_LoginAndGrant(t *testing.T) {
	cfg := devConfig(t)
	defs := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
services:
  - id: portal
    name: Portal
    service_id: "^https://portal\\.example\\.edu/.*"
    release_policy: allowed
    allowed_attributes: [mail]
`), 0o600))
	cfg.ServiceRegistry.File = defs

	container, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	require.NotNil(t, container.ServiceFile)
	assert.Equal(t, 1, container.ServiceFile.Len())

	ctx := context.Background()
	tgt, err := container.Tickets.Login(ctx, domainauth.UsernamePasswordCredential{Username: "casuser", Password: "Mellon"})
	require.NoError(t, err)

	svc := ticket.Service{ID: "https://portal.example.edu/home", OriginalURL: "https://portal.example.edu/home"}
	st, err := container.Tickets.GrantServiceTicket(ctx, tgt.ID(), svc, false)
	require.NoError(t, err)

	out, err := container.Tickets.ValidateServiceTicket(ctx, service.ValidateRequest{TicketID: st.ID(), Service: svc})
	require.NoError(t, err)
	assert.Equal(t, "casuser", out.Principal.ID)
	assert.Equal(t, map[string][]string{"mail": {"casuser@example.edu"}}, out.Principal.Attributes)
}

func TestNewServices_RequiresPayloadKeyOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.IsDev = false
	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.Error(t, err)
}

func TestNewServices_BadServiceFile(t *testing.T) {
	cfg := devConfig(t)
	cfg.ServiceRegistry.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.Error(t, err)
}

func TestRunServicesWithShutdown_StopsOnContextCancel(t *testing.T) {
	cfg := devConfig(t)
	container, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err = RunServicesWithShutdown(ctx, &ServiceOrchestrationConfig{
		Config:   cfg,
		Services: container,
		Logger:   discardLogger(),
	})
	assert.NoError(t, err)
}

func TestRunServicesWithShutdown_InvalidConfig(t *testing.T) {
	assert.Error(t, RunServicesWithShutdown(context.Background(), nil))

	cfg := devConfig(t)
	cfg.Services = "reaper"
	err := RunServicesWithShutdown(context.Background(), &ServiceOrchestrationConfig{Config: cfg})
	assert.Error(t, err)
}
