package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/sso-ticket-core/config"
	"github.com/target/sso-ticket-core/internal/adapters/acceptusers"
	"github.com/target/sso-ticket-core/internal/adapters/callback"
	"github.com/target/sso-ticket-core/internal/adapters/oidc"
	"github.com/target/sso-ticket-core/internal/ports"
)

// AuthConfig contains configuration for building authentication handlers.
type AuthConfig struct {
	Config config.AuthConfig
	// IsDev allows plain http proxy callback URLs.
	IsDev  bool
	Logger *slog.Logger
}

// BuildAuthHandlers creates the configured authentication handlers. The proxy
// callback handler is always present so proxy granting tickets can be issued.
func BuildAuthHandlers(ctx context.Context, cfg AuthConfig) ([]ports.AuthenticationHandler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handlers []ports.AuthenticationHandler

	if cfg.Config.AcceptUsers.Enabled {
		h, err := buildAcceptUsersHandler(cfg.Config.AcceptUsers)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
		logger.Info("accept-users handler enabled", "users", len(cfg.Config.AcceptUsers.Users))
	}

	if cfg.Config.OIDC.Enabled {
		h, err := oidc.NewHandler(ctx, oidc.HandlerConfig{
			ClientID:     cfg.Config.OIDC.ClientID,
			ClientSecret: cfg.Config.OIDC.ClientSecret,
			RedirectURL:  cfg.Config.OIDC.RedirectURL,
			Scope:        cfg.Config.OIDC.Scope,
			DiscoveryURL: cfg.Config.OIDC.DiscoveryURL,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc handler: %w", err)
		}
		handlers = append(handlers, h)
		logger.Info("oidc handler enabled", "discovery_url", cfg.Config.OIDC.DiscoveryURL)
	}

	handlers = append(handlers, callback.NewHandler(callback.Config{AllowInsecure: cfg.IsDev}))
	return handlers, nil
}

func buildAcceptUsersHandler(cfg config.AcceptUsersConfig) (*acceptusers.Handler, error) {
	users, err := acceptusers.ParseUsers(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("accept-users: %w", err)
	}
	attrs, err := acceptusers.ParseAttributes(cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("accept-users: %w", err)
	}
	return acceptusers.NewHandler(acceptusers.Config{Users: users, Attributes: attrs})
}
