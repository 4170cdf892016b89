package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Authentication handlers and policy
//   - database.go: Registry backend, Postgres and Redis configuration
//   - tickets.go: Ticket policies and transcoder settings
//   - services.go: Service modes, sweeper and registered services
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PayloadKey encrypts ticket payloads at rest (base64, 32 bytes).
	// Required for production, optional for development.
	PayloadKey string `env:"TICKET_PAYLOAD_KEY"`

	// Authentication configuration
	Auth AuthConfig

	// Registry and backing stores
	Registry RegistryConfig
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Ticket lifecycle and encoding
	Tickets    TicketsConfig
	Transcoder TranscoderConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"sweeper"`

	// Sweeper configuration
	Sweeper SweeperConfig

	// ServiceRegistry locates the registered services file.
	ServiceRegistry ServiceRegistryConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.PayloadKey = strings.TrimSpace(c.PayloadKey)

	c.Auth.Sanitize()
	c.Registry.Sanitize()
	c.Tickets.Sanitize()
	c.Transcoder.Sanitize()
	c.Sweeper.Sanitize()
	c.ServiceRegistry.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSweeperEnabled returns true if the expiration sweeper is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}

// IsStatsEnabled returns true if the registry stats reporter is enabled.
func (c *AppConfig) IsStatsEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeStats]
}
