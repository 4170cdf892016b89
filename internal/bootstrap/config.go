package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/sso-ticket-core/config"
)

// InitLogger initializes the structured logger at the given level.
func InitLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLogLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and that
// the ticket service has something to authenticate with.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if cfg.Registry.Backend == config.RegistryMemory && !cfg.IsDev {
		return errors.New("memory registry is only supported in development mode")
	}

	return nil
}

// GetEnabledServices returns a sorted list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for svc := range services {
		enabledServices = append(enabledServices, string(svc))
	}
	slices.Sort(enabledServices)
	return enabledServices
}
