package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeSweeper runs the expiration sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
	// ServiceModeStats periodically reports registry gauges.
	ServiceModeStats ServiceMode = "stats"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeSweeper,
		ServiceModeStats,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeSweeper, ServiceModeStats:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: sweeper, stats)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SweeperConfig contains expiration sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweep tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"2m"`

	// Schedule is an optional cron expression; when set it replaces Interval.
	Schedule string `env:"SWEEPER_SCHEDULE"`

	// DeleteRate caps registry deletes per second during a sweep. Zero means unlimited.
	DeleteRate float64 `env:"SWEEPER_DELETE_RATE" envDefault:"0"`

	// StatsInterval is the reporting interval of the stats service.
	StatsInterval time.Duration `env:"SWEEPER_STATS_INTERVAL" envDefault:"1m"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive registry load
	if s.Interval < 10*time.Second {
		s.Interval = 10 * time.Second
	}
	s.Schedule = strings.TrimSpace(s.Schedule)
	if s.DeleteRate < 0 {
		s.DeleteRate = 0
	}
	if s.StatsInterval < 10*time.Second {
		s.StatsInterval = 10 * time.Second
	}
}

// ServiceRegistryConfig locates the registered services definition.
type ServiceRegistryConfig struct {
	// File is a YAML or JSON list of registered services. Empty registers none.
	File string `env:"SERVICE_REGISTRY_FILE"`
}

// Sanitize trims the file path.
func (s *ServiceRegistryConfig) Sanitize() {
	s.File = strings.TrimSpace(s.File)
}
