package config

import (
	"fmt"
	"strings"
	"time"
)

// RegistryBackend selects where tickets are stored.
type RegistryBackend string

const (
	RegistryMemory   RegistryBackend = "memory"
	RegistryRedis    RegistryBackend = "redis"
	RegistryPostgres RegistryBackend = "postgres"
	RegistryBolt     RegistryBackend = "bolt"
)

// UnmarshalText implements encoding.TextUnmarshaler for RegistryBackend.
func (b *RegistryBackend) UnmarshalText(text []byte) error {
	v := RegistryBackend(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case RegistryMemory, RegistryRedis, RegistryPostgres, RegistryBolt:
		*b = v
		return nil
	default:
		return fmt.Errorf("invalid RegistryBackend: %q (valid options: memory, redis, postgres, bolt)", v)
	}
}

// RegistryConfig contains ticket registry configuration.
type RegistryConfig struct {
	Backend RegistryBackend `env:"REGISTRY_BACKEND" envDefault:"memory"`
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `env:"REGISTRY_KEY_PREFIX" envDefault:"sso:ticket:"`
	// Grace keeps Redis entries this long past their own deadline.
	Grace time.Duration `env:"REGISTRY_GRACE" envDefault:"5m"`
	// BoltPath is the registry file used by the bolt backend.
	BoltPath string `env:"REGISTRY_BOLT_PATH" envDefault:"tickets.db"`
}

// Sanitize applies guardrails to registry configuration values.
func (r *RegistryConfig) Sanitize() {
	if r.Backend == "" {
		r.Backend = RegistryMemory
	}
	if r.KeyPrefix = strings.TrimSpace(r.KeyPrefix); r.KeyPrefix == "" {
		r.KeyPrefix = "sso:ticket:"
	}
	if r.Grace < 0 {
		r.Grace = 0
	}
	if r.BoltPath = strings.TrimSpace(r.BoltPath); r.BoltPath == "" {
		r.BoltPath = "tickets.db"
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"sso"`
	Password string `env:"PASSWORD"                envDefault:"sso"`
	Name     string `env:"NAME"                    envDefault:"sso"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
