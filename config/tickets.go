package config

import (
	"strings"
	"time"
)

// TicketsConfig contains ticket lifecycle configuration.
type TicketsConfig struct {
	// Granting tickets expire at MaxLifetime after creation or IdleTimeout after last use.
	GrantingMaxLifetime time.Duration `env:"TICKETS_TGT_MAX_LIFETIME" envDefault:"8h"`
	GrantingIdleTimeout time.Duration `env:"TICKETS_TGT_IDLE_TIMEOUT" envDefault:"2h"`

	// Service tickets expire after MaxUses uses or TTL since last use.
	ServiceTTL     time.Duration `env:"TICKETS_ST_TTL"      envDefault:"10s"`
	ServiceMaxUses int           `env:"TICKETS_ST_MAX_USES" envDefault:"1"`
	// MultiUseServiceTickets allows repeated validation of one service ticket.
	MultiUseServiceTickets bool `env:"TICKETS_ST_MULTI_USE" envDefault:"false"`

	// Proxy granting tickets use a hard timeout from creation.
	ProxyGrantingTTL time.Duration `env:"TICKETS_PGT_TTL" envDefault:"2h"`

	// IDSuffix names this node in generated ticket ids.
	IDSuffix string `env:"TICKETS_ID_SUFFIX"`

	// MaxRetries bounds read-mutate-write attempts on concurrent modification.
	MaxRetries int `env:"TICKETS_MAX_RETRIES" envDefault:"10"`
	// MaxChainDepth bounds proxy chain walks.
	MaxChainDepth int `env:"TICKETS_MAX_CHAIN_DEPTH" envDefault:"32"`
}

// Sanitize applies guardrails to ticket configuration values.
func (t *TicketsConfig) Sanitize() {
	if t.GrantingMaxLifetime < time.Minute {
		t.GrantingMaxLifetime = time.Minute
	}
	if t.GrantingIdleTimeout <= 0 || t.GrantingIdleTimeout > t.GrantingMaxLifetime {
		t.GrantingIdleTimeout = t.GrantingMaxLifetime
	}
	if t.ServiceTTL < time.Second {
		t.ServiceTTL = time.Second
	}
	if t.ServiceMaxUses < 1 {
		t.ServiceMaxUses = 1
	}
	if t.ProxyGrantingTTL < time.Minute {
		t.ProxyGrantingTTL = time.Minute
	}
	t.IDSuffix = strings.TrimSpace(t.IDSuffix)
	if t.MaxRetries < 1 {
		t.MaxRetries = 1
	}
	if t.MaxRetries > 100 {
		t.MaxRetries = 100
	}
	if t.MaxChainDepth < 1 {
		t.MaxChainDepth = 1
	}
}

// TranscoderConfig contains serialization settings for byte-oriented registries.
type TranscoderConfig struct {
	InitialBufferSize    int    `env:"TRANSCODER_INITIAL_BUFFER"         envDefault:"1024"`
	MaxBufferSize        int    `env:"TRANSCODER_MAX_BUFFER"             envDefault:"1048576"`
	Compression          string `env:"TRANSCODER_COMPRESSION"            envDefault:"lz4"`
	CompressionThreshold int    `env:"TRANSCODER_COMPRESSION_THRESHOLD"  envDefault:"512"`
	// DigestKey keys frame digests (base64, 32 bytes). Optional.
	DigestKey string `env:"TRANSCODER_DIGEST_KEY"`
}

// Sanitize applies guardrails to transcoder configuration values.
func (t *TranscoderConfig) Sanitize() {
	if t.InitialBufferSize < 16 {
		t.InitialBufferSize = 16
	}
	if t.MaxBufferSize < 4096 {
		t.MaxBufferSize = 4096
	}
	if t.MaxBufferSize > 64<<20 {
		t.MaxBufferSize = 64 << 20
	}
	if t.InitialBufferSize > t.MaxBufferSize {
		t.InitialBufferSize = t.MaxBufferSize
	}
	t.Compression = strings.ToLower(strings.TrimSpace(t.Compression))
	if t.CompressionThreshold < 0 {
		t.CompressionThreshold = 0
	}
	t.DigestKey = strings.TrimSpace(t.DigestKey)
}
