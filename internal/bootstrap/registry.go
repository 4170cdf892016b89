package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/sso-ticket-core/config"
	redisadapter "github.com/target/sso-ticket-core/internal/adapters/redis"
	"github.com/target/sso-ticket-core/internal/codec"
	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/data/cryptoutil"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

// BuildTranscoder creates the ticket codec used by byte-oriented registries.
func BuildTranscoder(cfg config.TranscoderConfig, metrics statsd.Sink) (*codec.Transcoder, error) {
	compression, err := codec.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("transcoder compression: %w", err)
	}
	var digestKey []byte
	if cfg.DigestKey != "" {
		if digestKey, err = cryptoutil.ParseKey(cfg.DigestKey); err != nil {
			return nil, fmt.Errorf("transcoder digest key: %w", err)
		}
	}
	return codec.New(codec.Options{
		InitialBufferSize:    cfg.InitialBufferSize,
		MaxBufferSize:        cfg.MaxBufferSize,
		Compression:          compression,
		CompressionThreshold: cfg.CompressionThreshold,
		DigestKey:            digestKey,
		Metrics:              statsd.Tagged(metrics, map[string]string{"compression": compression.String()}),
	})
}

// RegistryDeps groups what BuildRegistry may need. DB and Redis are only
// required by their respective backends.
type RegistryDeps struct {
	Config config.RegistryConfig
	DB     *sql.DB
	Redis  redis.UniversalClient
	Codec  ports.TicketCodec
	Cipher cryptoutil.Cipher
	Clock  data.TimeProvider
	Logger *slog.Logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildRegistry creates the ticket registry for the configured backend. The returned
// closer releases resources owned by the registry itself, not the shared connections.
//
//nolint:ireturn // the backend is chosen at runtime
func BuildRegistry(deps RegistryDeps) (ports.TicketRegistry, io.Closer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch deps.Config.Backend {
	case config.RegistryMemory, "":
		logger.Warn("using in-memory ticket registry; tickets are lost on restart")
		return data.NewMemoryTicketRegistry(), nopCloser{}, nil

	case config.RegistryRedis:
		if deps.Redis == nil {
			return nil, nil, errors.New("redis registry requires a redis client")
		}
		payloads, err := data.NewPayloads(deps.Codec, deps.Cipher)
		if err != nil {
			return nil, nil, err
		}
		reg, err := redisadapter.NewTicketRegistry(redisadapter.TicketRegistryOptions{
			Client:   deps.Redis,
			Payloads: payloads,
			Prefix:   deps.Config.KeyPrefix,
			Grace:    deps.Config.Grace,
			Clock:    deps.Clock,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis registry: %w", err)
		}
		return reg, nopCloser{}, nil

	case config.RegistryPostgres:
		if deps.DB == nil {
			return nil, nil, errors.New("postgres registry requires a database connection")
		}
		reg, err := data.NewPostgresTicketRegistry(data.PostgresRegistryOptions{
			DB:     deps.DB,
			Codec:  deps.Codec,
			Cipher: deps.Cipher,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres registry: %w", err)
		}
		return reg, nopCloser{}, nil

	case config.RegistryBolt:
		payloads, err := data.NewPayloads(deps.Codec, deps.Cipher)
		if err != nil {
			return nil, nil, err
		}
		reg, err := data.OpenBoltTicketRegistry(data.BoltRegistryOptions{
			Path:     deps.Config.BoltPath,
			Payloads: payloads,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return reg, reg, nil

	default:
		return nil, nil, fmt.Errorf("unsupported registry backend %q", deps.Config.Backend)
	}
}
