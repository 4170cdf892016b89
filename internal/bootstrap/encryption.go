package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/sso-ticket-core/internal/data/cryptoutil"
)

// CreateCipher builds the cipher that seals registry payloads from a base64 key.
// Without a key payloads are stored in plain form, which is only allowed in development.
//
//nolint:ireturn // Returning interface is intentional for cipher abstraction
func CreateCipher(key string, isDev bool, logger *slog.Logger) (cryptoutil.Cipher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		if !isDev {
			return nil, errors.New("TICKET_PAYLOAD_KEY is required outside development")
		}
		logger.Warn("payload key is empty, storing ticket payloads unencrypted")
		return cryptoutil.PlainCipher{}, nil
	}

	raw, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse payload key: %w", err)
	}
	c, err := cryptoutil.NewAESGCMCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create payload cipher: %w", err)
	}
	return c, nil
}
