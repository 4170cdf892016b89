// Package cryptoutil seals ticket payloads at rest for byte-oriented registries.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Cipher seals and opens registry payloads. aad binds a payload to its
// storage key, so a sealed value copied under another ticket id fails to open.
type Cipher interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// Leading version byte of a stored payload. Values are persisted; do not reuse them.
const (
	versionPlain  byte = 0x00
	versionGCMv1  byte = 0x01
	aesGCMKeySize      = 32
)

// ErrUnknownVersion reports a payload written by a cipher this build does not know.
var ErrUnknownVersion = errors.New("unknown payload cipher version")

// AESGCMCipher implements Cipher using AES-256-GCM.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCMCipher constructs a new AESGCMCipher. Key must be 32 bytes (AES-256).
func NewAESGCMCipher(key []byte) (*AESGCMCipher, error) {
	if len(key) != aesGCMKeySize {
		return nil, fmt.Errorf("aes-gcm key must be %d bytes, got %d", aesGCMKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCMCipher{aead: aead}, nil
}

// ParseKey decodes a base64 (standard or URL alphabet) AES-256 key from configuration.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != aesGCMKeySize {
				return nil, fmt.Errorf("payload key must decode to %d bytes, got %d", aesGCMKeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, errors.New("payload key is not valid base64")
}

// Seal encrypts plaintext with a random nonce: version || nonce || ciphertext.
func (c *AESGCMCipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = versionGCMv1
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, err
	}
	return c.aead.Seal(out, out[1:], plaintext, aad), nil
}

// Open decrypts a payload created by Seal. Plain payloads written before a key
// was configured are accepted so existing tickets survive enabling encryption.
func (c *AESGCMCipher) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, errors.New("payload is empty")
	}
	switch sealed[0] {
	case versionPlain:
		return sealed[1:], nil
	case versionGCMv1:
	default:
		return nil, fmt.Errorf("%w %d", ErrUnknownVersion, sealed[0])
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < 1+nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[1:1+nonceSize], sealed[1+nonceSize:]
	return c.aead.Open(nil, nonce, ct, aad)
}

// PlainCipher stores payloads unencrypted behind the version byte. It is the
// registry default when no key is configured.
type PlainCipher struct{}

func (PlainCipher) Seal(plaintext, _ []byte) ([]byte, error) {
	out := make([]byte, 0, 1+len(plaintext))
	out = append(out, versionPlain)
	return append(out, plaintext...), nil
}

func (PlainCipher) Open(sealed, _ []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, errors.New("payload is empty")
	}
	if sealed[0] != versionPlain {
		return nil, fmt.Errorf("%w %d: payload is encrypted but no key is configured", ErrUnknownVersion, sealed[0])
	}
	return sealed[1:], nil
}
