// Package acceptusers provides a config-driven username/password handler for
// development and small deployments.
package acceptusers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// DefaultName is the handler name recorded in authentications.
const DefaultName = "accept-users"

// Config controls the handler. Users is required.
type Config struct {
	Name string
	// Users maps username to password. Values starting with "$2" are bcrypt hashes.
	Users map[string]string
	// Attributes are attached to every principal.
	Attributes map[string][]string
}

var _ ports.AuthenticationHandler = (*Handler)(nil)

// Handler accepts a fixed set of users.
type Handler struct {
	name       string
	users      map[string]string
	attributes map[string][]string
}

// NewHandler constructs a handler from Config.
func NewHandler(cfg Config) (*Handler, error) {
	if len(cfg.Users) == 0 {
		return nil, errors.New("accept users: at least one user is required")
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	attrs := make(map[string][]string, len(cfg.Attributes))
	for k, v := range cfg.Attributes {
		attrs[k] = append([]string(nil), v...)
	}
	return &Handler{name: name, users: maps.Clone(cfg.Users), attributes: attrs}, nil
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Supports(c domainauth.Credential) bool {
	_, ok := c.(domainauth.UsernamePasswordCredential)
	return ok
}

// Authenticate checks the password. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (h *Handler) Authenticate(_ context.Context, c domainauth.Credential) (domainauth.HandlerResult, error) {
	upc, ok := c.(domainauth.UsernamePasswordCredential)
	if !ok {
		return domainauth.HandlerResult{}, invalid("unsupported credential")
	}
	stored, found := h.users[upc.Username]
	if !found || !passwordMatches(stored, upc.Password) {
		return domainauth.HandlerResult{}, invalid("invalid username or password")
	}

	attrs := make(map[string][]string, len(h.attributes))
	for k, v := range h.attributes {
		attrs[k] = append([]string(nil), v...)
	}
	return domainauth.HandlerResult{
		HandlerName: h.name,
		Credential:  domainauth.NewCredentialMetaData(upc),
		Principal:   domainauth.Principal{ID: upc.Username, Attributes: attrs},
	}, nil
}

func passwordMatches(stored, presented string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func invalid(msg string) error {
	return &apperrors.AppError{Code: apperrors.ErrCodeInvalidCredentials, Message: msg}
}

// ParseUsers parses "user::password" entries.
func ParseUsers(entries []string) (map[string]string, error) {
	users := make(map[string]string, len(entries))
	for _, e := range entries {
		name, pass, ok := strings.Cut(strings.TrimSpace(e), "::")
		if !ok || name == "" || pass == "" {
			return nil, fmt.Errorf("invalid user entry %q (want user::password)", e)
		}
		users[name] = pass
	}
	return users, nil
}

// ParseAttributes parses "name=value" entries. Repeated names accumulate values.
func ParseAttributes(entries []string) (map[string][]string, error) {
	attrs := make(map[string][]string, len(entries))
	for _, e := range entries {
		name, value, ok := strings.Cut(strings.TrimSpace(e), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute entry %q (want name=value)", e)
		}
		attrs[name] = append(attrs[name], strings.TrimSpace(value))
	}
	return attrs, nil
}
