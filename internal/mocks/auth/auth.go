package auth

// Package auth contains simple hand-written test doubles for authentication ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"sync/atomic"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthenticationHandler = (*StubHandler)(nil)
	_ ports.ServiceRegistry       = (*StaticServiceRegistry)(nil)
)

// StubHandler verifies username/password credentials against Users unless the Func
// fields override the behaviour.
type StubHandler struct {
	HandlerName      string
	SupportsFunc     func(c domainauth.Credential) bool
	AuthenticateFunc func(ctx context.Context, c domainauth.Credential) (domainauth.HandlerResult, error)

	// Users maps username to password for the default behaviour.
	Users map[string]string
	// Attributes are attached to every resolved principal.
	Attributes map[string][]string

	calls atomic.Int32
}

// NewStubHandler creates a StubHandler named name accepting users.
func NewStubHandler(name string, users map[string]string) *StubHandler {
	return &StubHandler{HandlerName: name, Users: users}
}

func (h *StubHandler) Name() string {
	if h.HandlerName == "" {
		return "stub"
	}
	return h.HandlerName
}

func (h *StubHandler) Supports(c domainauth.Credential) bool {
	if h.SupportsFunc != nil {
		return h.SupportsFunc(c)
	}
	_, ok := c.(domainauth.UsernamePasswordCredential)
	return ok
}

func (h *StubHandler) Authenticate(ctx context.Context, c domainauth.Credential) (domainauth.HandlerResult, error) {
	h.calls.Add(1)
	if h.AuthenticateFunc != nil {
		return h.AuthenticateFunc(ctx, c)
	}

	upc, ok := c.(domainauth.UsernamePasswordCredential)
	if !ok {
		return domainauth.HandlerResult{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeInvalidCredentials,
			Message: "unsupported credential",
		}
	}
	if want, found := h.Users[upc.Username]; !found || want != upc.Password {
		return domainauth.HandlerResult{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeInvalidCredentials,
			Message: "invalid username or password",
		}
	}
	return domainauth.HandlerResult{
		HandlerName: h.Name(),
		Credential:  domainauth.NewCredentialMetaData(c),
		Principal:   domainauth.Principal{ID: upc.Username, Attributes: h.Attributes},
	}, nil
}

// Calls returns how many times Authenticate ran.
func (h *StubHandler) Calls() int { return int(h.calls.Load()) }

// StaticServiceRegistry serves a fixed set of registered services keyed by id.
type StaticServiceRegistry struct {
	Services map[string]ports.RegisteredService
}

// NewStaticServiceRegistry indexes services by id.
func NewStaticServiceRegistry(services ...ports.RegisteredService) *StaticServiceRegistry {
	r := &StaticServiceRegistry{Services: make(map[string]ports.RegisteredService, len(services))}
	for _, s := range services {
		r.Services[s.ID] = s
	}
	return r
}

func (r *StaticServiceRegistry) FindService(_ context.Context, serviceID string) (ports.RegisteredService, error) {
	svc, ok := r.Services[serviceID]
	if !ok {
		return ports.RegisteredService{}, apperrors.NotFoundf("service %s is not registered", serviceID)
	}
	return svc, nil
}
