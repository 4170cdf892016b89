package ports

import (
	"context"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
)

// AuthenticationHandler verifies one kind of credential.
type AuthenticationHandler interface {
	// Name identifies the handler in an Authentication's success and failure maps.
	Name() string
	// Supports reports whether the handler can verify c.
	Supports(c domainauth.Credential) bool
	// Authenticate verifies c. Failures are AppErrors with code invalid_credentials,
	// handler_unavailable or security_error; anything else is treated as handler_unavailable.
	Authenticate(ctx context.Context, c domainauth.Credential) (domainauth.HandlerResult, error)
}

// Authenticator turns presented credentials into a sealed Authentication.
type Authenticator interface {
	Authenticate(ctx context.Context, creds ...domainauth.Credential) (*domainauth.Authentication, error)
}

// RegisteredService is the registry entry of a relying application.
type RegisteredService struct {
	ID           string
	Name         string
	ProxyAllowed bool
	// ReleasePolicy filters principal attributes in validation responses. Nil releases nothing.
	ReleasePolicy domainauth.AttributeReleasePolicy
}

// ServiceRegistry looks up registered services.
type ServiceRegistry interface {
	// FindService returns the entry matching serviceID or a not_found error.
	FindService(ctx context.Context, serviceID string) (RegisteredService, error)
}
