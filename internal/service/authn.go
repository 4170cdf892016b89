package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/target/sso-ticket-core/internal/data"
	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/observability/metrics"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

// AuthPolicy decides how many supporting handlers are attempted.
type AuthPolicy string

const (
	// AuthPolicyAny stops at the first successful handler.
	AuthPolicyAny AuthPolicy = "any"
	// AuthPolicyAll attempts every supporting handler and succeeds if at least one did.
	AuthPolicyAll AuthPolicy = "all"
)

// AttributeAuthenticationMethod lists the handlers that accepted the credentials.
const AttributeAuthenticationMethod = "authenticationMethod"

// ParseAuthPolicy parses "any" or "all". Empty means any.
func ParseAuthPolicy(s string) (AuthPolicy, error) {
	switch AuthPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuthPolicyAny:
		return AuthPolicyAny, nil
	case AuthPolicyAll:
		return AuthPolicyAll, nil
	default:
		return "", fmt.Errorf("unknown authentication policy %q", s)
	}
}

// AuthenticationFailures maps handler name to failure. It is the cause of an
// authentication_failed AppError.
type AuthenticationFailures map[string]domainauth.Failure

func (f AuthenticationFailures) Error() string {
	if len(f) == 0 {
		return "no handler supports the presented credentials"
	}
	parts := make([]string, 0, len(f))
	for _, name := range slices.Sorted(maps.Keys(f)) {
		parts = append(parts, name+"="+string(f[name].Kind))
	}
	return strings.Join(parts, ", ")
}

// AuthenticationManagerConfig groups manager settings.
type AuthenticationManagerConfig struct {
	Policy AuthPolicy
	Clock  data.TimeProvider
}

// AuthenticationManagerOptions groups dependencies for AuthenticationManager.
type AuthenticationManagerOptions struct {
	Handlers []ports.AuthenticationHandler
	Config   AuthenticationManagerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// AuthenticationManager runs credentials through the configured handlers and seals the
// outcome into an Authentication. Every failed attempt is kept in the failure map,
// including when another handler succeeds.
type AuthenticationManager struct {
	handlers []ports.AuthenticationHandler
	policy   AuthPolicy
	clock    data.TimeProvider
	logger   *slog.Logger
	metrics  statsd.Sink
}

var _ ports.Authenticator = (*AuthenticationManager)(nil)

// NewAuthenticationManager creates an AuthenticationManager.
func NewAuthenticationManager(opts AuthenticationManagerOptions) *AuthenticationManager {
	m := &AuthenticationManager{
		handlers: slices.Clone(opts.Handlers),
		policy:   opts.Config.Policy,
		clock:    opts.Config.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if m.policy == "" {
		m.policy = AuthPolicyAny
	}
	if m.clock == nil {
		m.clock = &data.RealTimeProvider{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "authentication_manager")
	return m
}

// Authenticate verifies creds and returns the sealed Authentication. The principal
// comes from the first successful handler. When no handler succeeds the error is an
// authentication_failed AppError wrapping AuthenticationFailures.
func (m *AuthenticationManager) Authenticate(ctx context.Context, creds ...domainauth.Credential) (*domainauth.Authentication, error) {
	start := time.Now()
	out, err := m.authenticate(ctx, creds)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitTicketTransition(m.metrics, metrics.TicketMetric{
		Transition: metrics.TransitionAuthenticate,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
	return out, err
}

func (m *AuthenticationManager) authenticate(ctx context.Context, creds []domainauth.Credential) (*domainauth.Authentication, error) {
	if len(creds) == 0 {
		return nil, apperrors.Validation("at least one credential is required")
	}

	b := domainauth.NewBuilder().SetAuthenticationTime(m.clock.Now())
	failures := AuthenticationFailures{}
	var principalSet bool

	for _, c := range creds {
		b.AddCredential(domainauth.NewCredentialMetaData(c))
	}

attempts:
	for _, c := range creds {
		for _, h := range m.handlers {
			if !h.Supports(c) {
				continue
			}
			if m.policy == AuthPolicyAny && b.HasSuccess() {
				break attempts
			}
			if err := ctx.Err(); err != nil {
				return nil, apperrors.MapStoreError(err)
			}

			res, err := h.Authenticate(ctx, c)
			if err != nil {
				f := domainauth.Failure{Kind: failureKind(err), Message: err.Error(), Cause: err}
				failures[h.Name()] = f
				b.AddFailure(h.Name(), f)
				m.logger.DebugContext(ctx, "authentication handler failed",
					"handler", h.Name(),
					"credential_type", string(c.CredentialType()),
					"kind", string(f.Kind),
				)
				continue
			}
			if res.HandlerName == "" {
				res.HandlerName = h.Name()
			}
			b.AddSuccess(h.Name(), res)
			b.AddAttribute(AttributeAuthenticationMethod, h.Name())
			if !principalSet {
				b.SetPrincipal(res.Principal)
				principalSet = true
			}
		}
	}

	if !b.HasSuccess() {
		m.logger.InfoContext(ctx, "authentication failed", "failures", failures.Error())
		return nil, apperrors.Wrap(failures, apperrors.ErrCodeAuthenticationFailed, "authentication failed")
	}
	out, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("seal authentication: %w", err)
	}
	return out, nil
}

func failureKind(err error) domainauth.FailureKind {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidCredentials:
		return domainauth.FailureInvalidCredentials
	case apperrors.ErrCodeSecurity:
		return domainauth.FailureSecurity
	default:
		return domainauth.FailureHandlerUnavailable
	}
}
