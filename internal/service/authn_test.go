package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/sso-ticket-core/internal/data"
	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/mocks"
	authmocks "github.com/target/sso-ticket-core/internal/mocks/auth"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/testutil"
)

func newManager(policy AuthPolicy, handlers ...ports.AuthenticationHandler) *AuthenticationManager {
	return NewAuthenticationManager(AuthenticationManagerOptions{
		Handlers: handlers,
		Config: AuthenticationManagerConfig{
			Policy: policy,
			Clock:  data.NewFixedTimeProvider(testutil.TestTime()),
		},
	})
}

func failuresOf(t *testing.T, err error) AuthenticationFailures {
	t.Helper()
	var failures AuthenticationFailures
	require.True(t, errors.As(err, &failures), "error should wrap AuthenticationFailures: %v", err)
	return failures
}

func TestParseAuthPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    AuthPolicy
		wantErr bool
	}{
		{in: "", want: AuthPolicyAny},
		{in: "any", want: AuthPolicyAny},
		{in: " ALL ", want: AuthPolicyAll},
		{in: "most", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuthPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticationManager_AnyStopsAtFirstSuccess(t *testing.T) {
	first := authmocks.NewStubHandler("first", map[string]string{"bob": "pw"})
	second := authmocks.NewStubHandler("second", map[string]string{"bob": "pw"})
	m := newManager(AuthPolicyAny, first, second)

	a, err := m.Authenticate(context.Background(), domainauth.UsernamePasswordCredential{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, "bob", a.Principal().ID)
	assert.Equal(t, testutil.TestTime(), a.AuthenticatedAt())
	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 0, second.Calls())
	assert.Equal(t, []string{"first"}, a.Attributes()[AttributeAuthenticationMethod])
	assert.Len(t, a.Credentials(), 1)
}

func TestAuthenticationManager_AnyKeepsEarlierFailures(t *testing.T) {
	strict := authmocks.NewStubHandler("strict", map[string]string{"bob": "other"})
	lenient := authmocks.NewStubHandler("lenient", map[string]string{"bob": "pw"})
	m := newManager(AuthPolicyAny, strict, lenient)

	a, err := m.Authenticate(context.Background(), domainauth.UsernamePasswordCredential{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	assert.Contains(t, a.Successes(), "lenient")
	require.Contains(t, a.Failures(), "strict")
	assert.Equal(t, domainauth.FailureInvalidCredentials, a.Failures()["strict"].Kind)
}

func TestAuthenticationManager_AllAttemptsEverySupportingHandler(t *testing.T) {
	first := authmocks.NewStubHandler("first", map[string]string{"bob": "pw"})
	first.Attributes = map[string][]string{"source": {"first"}}
	second := authmocks.NewStubHandler("second", map[string]string{"bob": "pw"})
	second.Attributes = map[string][]string{"source": {"second"}}
	m := newManager(AuthPolicyAll, first, second)

	a, err := m.Authenticate(context.Background(), domainauth.UsernamePasswordCredential{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 1, second.Calls())
	assert.Len(t, a.Successes(), 2)
	assert.Equal(t, []string{"first"}, a.Principal().Attributes["source"], "principal comes from the first success")
	assert.Equal(t, []string{"first", "second"}, a.Attributes()[AttributeAuthenticationMethod])
}

func TestAuthenticationManager_FailureKinds(t *testing.T) {
	security := authmocks.NewStubHandler("security", nil)
	security.AuthenticateFunc = func(context.Context, domainauth.Credential) (domainauth.HandlerResult, error) {
		return domainauth.HandlerResult{}, &apperrors.AppError{Code: apperrors.ErrCodeSecurity, Message: "locked"}
	}
	down := authmocks.NewStubHandler("down", nil)
	down.AuthenticateFunc = func(context.Context, domainauth.Credential) (domainauth.HandlerResult, error) {
		return domainauth.HandlerResult{}, errors.New("dial tcp: connection refused")
	}
	wrong := authmocks.NewStubHandler("wrong", map[string]string{"bob": "other"})
	rec := statsd.NewRecorder()
	m := NewAuthenticationManager(AuthenticationManagerOptions{
		Handlers: []ports.AuthenticationHandler{security, down, wrong},
		Config:   AuthenticationManagerConfig{Policy: AuthPolicyAll},
		Metrics:  rec,
	})

	_, err := m.Authenticate(context.Background(), domainauth.UsernamePasswordCredential{Username: "bob", Password: "pw"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))

	failures := failuresOf(t, err)
	assert.Equal(t, domainauth.FailureSecurity, failures["security"].Kind)
	assert.Equal(t, domainauth.FailureHandlerUnavailable, failures["down"].Kind)
	assert.Equal(t, domainauth.FailureInvalidCredentials, failures["wrong"].Kind)
	assert.Equal(t, "down=handler_unavailable, security=security_error, wrong=invalid_credentials", failures.Error())

	assert.Equal(t, int64(1), rec.CountOf("ticket.transition", map[string]string{
		"transition":  "authenticate",
		"result":      "error",
		"error_class": "authentication_failed",
	}))
}

func TestAuthenticationManager_NoSupportingHandler(t *testing.T) {
	m := newManager(AuthPolicyAny, authmocks.NewStubHandler("users", nil))

	_, err := m.Authenticate(context.Background(), domainauth.OIDCCodeCredential{Code: "abc", State: "xyz"})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthenticationFailed(err))
	assert.Empty(t, failuresOf(t, err))
}

func TestAuthenticationManager_Validation(t *testing.T) {
	m := newManager(AuthPolicyAny)
	_, err := m.Authenticate(context.Background())
	assert.True(t, apperrors.IsValidation(err))
}

func TestAuthenticationManager_CanceledContext(t *testing.T) {
	h := authmocks.NewStubHandler("users", map[string]string{"bob": "pw"})
	m := newManager(AuthPolicyAny, h)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Authenticate(ctx, domainauth.UsernamePasswordCredential{Username: "bob", Password: "pw"})
	assert.True(t, apperrors.IsCanceled(err))
	assert.Equal(t, 0, h.Calls())
}

func TestAuthenticationManager_WithMockHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mocks.NewMockAuthenticationHandler(ctrl)
	cred := domainauth.OIDCCodeCredential{Code: "code", State: "state"}

	h.EXPECT().Name().Return("oidc").AnyTimes()
	h.EXPECT().Supports(cred).Return(true)
	h.EXPECT().Authenticate(gomock.Any(), cred).Return(domainauth.HandlerResult{
		Credential: domainauth.NewCredentialMetaData(cred),
		Principal:  domainauth.Principal{ID: "alice", Attributes: map[string][]string{"email": {"alice@example.com"}}},
	}, nil)

	a, err := newManager(AuthPolicyAny, h).Authenticate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Principal().ID)
	require.Contains(t, a.Successes(), "oidc")
	assert.Equal(t, "oidc", a.Successes()["oidc"].HandlerName, "handler name is filled in when empty")
}
