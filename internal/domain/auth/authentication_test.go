package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func buildBob(t *testing.T, failureCause error) *Authentication {
	t.Helper()
	cred := NewCredentialMetaData(UsernamePasswordCredential{Username: "handymanbob", Password: "foo"})
	principal := Principal{ID: "handymanbob", Attributes: map[string][]string{"nickname": {"bob"}}}
	a, err := NewBuilder().
		SetPrincipal(principal).
		SetAuthenticationTime(authTime).
		AddCredential(cred).
		AddAttribute("authenticationMethod", "accept_users").
		AddSuccess("accept_users", HandlerResult{HandlerName: "accept_users", Credential: cred, Principal: principal}).
		AddFailure("ldap", Failure{Kind: FailureHandlerUnavailable, Message: "ldap down", Cause: failureCause}).
		Build()
	require.NoError(t, err)
	return a
}

func TestAuthentication_EqualIgnoresFailureCause(t *testing.T) {
	a := buildBob(t, errors.New("dial tcp: refused"))
	b := buildBob(t, errors.New("i/o timeout"))

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestAuthentication_EqualDetectsDifferences(t *testing.T) {
	base := buildBob(t, nil)

	tests := []struct {
		name   string
		mutate func(b *Builder)
	}{
		{"principal", func(b *Builder) { b.SetPrincipal(Principal{ID: "alice"}) }},
		{"time", func(b *Builder) { b.SetAuthenticationTime(authTime.Add(time.Second)) }},
		{"credential", func(b *Builder) { b.AddCredential(CredentialMetaData{Type: CredentialOIDCCode, ID: "state"}) }},
		{"attribute", func(b *Builder) { b.AddAttribute("mfa", "true") }},
		{"success", func(b *Builder) { b.AddSuccess("oidc", HandlerResult{HandlerName: "oidc"}) }},
		{"failure kind", func(b *Builder) { b.AddFailure("ldap", Failure{Kind: FailureSecurity}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilderFrom(base)
			tt.mutate(b)
			other, err := b.Build()
			require.NoError(t, err)
			assert.False(t, base.Equal(other))
		})
	}
}

func TestAuthentication_NilEqual(t *testing.T) {
	var a *Authentication
	assert.True(t, a.Equal(nil))
	assert.False(t, a.Equal(buildBob(t, nil)))
}

func TestAuthentication_AccessorsReturnCopies(t *testing.T) {
	a := buildBob(t, nil)

	a.Principal().Attributes["nickname"][0] = "mallory"
	a.Credentials()[0].ID = "mallory"
	a.Successes()["accept_users"] = HandlerResult{}
	a.Failures()["ldap"] = Failure{Kind: FailureSecurity}
	a.Attributes()["authenticationMethod"][0] = "x"

	assert.True(t, a.Equal(buildBob(t, nil)))
}

func TestBuilder_SealedAfterBuild(t *testing.T) {
	b := NewBuilder().SetPrincipal(Principal{ID: "bob"}).SetAuthenticationTime(authTime)
	a, err := b.Build()
	require.NoError(t, err)

	b.AddAttribute("late", "value")
	assert.ErrorIs(t, b.Err(), ErrSealed)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrSealed)
	assert.NotContains(t, a.Attributes(), "late")
}

func TestBuilder_Validation(t *testing.T) {
	_, err := NewBuilder().SetAuthenticationTime(authTime).Build()
	assert.ErrorIs(t, err, ErrPrincipalRequired)

	_, err = NewBuilder().SetPrincipal(Principal{ID: "bob"}).Build()
	assert.ErrorIs(t, err, ErrAuthenticationTimeRequired)

	_, err = NewBuilder().
		SetPrincipal(Principal{ID: "bob"}).
		SetAuthenticationTime(authTime).
		AddFailure("x", Failure{Kind: "bogus"}).
		Build()
	assert.ErrorIs(t, err, ErrInvalidFailureKind)
}

func TestBuilder_SameHandlerSuccessAndFailure(t *testing.T) {
	cred := NewCredentialMetaData(UsernamePasswordCredential{Username: "handymanbob"})
	a, err := NewBuilder().
		SetPrincipal(Principal{ID: "handymanbob"}).
		SetAuthenticationTime(authTime).
		AddSuccess("handler", HandlerResult{HandlerName: "handler", Credential: cred}).
		AddFailure("handler", Failure{Kind: FailureInvalidCredentials, Message: "failed login"}).
		Build()
	require.NoError(t, err)

	assert.Contains(t, a.Successes(), "handler")
	assert.Equal(t, FailureInvalidCredentials, a.Failures()["handler"].Kind)
}
