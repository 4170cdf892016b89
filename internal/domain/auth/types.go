// Package auth contains the domain model of an authentication event: the credentials
// presented, the principal they resolved to, and the per-handler outcomes.
// It is pure and free of framework/adapter concerns.
package auth

import (
	"maps"
	"slices"
)

// CredentialType tags a Credential variant. The tag is what survives persistence;
// the credential itself does not.
type CredentialType string

const (
	CredentialUsernamePassword CredentialType = "username_password"
	CredentialHTTPService      CredentialType = "http_service"
	CredentialOIDCCode         CredentialType = "oidc_code"
)

// Credential is an identity assertion presented for authentication.
type Credential interface {
	CredentialType() CredentialType
	// ID is a stable, non-secret identifier for the credential.
	ID() string
}

// UsernamePasswordCredential is a username/secret pair. Password is never persisted.
type UsernamePasswordCredential struct {
	Username string
	Password string
}

func (c UsernamePasswordCredential) CredentialType() CredentialType { return CredentialUsernamePassword }
func (c UsernamePasswordCredential) ID() string                     { return c.Username }

// String omits the password so credentials are safe to log.
func (c UsernamePasswordCredential) String() string { return "username=" + c.Username }

// HTTPBasedServiceCredential is presented by a proxying application: the callback URL
// that receives the proxy granting ticket and the id of the requesting service.
type HTTPBasedServiceCredential struct {
	CallbackURL string
	ServiceID   string
}

func (c HTTPBasedServiceCredential) CredentialType() CredentialType { return CredentialHTTPService }
func (c HTTPBasedServiceCredential) ID() string                     { return c.CallbackURL }

// OIDCCodeCredential carries an authorization code returned by an OpenID Connect provider.
// State identifies the login attempt; Code is single use and never persisted.
type OIDCCodeCredential struct {
	Code  string
	State string
}

func (c OIDCCodeCredential) CredentialType() CredentialType { return CredentialOIDCCode }
func (c OIDCCodeCredential) ID() string                     { return c.State }

// CredentialMetaData is the persisted projection of a Credential.
type CredentialMetaData struct {
	Type              CredentialType `json:"type"`
	ID                string         `json:"id"`
	CallbackURL       string         `json:"callback_url,omitempty"`
	RequestingService string         `json:"requesting_service,omitempty"`
}

// NewCredentialMetaData projects c into metadata, dropping any secret material.
func NewCredentialMetaData(c Credential) CredentialMetaData {
	md := CredentialMetaData{Type: c.CredentialType(), ID: c.ID()}
	if svc, ok := c.(HTTPBasedServiceCredential); ok {
		md.CallbackURL = svc.CallbackURL
		md.RequestingService = svc.ServiceID
	}
	return md
}

// Principal is an authenticated subject and its resolved attributes.
type Principal struct {
	ID         string              `json:"id"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of p.
func (p Principal) Clone() Principal {
	return Principal{ID: p.ID, Attributes: cloneAttributes(p.Attributes)}
}

// Equal compares id and attributes. Value order within an attribute matters, key order does not.
func (p Principal) Equal(o Principal) bool {
	return p.ID == o.ID && attributesEqual(p.Attributes, o.Attributes)
}

// HandlerResult is the outcome of one successful authentication attempt.
type HandlerResult struct {
	HandlerName string             `json:"handler_name"`
	Credential  CredentialMetaData `json:"credential"`
	Principal   Principal          `json:"principal"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Clone returns a deep copy of r.
func (r HandlerResult) Clone() HandlerResult {
	r.Principal = r.Principal.Clone()
	r.Warnings = slices.Clone(r.Warnings)
	return r
}

// Equal reports whether two results are equal.
func (r HandlerResult) Equal(o HandlerResult) bool {
	return r.HandlerName == o.HandlerName &&
		r.Credential == o.Credential &&
		r.Principal.Equal(o.Principal) &&
		slices.Equal(r.Warnings, o.Warnings)
}

// FailureKind classifies why a handler did not produce a result.
type FailureKind string

const (
	FailureInvalidCredentials FailureKind = "invalid_credentials"
	FailureHandlerUnavailable FailureKind = "handler_unavailable"
	FailureSecurity           FailureKind = "security_error"
)

// Valid reports whether k is a known failure kind.
func (k FailureKind) Valid() bool {
	switch k {
	case FailureInvalidCredentials, FailureHandlerUnavailable, FailureSecurity:
		return true
	default:
		return false
	}
}

// Failure records a handler that was attempted and failed.
// Cause is kept for logging only; it is not persisted and not compared.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
	Cause   error       `json:"-"`
}

func cloneAttributes(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

func attributesEqual(a, b map[string][]string) bool {
	return maps.EqualFunc(a, b, func(x, y []string) bool { return slices.Equal(x, y) })
}
