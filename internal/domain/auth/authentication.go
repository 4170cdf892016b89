package auth

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

var (
	// ErrSealed is returned when a Builder is used after Build.
	ErrSealed = errors.New("authentication already built")
	// ErrPrincipalRequired is returned by Build when no principal id was set.
	ErrPrincipalRequired = errors.New("principal id is required")
	// ErrAuthenticationTimeRequired is returned by Build when no authentication time was set.
	ErrAuthenticationTimeRequired = errors.New("authentication time is required")
	// ErrInvalidFailureKind is returned when a failure carries an unknown kind.
	ErrInvalidFailureKind = errors.New("invalid failure kind")
)

// Authentication is a sealed record of who authenticated and how.
// Values are obtained from a Builder and never change afterwards; accessors return copies.
type Authentication struct {
	principal       Principal
	authenticatedAt time.Time
	credentials     []CredentialMetaData
	attributes      map[string][]string
	successes       map[string]HandlerResult
	failures        map[string]Failure
}

// Principal returns the resolved principal.
func (a *Authentication) Principal() Principal { return a.principal.Clone() }

// AuthenticatedAt returns when authentication completed.
func (a *Authentication) AuthenticatedAt() time.Time { return a.authenticatedAt }

// Credentials returns the presented credentials in presentation order.
func (a *Authentication) Credentials() []CredentialMetaData { return slices.Clone(a.credentials) }

// Attributes returns authentication-level attributes (method, warnings, ...).
func (a *Authentication) Attributes() map[string][]string { return cloneAttributes(a.attributes) }

// Successes returns handler name → result for every handler that succeeded.
func (a *Authentication) Successes() map[string]HandlerResult {
	out := make(map[string]HandlerResult, len(a.successes))
	for k, v := range a.successes {
		out[k] = v.Clone()
	}
	return out
}

// Failures returns handler name → failure for every handler that was attempted and failed.
func (a *Authentication) Failures() map[string]Failure { return maps.Clone(a.failures) }

// Equal compares principal, authentication time, credentials, attributes and both handler maps.
// Failures match on handler name and kind only.
func (a *Authentication) Equal(o *Authentication) bool {
	if a == nil || o == nil {
		return a == o
	}
	if !a.principal.Equal(o.principal) ||
		!a.authenticatedAt.Equal(o.authenticatedAt) ||
		!slices.Equal(a.credentials, o.credentials) ||
		!attributesEqual(a.attributes, o.attributes) {
		return false
	}
	if !maps.EqualFunc(a.successes, o.successes, HandlerResult.Equal) {
		return false
	}
	return maps.EqualFunc(a.failures, o.failures, func(x, y Failure) bool { return x.Kind == y.Kind })
}

// Builder accumulates an Authentication. It is not safe for concurrent use.
// Once Build succeeds the builder is sealed and every later call records ErrSealed.
type Builder struct {
	auth   Authentication
	sealed bool
	err    error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{auth: Authentication{
		attributes: map[string][]string{},
		successes:  map[string]HandlerResult{},
		failures:   map[string]Failure{},
	}}
}

// NewBuilderFrom returns a Builder seeded with a copy of a.
func NewBuilderFrom(a *Authentication) *Builder {
	b := NewBuilder()
	b.SetPrincipal(a.principal).SetAuthenticationTime(a.authenticatedAt)
	for _, c := range a.credentials {
		b.AddCredential(c)
	}
	for k, v := range a.attributes {
		b.AddAttribute(k, v...)
	}
	for k, v := range a.successes {
		b.AddSuccess(k, v)
	}
	for k, v := range a.failures {
		b.AddFailure(k, v)
	}
	return b
}

func (b *Builder) mutable() bool {
	if b.sealed {
		b.err = ErrSealed
		return false
	}
	return b.err == nil
}

// SetPrincipal sets the resolved principal.
func (b *Builder) SetPrincipal(p Principal) *Builder {
	if b.mutable() {
		b.auth.principal = p.Clone()
	}
	return b
}

// SetAuthenticationTime sets when authentication completed.
func (b *Builder) SetAuthenticationTime(t time.Time) *Builder {
	if b.mutable() {
		b.auth.authenticatedAt = t
	}
	return b
}

// AddCredential appends presented credential metadata.
func (b *Builder) AddCredential(md CredentialMetaData) *Builder {
	if b.mutable() {
		b.auth.credentials = append(b.auth.credentials, md)
	}
	return b
}

// AddAttribute appends values to an authentication attribute.
func (b *Builder) AddAttribute(name string, values ...string) *Builder {
	if b.mutable() {
		b.auth.attributes[name] = append(b.auth.attributes[name], values...)
	}
	return b
}

// AddSuccess records a successful handler.
func (b *Builder) AddSuccess(handler string, r HandlerResult) *Builder {
	if b.mutable() {
		b.auth.successes[handler] = r.Clone()
	}
	return b
}

// AddFailure records a failed handler.
func (b *Builder) AddFailure(handler string, f Failure) *Builder {
	if !b.mutable() {
		return b
	}
	if !f.Kind.Valid() {
		b.err = ErrInvalidFailureKind
		return b
	}
	b.auth.failures[handler] = f
	return b
}

// HasSuccess reports whether any handler succeeded so far.
func (b *Builder) HasSuccess() bool { return len(b.auth.successes) > 0 }

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error { return b.err }

// Build seals the builder and returns the Authentication.
func (b *Builder) Build() (*Authentication, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	if b.err != nil {
		return nil, b.err
	}
	if strings.TrimSpace(b.auth.principal.ID) == "" {
		return nil, ErrPrincipalRequired
	}
	if b.auth.authenticatedAt.IsZero() {
		return nil, ErrAuthenticationTimeRequired
	}
	b.sealed = true
	out := b.auth
	return &out, nil
}
