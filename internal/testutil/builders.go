// Package testutil provides testing utilities and fixtures for the ticket core.
package testutil

import (
	"fmt"
	"time"

	"github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
)

// Fixture values shared by codec, registry and service tests.
const (
	TestUsername    = "handymanbob"
	TestPassword    = "foo"
	TestCallbackURL = "https://localhost:8080/path/file.html?p1=v1&p2=v2#fragment"
	TestServiceURL  = "https://some.app.edu"
	TestHandlerName = "accept-users"
)

// AuthenticationBuilder provides a fluent interface for building Authentication values for testing.
type AuthenticationBuilder struct {
	b *auth.Builder
}

// NewAuthentication creates a builder for principal with a single successful
// username/password handler result.
func NewAuthentication(principal string, at time.Time) *AuthenticationBuilder {
	cred := auth.UsernamePasswordCredential{Username: principal, Password: TestPassword}
	md := auth.NewCredentialMetaData(cred)
	p := auth.Principal{ID: principal}
	b := auth.NewBuilder().
		SetPrincipal(p).
		SetAuthenticationTime(at).
		AddCredential(md).
		AddSuccess(TestHandlerName, auth.HandlerResult{
			HandlerName: TestHandlerName,
			Credential:  md,
			Principal:   p,
		})
	return &AuthenticationBuilder{b: b}
}

// WithAttribute adds an authentication attribute.
func (a *AuthenticationBuilder) WithAttribute(name string, values ...string) *AuthenticationBuilder {
	a.b.AddAttribute(name, values...)
	return a
}

// WithServiceCredential adds proxy callback credential metadata.
func (a *AuthenticationBuilder) WithServiceCredential(callbackURL, serviceID string) *AuthenticationBuilder {
	a.b.AddCredential(auth.NewCredentialMetaData(auth.HTTPBasedServiceCredential{
		CallbackURL: callbackURL,
		ServiceID:   serviceID,
	}))
	return a
}

// WithFailure records a failed handler.
func (a *AuthenticationBuilder) WithFailure(handler string, kind auth.FailureKind) *AuthenticationBuilder {
	a.b.AddFailure(handler, auth.Failure{Kind: kind, Message: "rejected"})
	return a
}

// Build returns the authentication or fails the test.
func (a *AuthenticationBuilder) Build(t TestingTB) *auth.Authentication {
	t.Helper()
	out, err := a.b.Build()
	if err != nil {
		t.Fatalf("build authentication: %v", err)
	}
	return out
}

// BobAuthentication is the canonical fixture: principal handymanbob with nickname=bob.
func BobAuthentication(t TestingTB, at time.Time) *auth.Authentication {
	t.Helper()
	return NewAuthentication(TestUsername, at).WithAttribute("nickname", "bob").Build(t)
}

// DefaultGrantingPolicy is the policy used for granting tickets in fixtures.
func DefaultGrantingPolicy() ticket.ExpirationPolicy {
	return ticket.GrantingTicketPolicy{Lifetime: 8 * time.Hour, Idle: 2 * time.Hour}
}

// DefaultServicePolicy is the policy used for service tickets in fixtures.
func DefaultServicePolicy() ticket.ExpirationPolicy {
	return ticket.MultiTimeUseOrTimeoutPolicy{Uses: 1, TTL: 10 * time.Second}
}

// NewRootTicket returns a root granting ticket for the bob fixture.
func NewRootTicket(t TestingTB, id string, now time.Time) *ticket.GrantingTicket {
	t.Helper()
	tgt, err := ticket.NewGrantingTicket(id, BobAuthentication(t, now), DefaultGrantingPolicy(), now)
	if err != nil {
		t.Fatalf("new granting ticket: %v", err)
	}
	return tgt
}

// ProxyChain is a root granting ticket followed by proxy granting tickets, each
// obtained through a service ticket of the previous one.
type ProxyChain struct {
	Root           *ticket.GrantingTicket
	ServiceTickets []*ticket.ServiceTicket
	Proxies        []*ticket.GrantingTicket
}

// Tickets returns every ticket in the chain, root first.
func (c ProxyChain) Tickets() []ticket.Ticket {
	out := []ticket.Ticket{c.Root}
	for i, st := range c.ServiceTickets {
		out = append(out, st)
		if i < len(c.Proxies) {
			out = append(out, c.Proxies[i])
		}
	}
	return out
}

// Leaf returns the deepest granting ticket.
func (c ProxyChain) Leaf() *ticket.GrantingTicket {
	if len(c.Proxies) == 0 {
		return c.Root
	}
	return c.Proxies[len(c.Proxies)-1]
}

// BuildProxyChain builds a chain with depth proxy granting tickets. Ids are
// deterministic so callers can refer to them.
func BuildProxyChain(t TestingTB, depth int, now time.Time) ProxyChain {
	t.Helper()
	chain := ProxyChain{Root: NewRootTicket(t, "TGT-1-root", now)}
	parent := chain.Root
	for i := 1; i <= depth; i++ {
		svc := ticket.Service{ID: TestServiceURL, OriginalURL: TestServiceURL}
		st, err := parent.GrantServiceTicket(fmt.Sprintf("ST-%d", i), svc, DefaultServicePolicy(), false, now)
		if err != nil {
			t.Fatalf("grant service ticket %d: %v", i, err)
		}
		proxyAuth := NewAuthentication(TestCallbackURL, now).
			WithServiceCredential(TestCallbackURL, TestServiceURL).
			Build(t)
		pgt, err := st.GrantProxyGrantingTicket(fmt.Sprintf("PGT-%d", i), parent, proxyAuth, DefaultGrantingPolicy(), now)
		if err != nil {
			t.Fatalf("grant proxy granting ticket %d: %v", i, err)
		}
		chain.ServiceTickets = append(chain.ServiceTickets, st)
		chain.Proxies = append(chain.Proxies, pgt)
		parent = pgt
	}
	return chain
}
