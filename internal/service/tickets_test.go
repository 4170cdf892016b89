package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/target/sso-ticket-core/internal/data"
	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/mocks"
	authmocks "github.com/target/sso-ticket-core/internal/mocks/auth"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/testutil"
)

const noProxyServiceURL = "https://noproxy.example.com"

var (
	appService     = ticket.Service{ID: testutil.TestServiceURL, OriginalURL: testutil.TestServiceURL}
	noProxyService = ticket.Service{ID: noProxyServiceURL, OriginalURL: noProxyServiceURL}
	bobCredential  = domainauth.UsernamePasswordCredential{Username: testutil.TestUsername, Password: testutil.TestPassword}
	proxyCallback  = domainauth.HTTPBasedServiceCredential{CallbackURL: testutil.TestCallbackURL, ServiceID: testutil.TestServiceURL}
)

type ticketFixture struct {
	svc      *TicketService
	registry *data.MemoryTicketRegistry
	clock    *data.FixedTimeProvider
	metrics  *statsd.Recorder
}

// newCallbackHandler accepts any HTTP service credential, resolving the callback URL as principal.
func newCallbackHandler() *authmocks.StubHandler {
	h := authmocks.NewStubHandler("http-callback", nil)
	h.SupportsFunc = func(c domainauth.Credential) bool {
		_, ok := c.(domainauth.HTTPBasedServiceCredential)
		return ok
	}
	h.AuthenticateFunc = func(_ context.Context, c domainauth.Credential) (domainauth.HandlerResult, error) {
		return domainauth.HandlerResult{
			Credential: domainauth.NewCredentialMetaData(c),
			Principal:  domainauth.Principal{ID: c.ID()},
		}, nil
	}
	return h
}

func newTicketFixture(t *testing.T, mutate ...func(*TicketServiceConfig)) *ticketFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(testutil.TestTime())
	users := authmocks.NewStubHandler(testutil.TestHandlerName, map[string]string{
		testutil.TestUsername: testutil.TestPassword,
	})
	users.Attributes = map[string][]string{"nickname": {"bob"}, "ssn": {"secret"}}

	rec := statsd.NewRecorder()
	manager := NewAuthenticationManager(AuthenticationManagerOptions{
		Handlers: []ports.AuthenticationHandler{users, newCallbackHandler()},
		Config:   AuthenticationManagerConfig{Clock: clock},
	})
	services := authmocks.NewStaticServiceRegistry(
		ports.RegisteredService{
			ID:            testutil.TestServiceURL,
			ProxyAllowed:  true,
			ReleasePolicy: domainauth.ReturnAllowedAttributeReleasePolicy{Allowed: []string{"nickname"}},
		},
		ports.RegisteredService{ID: noProxyServiceURL},
	)

	cfg := TicketServiceConfig{
		Policies: TicketPolicies{
			GrantingTicket:      testutil.DefaultGrantingPolicy(),
			ServiceTicket:       testutil.DefaultServicePolicy(),
			ProxyGrantingTicket: ticket.HardTimeoutPolicy{TTL: time.Hour},
		},
		Clock:      clock,
		MaxRetries: 32,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	registry := data.NewMemoryTicketRegistry()
	svc := NewTicketService(TicketServiceOptions{
		Deps:    TicketServiceDeps{Registry: registry, Auth: manager, Services: services},
		Config:  cfg,
		Metrics: rec,
	})
	return &ticketFixture{svc: svc, registry: registry, clock: clock, metrics: rec}
}

func (f *ticketFixture) login(t *testing.T) *ticket.GrantingTicket {
	t.Helper()
	tgt, err := f.svc.Login(context.Background(), bobCredential)
	require.NoError(t, err)
	return tgt
}

func (f *ticketFixture) storedGranting(t *testing.T, id string) *ticket.GrantingTicket {
	t.Helper()
	got, err := f.registry.Get(context.Background(), id)
	require.NoError(t, err)
	tgt, ok := got.(*ticket.GrantingTicket)
	require.True(t, ok)
	return tgt
}

func TestNewTicketService_RequiresRegistry(t *testing.T) {
	assert.Panics(t, func() {
		NewTicketService(TicketServiceOptions{})
	})
}

func TestTicketService_Login(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newTicketFixture(t)
		tgt := f.login(t)

		assert.True(t, strings.HasPrefix(tgt.ID(), ticket.PrefixGrantingTicket+"-"))
		assert.True(t, tgt.IsRoot())
		assert.Equal(t, testutil.TestUsername, tgt.Authentication().Principal().ID)
		assert.Equal(t, 1, f.registry.Len())
		assert.Equal(t, int64(1), f.metrics.CountOf("ticket.transition", map[string]string{
			"transition": "create",
			"result":     "success",
			"kind":       "TGT",
		}))
	})

	t.Run("bad password", func(t *testing.T) {
		f := newTicketFixture(t)
		_, err := f.svc.Login(context.Background(), domainauth.UsernamePasswordCredential{
			Username: testutil.TestUsername,
			Password: "nope",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsAuthenticationFailed(err))
		assert.Equal(t, 0, f.registry.Len())
	})
}

func TestTicketService_GrantServiceTicket(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	tgt := f.login(t)

	st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(st.ID(), ticket.PrefixServiceTicket+"-"))
	assert.Equal(t, tgt.ID(), st.GrantingTicketID())
	assert.True(t, st.FromNewLogin())

	stored := f.storedGranting(t, tgt.ID())
	assert.Equal(t, 1, stored.CountOfUses())
	assert.Equal(t, map[string]ticket.Service{st.ID(): appService}, stored.Services())
	assert.Equal(t, 2, f.registry.Len())

	_, err = f.svc.GrantServiceTicket(ctx, tgt.ID(), ticket.Service{}, false)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.GrantServiceTicket(ctx, "TGT-missing", appService, false)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.GrantServiceTicket(ctx, st.ID(), appService, false)
	assert.True(t, apperrors.IsValidation(err), "a service ticket cannot grant")
}

func TestTicketService_GrantServiceTicket_ExpiredOwner(t *testing.T) {
	t.Run("marked expired", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		_, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.NoError(t, err)

		require.NoError(t, f.svc.MarkExpired(ctx, tgt.ID()))
		require.NoError(t, f.svc.MarkExpired(ctx, tgt.ID()), "marking twice is a no-op")

		_, err = f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.Error(t, err)
		assert.True(t, apperrors.IsTicketExpired(err))

		stored := f.storedGranting(t, tgt.ID())
		assert.True(t, stored.Expired())
		assert.Equal(t, 1, stored.CountOfUses(), "failed grant must not count a use")
		assert.Len(t, stored.Services(), 1)
		assert.Equal(t, 2, f.registry.Len())
	})

	t.Run("idle timeout", func(t *testing.T) {
		f := newTicketFixture(t)
		tgt := f.login(t)
		f.clock.AddTime(2 * time.Hour)

		_, err := f.svc.GrantServiceTicket(context.Background(), tgt.ID(), appService, false)
		assert.True(t, apperrors.IsTicketExpired(err))
	})
}

func TestTicketService_GrantServiceTicket_Concurrent(t *testing.T) {
	f := newTicketFixture(t)
	tgt := f.login(t)

	const grants = 16
	var g errgroup.Group
	for range grants {
		g.Go(func() error {
			_, err := f.svc.GrantServiceTicket(context.Background(), tgt.ID(), appService, false)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored := f.storedGranting(t, tgt.ID())
	assert.Equal(t, grants, stored.CountOfUses())
	assert.Len(t, stored.Services(), grants)
	assert.Equal(t, grants+1, f.registry.Len())
}

func TestTicketService_ValidateServiceTicket(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	tgt := f.login(t)
	st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, true)
	require.NoError(t, err)

	out, err := f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUsername, out.Principal.ID)
	assert.Equal(t, map[string][]string{"nickname": {"bob"}}, out.Principal.Attributes)
	assert.True(t, out.FromNewLogin)
	assert.Empty(t, out.Proxies)
	assert.Empty(t, out.ProxyGrantingTicketID)
	require.Len(t, out.Chain, 1)

	stored, err := f.registry.Get(ctx, st.ID())
	require.NoError(t, err, "validated ticket stays until swept")
	storedST, ok := stored.(*ticket.ServiceTicket)
	require.True(t, ok)
	assert.True(t, storedST.Validated())
	assert.Equal(t, 1, storedST.CountOfUses())

	_, err = f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
	assert.True(t, apperrors.IsTicketAlreadyUsed(err), "got %v", err)
}

func TestTicketService_ValidateServiceTicket_Rejections(t *testing.T) {
	t.Run("wrong service", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.NoError(t, err)

		_, err = f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: noProxyService})
		assert.True(t, apperrors.IsInvalidService(err))
		_, err = f.registry.Get(ctx, st.ID())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("already validated", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		root := f.login(t)

		st, err := root.GrantServiceTicket("ST-validated", appService,
			ticket.MultiTimeUseOrTimeoutPolicy{Uses: 5, TTL: time.Minute}, false, f.clock.Now())
		require.NoError(t, err)
		st.Validate(f.clock.Now())
		require.NoError(t, f.registry.Add(ctx, st))

		_, err = f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
		assert.True(t, apperrors.IsTicketAlreadyUsed(err))
	})

	t.Run("expired", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.NoError(t, err)
		f.clock.AddTime(11 * time.Second)

		_, err = f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
		assert.True(t, apperrors.IsTicketExpired(err))
		_, err = f.registry.Get(ctx, st.ID())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("owner expired", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.NoError(t, err)
		require.NoError(t, f.svc.MarkExpired(ctx, tgt.ID()))

		_, err = f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
		assert.True(t, apperrors.IsTicketExpired(err))
	})
}

func TestTicketService_ValidateServiceTicket_MultiUse(t *testing.T) {
	f := newTicketFixture(t, func(c *TicketServiceConfig) {
		c.MultiUseServiceTickets = true
		c.Policies.ServiceTicket = ticket.MultiTimeUseOrTimeoutPolicy{Uses: 2, TTL: time.Minute}
	})
	ctx := context.Background()
	tgt := f.login(t)
	st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
	require.NoError(t, err)

	req := ValidateRequest{TicketID: st.ID(), Service: appService}
	_, err = f.svc.ValidateServiceTicket(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.ValidateServiceTicket(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.ValidateServiceTicket(ctx, req)
	assert.True(t, apperrors.IsTicketExpired(err), "use budget is spent")
}

func TestTicketService_ValidateServiceTicket_ConcurrentSingleUse(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	tgt := f.login(t)
	st, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
	require.NoError(t, err)

	var successes atomic.Int32
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: st.ID(), Service: appService})
			switch {
			case err == nil:
				successes.Add(1)
			case apperrors.IsTicketAlreadyUsed(err):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), successes.Load())
}

func TestTicketService_ProxyChain(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	root := f.login(t)
	st, err := f.svc.GrantServiceTicket(ctx, root.ID(), appService, false)
	require.NoError(t, err)

	out, err := f.svc.ValidateServiceTicket(ctx, ValidateRequest{
		TicketID:        st.ID(),
		Service:         appService,
		ProxyCredential: proxyCallback,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.ProxyGrantingTicketID, ticket.PrefixProxyGrantingTicket+"-"))

	pgt := f.storedGranting(t, out.ProxyGrantingTicketID)
	assert.Equal(t, root.ID(), pgt.ParentID())
	require.Len(t, pgt.ChainedAuthentications(), 2)

	pt, err := f.svc.GrantServiceTicket(ctx, pgt.ID(), appService, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pt.ID(), ticket.PrefixProxyServiceTicket+"-"))

	proxied, err := f.svc.ValidateServiceTicket(ctx, ValidateRequest{TicketID: pt.ID(), Service: appService})
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUsername, proxied.Principal.ID)
	assert.Equal(t, []string{testutil.TestCallbackURL}, proxied.Proxies)
	assert.Len(t, proxied.Chain, 2)

	resolved, err := f.svc.Root(ctx, pgt)
	require.NoError(t, err)
	assert.Equal(t, root.ID(), resolved.ID())
}

func TestTicketService_GrantProxyGrantingTicket_Rejections(t *testing.T) {
	t.Run("service may not proxy", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		root := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, root.ID(), noProxyService, false)
		require.NoError(t, err)

		_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
		assert.True(t, apperrors.IsProxyNotAuthorized(err))
	})

	t.Run("unregistered service", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		root := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, root.ID(), ticket.Service{ID: "https://unknown.example.com"}, false)
		require.NoError(t, err)

		_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
		assert.True(t, apperrors.IsProxyNotAuthorized(err))
	})

	t.Run("only one proxy per service ticket", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		root := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, root.ID(), appService, false)
		require.NoError(t, err)

		_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
		require.NoError(t, err)
		_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("owner expired", func(t *testing.T) {
		f := newTicketFixture(t)
		ctx := context.Background()
		root := f.login(t)
		st, err := f.svc.GrantServiceTicket(ctx, root.ID(), appService, false)
		require.NoError(t, err)
		require.NoError(t, f.svc.MarkExpired(ctx, root.ID()))

		_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
		assert.True(t, apperrors.IsTicketExpired(err))
	})
}

func TestTicketService_CascadingExpiry(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	chain := testutil.BuildProxyChain(t, 2, f.clock.Now())
	for _, tk := range chain.Tickets() {
		require.NoError(t, f.registry.Add(ctx, tk))
	}
	leaf := chain.Leaf()

	valid, err := f.svc.IsValid(ctx, leaf)
	require.NoError(t, err)
	assert.True(t, valid)

	require.NoError(t, f.svc.MarkExpired(ctx, chain.Root.ID()))

	for _, tk := range chain.Tickets() {
		valid, err := f.svc.IsValid(ctx, tk)
		require.NoError(t, err)
		assert.False(t, valid, "%s should be invalid once the root is expired", tk.ID())
	}

	_, err = f.svc.GrantServiceTicket(ctx, leaf.ID(), appService, false)
	assert.True(t, apperrors.IsTicketExpired(err))

	stored := f.storedGranting(t, leaf.ID())
	assert.False(t, stored.Expired(), "descendants are never rewritten")
}

func TestTicketService_IsValid_ChainDepthGuard(t *testing.T) {
	f := newTicketFixture(t, func(c *TicketServiceConfig) { c.MaxChainDepth = 1 })
	ctx := context.Background()
	chain := testutil.BuildProxyChain(t, 2, f.clock.Now())
	for _, tk := range chain.Tickets() {
		require.NoError(t, f.registry.Add(ctx, tk))
	}

	_, err := f.svc.IsValid(ctx, chain.Leaf())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetCode(err))

	valid, err := f.svc.IsValid(ctx, chain.Proxies[0])
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTicketService_DestroyGrantingTicket(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	root := f.login(t)
	st1, err := f.svc.GrantServiceTicket(ctx, root.ID(), appService, false)
	require.NoError(t, err)
	st2, err := f.svc.GrantServiceTicket(ctx, root.ID(), noProxyService, false)
	require.NoError(t, err)
	pgt, err := f.svc.GrantProxyGrantingTicket(ctx, st1.ID(), proxyCallback)
	require.NoError(t, err)

	services, err := f.svc.DestroyGrantingTicket(ctx, root.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []ticket.Service{appService, noProxyService}, services)

	for _, id := range []string{root.ID(), st1.ID(), st2.ID()} {
		_, err := f.registry.Get(ctx, id)
		assert.True(t, apperrors.IsNotFound(err), id)
	}

	storedPGT, err := f.registry.Get(ctx, pgt.ID())
	require.NoError(t, err)
	valid, err := f.svc.IsValid(ctx, storedPGT)
	require.NoError(t, err)
	assert.False(t, valid, "orphaned proxy granting ticket is invalid")
}

func TestTicketService_RetriesConcurrentModification(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockTicketRegistry(ctrl)
	now := testutil.TestTime()
	root := testutil.NewRootTicket(t, "TGT-1-root", now)

	registry.EXPECT().Get(gomock.Any(), root.ID()).
		DoAndReturn(func(context.Context, string) (ticket.Ticket, error) { return root.Clone(), nil }).
		Times(2)
	gomock.InOrder(
		registry.EXPECT().Update(gomock.Any(), gomock.Any()).Return(apperrors.ConcurrentModification(root.ID())),
		registry.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil),
	)
	registry.EXPECT().Add(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	// the service ticket of the lost attempt is withdrawn
	registry.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(true, nil)

	svc := NewTicketService(TicketServiceOptions{
		Deps:   TicketServiceDeps{Registry: registry},
		Config: TicketServiceConfig{Clock: data.NewFixedTimeProvider(now)},
	})
	st, err := svc.GrantServiceTicket(context.Background(), root.ID(), appService, false)
	require.NoError(t, err)
	assert.Equal(t, root.ID(), st.GrantingTicketID())
}

func TestTicketService_RetriesExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockTicketRegistry(ctrl)
	now := testutil.TestTime()
	root := testutil.NewRootTicket(t, "TGT-1-root", now)

	registry.EXPECT().Get(gomock.Any(), root.ID()).
		DoAndReturn(func(context.Context, string) (ticket.Ticket, error) { return root.Clone(), nil }).
		Times(3)
	registry.EXPECT().Update(gomock.Any(), gomock.Any()).
		Return(apperrors.ConcurrentModification(root.ID())).
		Times(3)

	svc := NewTicketService(TicketServiceOptions{
		Deps:   TicketServiceDeps{Registry: registry},
		Config: TicketServiceConfig{Clock: data.NewFixedTimeProvider(now), MaxRetries: 3},
	})
	err := svc.MarkExpired(context.Background(), root.ID())
	assert.True(t, apperrors.IsConcurrentModification(err))
}

// flakyRegistry fails Add for ids with addPrefix and every Update while failUpdate is set.
type flakyRegistry struct {
	*data.MemoryTicketRegistry
	addPrefix  string
	failUpdate bool
}

func (r *flakyRegistry) Add(ctx context.Context, t ticket.Ticket) error {
	if r.addPrefix != "" && strings.HasPrefix(t.ID(), r.addPrefix) {
		return errors.New("connection reset")
	}
	return r.MemoryTicketRegistry.Add(ctx, t)
}

func (r *flakyRegistry) Update(ctx context.Context, t ticket.Ticket) error {
	if r.failUpdate {
		return errors.New("connection reset")
	}
	return r.MemoryTicketRegistry.Update(ctx, t)
}

func newFlakyFixture(t *testing.T) (*ticketFixture, *flakyRegistry) {
	t.Helper()
	f := newTicketFixture(t)
	flaky := &flakyRegistry{MemoryTicketRegistry: f.registry}
	f.svc.registry = flaky
	return f, flaky
}

func TestTicketService_GrantServiceTicket_StoreFailureLeavesOwnerUntouched(t *testing.T) {
	t.Run("add fails", func(t *testing.T) {
		f, flaky := newFlakyFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		flaky.addPrefix = ticket.PrefixServiceTicket + "-"

		_, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.Error(t, err)

		stored := f.storedGranting(t, tgt.ID())
		assert.Equal(t, 0, stored.CountOfUses())
		assert.Empty(t, stored.Services())
		assert.Equal(t, 1, f.registry.Len())
	})

	t.Run("owner update fails", func(t *testing.T) {
		f, flaky := newFlakyFixture(t)
		ctx := context.Background()
		tgt := f.login(t)
		flaky.failUpdate = true

		_, err := f.svc.GrantServiceTicket(ctx, tgt.ID(), appService, false)
		require.Error(t, err)

		stored := f.storedGranting(t, tgt.ID())
		assert.Equal(t, 0, stored.CountOfUses())
		assert.Empty(t, stored.Services())
		assert.Equal(t, 1, f.registry.Len(), "orphaned service ticket is removed")
	})
}

func TestTicketService_GrantProxyGrantingTicket_StoreFailureLeavesTicketUnspent(t *testing.T) {
	f, flaky := newFlakyFixture(t)
	ctx := context.Background()
	root := f.login(t)
	st, err := f.svc.GrantServiceTicket(ctx, root.ID(), appService, false)
	require.NoError(t, err)
	flaky.addPrefix = ticket.PrefixProxyGrantingTicket + "-"

	_, err = f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
	require.Error(t, err)

	stored, err := f.registry.Get(ctx, st.ID())
	require.NoError(t, err)
	storedST, ok := stored.(*ticket.ServiceTicket)
	require.True(t, ok)
	assert.False(t, storedST.ProxyGranted())
	assert.Equal(t, 2, f.registry.Len())

	flaky.addPrefix = ""
	pgt, err := f.svc.GrantProxyGrantingTicket(ctx, st.ID(), proxyCallback)
	require.NoError(t, err)
	assert.Equal(t, root.ID(), pgt.ParentID())
}

func TestTicketService_IsValid_ReadsStoredCopy(t *testing.T) {
	f := newTicketFixture(t)
	ctx := context.Background()
	root := f.login(t)

	require.NoError(t, f.svc.MarkExpired(ctx, root.ID()))
	valid, err := f.svc.IsValid(ctx, root)
	require.NoError(t, err)
	assert.False(t, valid, "stale value must not hide the stored expiry")

	_, err = f.svc.DestroyGrantingTicket(ctx, root.ID())
	require.NoError(t, err)
	valid, err = f.svc.IsValid(ctx, root)
	require.NoError(t, err)
	assert.False(t, valid)
}
