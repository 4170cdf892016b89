package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/sso-ticket-core/internal/data"
	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/observability/metrics"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

const (
	// DefaultMaxRetries bounds read-mutate-write attempts on concurrent modification.
	DefaultMaxRetries = 10
	// DefaultMaxChainDepth bounds ancestor walks.
	DefaultMaxChainDepth = 32
)

// TicketPolicies are the expiration policies assigned to newly issued tickets.
type TicketPolicies struct {
	GrantingTicket      ticket.ExpirationPolicy
	ServiceTicket       ticket.ExpirationPolicy
	ProxyGrantingTicket ticket.ExpirationPolicy
}

// TicketServiceConfig groups lifecycle settings.
type TicketServiceConfig struct {
	Policies TicketPolicies
	IDs      *ticket.IDGenerator
	Clock    data.TimeProvider
	// MultiUseServiceTickets keeps service tickets after validation and allows repeated validation.
	MultiUseServiceTickets bool
	MaxRetries             int
	MaxChainDepth          int
}

// TicketServiceDeps groups the collaborators of TicketService.
type TicketServiceDeps struct {
	Registry ports.TicketRegistry  // Required
	Auth     ports.Authenticator   // Required for proxy granting
	Services ports.ServiceRegistry // Optional: without it proxying is refused and no attributes are released
}

// TicketServiceOptions groups dependencies for TicketService.
type TicketServiceOptions struct {
	Deps    TicketServiceDeps
	Config  TicketServiceConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// TicketService is the ticket lifecycle engine. It keeps no ticket state of its own:
// every mutation re-reads the ticket, applies the change to that copy and writes it
// back, starting over when the registry reports a concurrent modification.
type TicketService struct {
	registry ports.TicketRegistry
	auth     ports.Authenticator
	services ports.ServiceRegistry
	cfg      TicketServiceConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewTicketService creates a TicketService. It panics if no registry is given.
func NewTicketService(opts TicketServiceOptions) *TicketService {
	if opts.Deps.Registry == nil {
		panic("TicketRegistry is required")
	}
	cfg := opts.Config
	if cfg.Policies.GrantingTicket == nil {
		cfg.Policies.GrantingTicket = ticket.GrantingTicketPolicy{Lifetime: 8 * time.Hour, Idle: 2 * time.Hour}
	}
	if cfg.Policies.ServiceTicket == nil {
		cfg.Policies.ServiceTicket = ticket.MultiTimeUseOrTimeoutPolicy{Uses: 1, TTL: 10 * time.Second}
	}
	if cfg.Policies.ProxyGrantingTicket == nil {
		cfg.Policies.ProxyGrantingTicket = cfg.Policies.GrantingTicket
	}
	if cfg.IDs == nil {
		cfg.IDs = ticket.NewIDGenerator("")
	}
	if cfg.Clock == nil {
		cfg.Clock = &data.RealTimeProvider{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = DefaultMaxChainDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketService{
		registry: opts.Deps.Registry,
		auth:     opts.Deps.Auth,
		services: opts.Deps.Services,
		cfg:      cfg,
		logger:   logger.With("component", "ticket_service"),
		metrics:  opts.Metrics,
	}
}

func (s *TicketService) emit(kind ticket.Kind, transition string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitTicketTransition(s.metrics, metrics.TicketMetric{
		Kind:       string(kind),
		Transition: transition,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// retry runs fn until it returns something other than a concurrent modification
// error or the attempt budget is spent. fn must re-read everything it mutates.
func (s *TicketService) retry(ctx context.Context, op, id string, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.MapStoreError(ctxErr)
		}
		err = fn(attempt)
		if !apperrors.IsConcurrentModification(err) {
			return err
		}
		s.logger.DebugContext(ctx, "concurrent modification, retrying",
			"op", op,
			"ticket_id", id,
			"attempt", attempt+1,
		)
	}
	s.logger.WarnContext(ctx, "retries exhausted",
		"op", op,
		"ticket_id", id,
		"attempts", s.cfg.MaxRetries,
	)
	return err
}

// Get returns the stored ticket.
func (s *TicketService) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	return s.registry.Get(ctx, id)
}

func (s *TicketService) getGranting(ctx context.Context, id string) (*ticket.GrantingTicket, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tgt, ok := t.(*ticket.GrantingTicket)
	if !ok {
		return nil, apperrors.ValidationField("id", fmt.Sprintf("ticket %s is not a granting ticket", id))
	}
	return tgt, nil
}

func (s *TicketService) getService(ctx context.Context, id string) (*ticket.ServiceTicket, error) {
	t, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, ok := t.(*ticket.ServiceTicket)
	if !ok {
		return nil, apperrors.ValidationField("id", fmt.Sprintf("ticket %s is not a service ticket", id))
	}
	return st, nil
}

// Login authenticates creds and creates a root granting ticket for the result.
func (s *TicketService) Login(ctx context.Context, creds ...domainauth.Credential) (*ticket.GrantingTicket, error) {
	if s.auth == nil {
		return nil, apperrors.Internalf("no authenticator configured")
	}
	a, err := s.auth.Authenticate(ctx, creds...)
	if err != nil {
		return nil, err
	}
	return s.CreateGrantingTicket(ctx, a)
}

// CreateGrantingTicket stores a new root granting ticket wrapping a.
func (s *TicketService) CreateGrantingTicket(ctx context.Context, a *domainauth.Authentication) (tgt *ticket.GrantingTicket, err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindGrantingTicket, metrics.TransitionCreate, start, err) }()

	id := s.cfg.IDs.New(ticket.PrefixGrantingTicket)
	tgt, err = ticket.NewGrantingTicket(id, a, s.cfg.Policies.GrantingTicket, s.cfg.Clock.Now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "create granting ticket")
	}
	if err = s.registry.Add(ctx, tgt); err != nil {
		return nil, fmt.Errorf("store granting ticket: %w", err)
	}
	s.logger.DebugContext(ctx, "granting ticket created",
		"ticket_id", id,
		"principal", a.Principal().ID,
	)
	return tgt, nil
}

// GrantServiceTicket issues a service ticket for svc from the granting ticket tgtID.
// It fails with ticket_expired, leaving the stored granting ticket unchanged, when the
// granting ticket or any of its ancestors is expired.
func (s *TicketService) GrantServiceTicket(
	ctx context.Context,
	tgtID string,
	svc ticket.Service,
	fromNewLogin bool,
) (st *ticket.ServiceTicket, err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindServiceTicket, metrics.TransitionGrant, start, err) }()

	if svc.ID == "" {
		return nil, apperrors.ValidationField("service", "service id is required")
	}
	err = s.retry(ctx, "grant_service_ticket", tgtID, func(int) error {
		tgt, getErr := s.getGranting(ctx, tgtID)
		if getErr != nil {
			return getErr
		}
		valid, validErr := s.chainValid(ctx, tgt)
		if validErr != nil {
			return validErr
		}
		if !valid {
			return apperrors.TicketExpired(tgtID)
		}

		prefix := ticket.PrefixServiceTicket
		if !tgt.IsRoot() {
			prefix = ticket.PrefixProxyServiceTicket
		}
		next, grantErr := tgt.GrantServiceTicket(s.cfg.IDs.New(prefix), svc, s.cfg.Policies.ServiceTicket, fromNewLogin, s.cfg.Clock.Now())
		if errors.Is(grantErr, ticket.ErrExpired) {
			return apperrors.TicketExpired(tgtID)
		}
		if grantErr != nil {
			return grantErr
		}
		if writeErr := s.storeChild(ctx, next, tgt); writeErr != nil {
			return writeErr
		}
		st = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "service ticket granted",
		"ticket_id", st.ID(),
		"granting_ticket_id", tgtID,
		"service", svc.ID,
	)
	return st, nil
}

// ValidateRequest is a service ticket presented by a relying service.
type ValidateRequest struct {
	TicketID string
	Service  ticket.Service
	// ProxyCredential, when set, exchanges the ticket for a proxy granting ticket as
	// part of validation.
	ProxyCredential domainauth.Credential
}

// Assertion is the outcome of a successful validation.
type Assertion struct {
	Principal domainauth.Principal
	// Chain holds every authentication behind the ticket, root first.
	Chain        []*domainauth.Authentication
	FromNewLogin bool
	Service      ticket.Service
	// Proxies lists the proxying principals, nearest first.
	Proxies               []string
	ProxyGrantingTicketID string
}

// ValidateServiceTicket validates the ticket for req.Service. Service tickets are
// single use unless MultiUseServiceTickets is set: a second validation fails with
// ticket_already_used. The validated ticket stays stored, flagged, until the sweeper
// or the registry TTL removes it.
func (s *TicketService) ValidateServiceTicket(ctx context.Context, req ValidateRequest) (out *Assertion, err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindServiceTicket, metrics.TransitionValidate, start, err) }()

	var validated *ticket.ServiceTicket
	err = s.retry(ctx, "validate_service_ticket", req.TicketID, func(attempt int) error {
		st, getErr := s.getService(ctx, req.TicketID)
		if apperrors.IsNotFound(getErr) && attempt > 0 && !s.cfg.MultiUseServiceTickets {
			// consumed by a concurrent validation between our read and write
			return apperrors.TicketAlreadyUsed(req.TicketID)
		}
		if getErr != nil {
			return getErr
		}
		if !st.IsValidFor(req.Service) {
			s.deleteQuietly(ctx, st.ID())
			return apperrors.InvalidService(st.ID(), req.Service.ID)
		}
		if st.Validated() && !s.cfg.MultiUseServiceTickets {
			return apperrors.TicketAlreadyUsed(st.ID())
		}
		valid, validErr := s.chainValid(ctx, st)
		if validErr != nil {
			return validErr
		}
		if !valid {
			s.deleteQuietly(ctx, st.ID())
			return apperrors.TicketExpired(st.ID())
		}
		st.Validate(s.cfg.Clock.Now())
		if updErr := s.registry.Update(ctx, st); updErr != nil {
			return updErr
		}
		validated = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err = s.assertion(ctx, validated)
	if err != nil {
		return nil, err
	}
	if req.ProxyCredential != nil {
		pgt, pgtErr := s.GrantProxyGrantingTicket(ctx, validated.ID(), req.ProxyCredential)
		if pgtErr != nil {
			s.logger.InfoContext(ctx, "proxy granting ticket not issued",
				"ticket_id", validated.ID(),
				"error", pgtErr,
			)
		} else {
			out.ProxyGrantingTicketID = pgt.ID()
		}
	}
	return out, nil
}

func (s *TicketService) assertion(ctx context.Context, st *ticket.ServiceTicket) (*Assertion, error) {
	owner, err := s.getGranting(ctx, st.GrantingTicketID())
	if err != nil {
		return nil, fmt.Errorf("load owner of %s: %w", st.ID(), err)
	}
	chain := owner.ChainedAuthentications()
	principal := chain[0].Principal()
	principal.Attributes = s.release(ctx, st.Service().ID, principal)

	proxies := make([]string, 0, len(chain)-1)
	for i := len(chain) - 1; i > 0; i-- {
		proxies = append(proxies, chain[i].Principal().ID)
	}
	return &Assertion{
		Principal:    principal,
		Chain:        chain,
		FromNewLogin: st.FromNewLogin(),
		Service:      st.Service(),
		Proxies:      proxies,
	}, nil
}

func (s *TicketService) release(ctx context.Context, serviceID string, p domainauth.Principal) map[string][]string {
	if s.services == nil {
		return map[string][]string{}
	}
	reg, err := s.services.FindService(ctx, serviceID)
	if err != nil || reg.ReleasePolicy == nil {
		return map[string][]string{}
	}
	return reg.ReleasePolicy.Release(p)
}

// GrantProxyGrantingTicket authenticates cred and issues a child granting ticket of
// the service ticket's owner. The registered service must allow proxying and each
// service ticket yields at most one proxy granting ticket.
func (s *TicketService) GrantProxyGrantingTicket(
	ctx context.Context,
	stID string,
	cred domainauth.Credential,
) (pgt *ticket.GrantingTicket, err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindGrantingTicket, metrics.TransitionProxy, start, err) }()

	st, err := s.getService(ctx, stID)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeProxy(ctx, st.Service().ID); err != nil {
		return nil, err
	}
	if s.auth == nil {
		return nil, apperrors.Internalf("no authenticator configured")
	}
	a, err := s.auth.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}

	err = s.retry(ctx, "grant_proxy_granting_ticket", stID, func(attempt int) error {
		if attempt > 0 {
			var getErr error
			if st, getErr = s.getService(ctx, stID); getErr != nil {
				return getErr
			}
		}
		now := s.cfg.Clock.Now()
		// A validated ticket has spent its use; it may still be exchanged once.
		if !st.Validated() && st.IsExpiredAt(now) {
			return apperrors.TicketExpired(stID)
		}
		owner, getErr := s.getGranting(ctx, st.GrantingTicketID())
		if apperrors.IsNotFound(getErr) {
			return apperrors.TicketExpired(stID)
		}
		if getErr != nil {
			return getErr
		}
		valid, validErr := s.chainValid(ctx, owner)
		if validErr != nil {
			return validErr
		}
		if !valid {
			return apperrors.TicketExpired(owner.ID())
		}
		child, grantErr := st.GrantProxyGrantingTicket(
			s.cfg.IDs.New(ticket.PrefixProxyGrantingTicket), owner, a, s.cfg.Policies.ProxyGrantingTicket, now)
		switch {
		case errors.Is(grantErr, ticket.ErrProxyAlreadyGranted):
			return apperrors.Conflictf("ticket %s already issued a proxy granting ticket", stID)
		case grantErr != nil:
			return apperrors.Wrap(grantErr, apperrors.ErrCodeInternal, "grant proxy granting ticket")
		}
		if writeErr := s.storeChild(ctx, child, st); writeErr != nil {
			return writeErr
		}
		pgt = child
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "proxy granting ticket granted",
		"ticket_id", pgt.ID(),
		"parent_id", pgt.ParentID(),
		"service_ticket_id", stID,
	)
	return pgt, nil
}

func (s *TicketService) authorizeProxy(ctx context.Context, serviceID string) error {
	if s.services == nil {
		return apperrors.ProxyNotAuthorized(serviceID)
	}
	reg, err := s.services.FindService(ctx, serviceID)
	if apperrors.IsNotFound(err) {
		return apperrors.ProxyNotAuthorized(serviceID)
	}
	if err != nil {
		return fmt.Errorf("find service %s: %w", serviceID, err)
	}
	if !reg.ProxyAllowed {
		return apperrors.ProxyNotAuthorized(serviceID)
	}
	return nil
}

// MarkExpired flags the granting ticket as expired. Its service tickets and proxy
// descendants become invalid through IsValid; none of them is rewritten.
func (s *TicketService) MarkExpired(ctx context.Context, tgtID string) (err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindGrantingTicket, metrics.TransitionExpire, start, err) }()

	return s.retry(ctx, "mark_expired", tgtID, func(int) error {
		tgt, getErr := s.getGranting(ctx, tgtID)
		if getErr != nil {
			return getErr
		}
		if tgt.Expired() {
			return nil
		}
		tgt.MarkExpired()
		return s.registry.Update(ctx, tgt)
	})
}

// DestroyGrantingTicket removes the granting ticket and the service tickets it issued,
// returning the services that held a ticket. Proxy descendants stay in the registry
// and fail validation because their ancestor is gone.
func (s *TicketService) DestroyGrantingTicket(ctx context.Context, tgtID string) (services []ticket.Service, err error) {
	start := time.Now()
	defer func() { s.emit(ticket.KindGrantingTicket, metrics.TransitionDestroy, start, err) }()

	tgt, err := s.getGranting(ctx, tgtID)
	if err != nil {
		return nil, err
	}
	for stID, svc := range tgt.Services() {
		if _, delErr := s.registry.Delete(ctx, stID); delErr != nil {
			return nil, fmt.Errorf("delete service ticket %s: %w", stID, delErr)
		}
		services = append(services, svc)
	}
	if _, err = s.registry.Delete(ctx, tgtID); err != nil {
		return nil, fmt.Errorf("delete granting ticket %s: %w", tgtID, err)
	}
	s.logger.InfoContext(ctx, "granting ticket destroyed",
		"ticket_id", tgtID,
		"service_tickets", len(services),
	)
	return services, nil
}

// storeChild adds child and then writes owner, which already records the grant.
// When the owner write fails the child is removed again, so neither ticket is left
// half granted.
func (s *TicketService) storeChild(ctx context.Context, child, owner ticket.Ticket) error {
	if err := s.registry.Add(ctx, child); err != nil {
		return fmt.Errorf("store ticket %s: %w", child.ID(), err)
	}
	if err := s.registry.Update(ctx, owner); err != nil {
		s.deleteQuietly(ctx, child.ID())
		return err
	}
	return nil
}

// IsValid reports whether t may still be used. The stored copy of t is read first,
// so a stale value never outlives an expiry written since; then its own policy and
// expired flag are checked, then every ancestor up to the root. A missing ticket or
// ancestor counts as expired. It never mutates anything.
func (s *TicketService) IsValid(ctx context.Context, t ticket.Ticket) (bool, error) {
	if ticket.IsNil(t) {
		return false, nil
	}
	current, err := s.registry.Get(ctx, t.ID())
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.chainValid(ctx, current)
}

// chainValid is IsValid for a ticket just read from the registry.
func (s *TicketService) chainValid(ctx context.Context, t ticket.Ticket) (bool, error) {
	if ticket.IsNil(t) {
		return false, nil
	}
	now := s.cfg.Clock.Now()
	if t.IsExpiredAt(now) {
		return false, nil
	}
	seen := map[string]struct{}{t.ID(): {}}
	parentID := t.GrantingTicketID()
	for depth := 0; parentID != ""; depth++ {
		if depth >= s.cfg.MaxChainDepth {
			return false, apperrors.Internalf("ticket %s: chain deeper than %d", t.ID(), s.cfg.MaxChainDepth)
		}
		if _, dup := seen[parentID]; dup {
			return false, apperrors.Internalf("ticket %s: cycle at %s", t.ID(), parentID)
		}
		seen[parentID] = struct{}{}

		parent, err := s.registry.Get(ctx, parentID)
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if parent.IsExpiredAt(now) {
			return false, nil
		}
		parentID = parent.GrantingTicketID()
	}
	return true, nil
}

// Root follows parent links from tgt to the root granting ticket.
func (s *TicketService) Root(ctx context.Context, tgt *ticket.GrantingTicket) (*ticket.GrantingTicket, error) {
	seen := map[string]struct{}{}
	cur := tgt
	for depth := 0; !cur.IsRoot(); depth++ {
		if depth >= s.cfg.MaxChainDepth {
			return nil, apperrors.Internalf("ticket %s: chain deeper than %d", tgt.ID(), s.cfg.MaxChainDepth)
		}
		if _, dup := seen[cur.ID()]; dup {
			return nil, apperrors.Internalf("ticket %s: cycle at %s", tgt.ID(), cur.ID())
		}
		seen[cur.ID()] = struct{}{}
		parent, err := s.getGranting(ctx, cur.ParentID())
		if err != nil {
			return nil, fmt.Errorf("resolve parent %s: %w", cur.ParentID(), err)
		}
		cur = parent
	}
	return cur, nil
}

func (s *TicketService) deleteQuietly(ctx context.Context, id string) {
	if _, err := s.registry.Delete(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "delete ticket failed",
			"ticket_id", id,
			"error", err,
		)
	}
}
