package ticket

import (
	"errors"
	"time"

	"github.com/target/sso-ticket-core/internal/domain/auth"
)

// ServiceTicket grants one application access on behalf of a granting ticket.
// It is created only by GrantingTicket.GrantServiceTicket.
type ServiceTicket struct {
	state            State
	grantingTicketID string
	service          Service
	fromNewLogin     bool
	validated        bool
	proxyGranted     bool
	revision         int64
}

// ServiceTicketFields is the persisted form of a ServiceTicket.
type ServiceTicketFields struct {
	State
	GrantingTicketID string
	Service          Service
	FromNewLogin     bool
	Validated        bool
	ProxyGranted     bool
}

// RestoreServiceTicket rebuilds a ServiceTicket from persisted fields.
func RestoreServiceTicket(f ServiceTicketFields) (*ServiceTicket, error) {
	if err := f.State.validate(); err != nil {
		return nil, err
	}
	if f.GrantingTicketID == "" {
		return nil, errors.Join(ErrInvalidTicket, errors.New("service ticket requires a granting ticket"))
	}
	if f.Service.ID == "" {
		return nil, errors.Join(ErrInvalidTicket, errors.New("service id is required"))
	}
	return &ServiceTicket{
		state:            f.State,
		grantingTicketID: f.GrantingTicketID,
		service:          f.Service,
		fromNewLogin:     f.FromNewLogin,
		validated:        f.Validated,
		proxyGranted:     f.ProxyGranted,
	}, nil
}

// Fields returns the persisted form of t.
func (t *ServiceTicket) Fields() ServiceTicketFields {
	return ServiceTicketFields{
		State:            t.state,
		GrantingTicketID: t.grantingTicketID,
		Service:          t.service,
		FromNewLogin:     t.fromNewLogin,
		Validated:        t.validated,
		ProxyGranted:     t.proxyGranted,
	}
}

func (t *ServiceTicket) ID() string                         { return t.state.ID }
func (t *ServiceTicket) Kind() Kind                         { return KindServiceTicket }
func (t *ServiceTicket) CreatedAt() time.Time               { return t.state.CreatedAt }
func (t *ServiceTicket) LastUsedAt() time.Time              { return t.state.LastUsedAt }
func (t *ServiceTicket) PreviousLastUsedAt() time.Time      { return t.state.PreviousLastUsedAt }
func (t *ServiceTicket) CountOfUses() int                   { return t.state.CountOfUses }
func (t *ServiceTicket) ExpirationPolicy() ExpirationPolicy { return t.state.Policy }
func (t *ServiceTicket) GrantingTicketID() string           { return t.grantingTicketID }
func (t *ServiceTicket) Revision() int64                    { return t.revision }
func (t *ServiceTicket) SetRevision(rev int64)              { t.revision = rev }

// Service returns the application the ticket was issued for.
func (t *ServiceTicket) Service() Service { return t.service }

// FromNewLogin reports whether the ticket was issued right after an interactive login.
func (t *ServiceTicket) FromNewLogin() bool { return t.fromNewLogin }

// Validated reports whether the ticket has been validated at least once.
func (t *ServiceTicket) Validated() bool { return t.validated }

// ProxyGranted reports whether a proxy granting ticket was issued from this ticket.
func (t *ServiceTicket) ProxyGranted() bool { return t.proxyGranted }

// IsExpiredAt evaluates the ticket's policy. The owner's state is not consulted.
func (t *ServiceTicket) IsExpiredAt(now time.Time) bool {
	return t.state.Policy.IsExpired(t.state.Usage, now)
}

// IsValidFor reports whether the ticket was issued for svc.
func (t *ServiceTicket) IsValidFor(svc Service) bool { return t.service.Matches(svc) }

// Validate records a validation. Rejecting repeated validation is up to the caller.
func (t *ServiceTicket) Validate(now time.Time) {
	t.state.use(now)
	t.validated = true
}

// GrantProxyGrantingTicket creates a child granting ticket of parent, which must own t.
// The child inherits parent's authentication chain as its supplemental authentications.
// parent is only read.
func (t *ServiceTicket) GrantProxyGrantingTicket(
	id string,
	parent *GrantingTicket,
	a *auth.Authentication,
	policy ExpirationPolicy,
	now time.Time,
) (*GrantingTicket, error) {
	if t.proxyGranted {
		return nil, ErrProxyAlreadyGranted
	}
	if parent == nil || parent.ID() != t.grantingTicketID {
		return nil, ErrOwnerMismatch
	}
	child, err := RestoreGrantingTicket(GrantingTicketFields{
		State:          State{ID: id, Usage: NewUsage(now), Policy: policy},
		Authentication: a,
		ParentID:       parent.ID(),
		Supplemental:   parent.ChainedAuthentications(),
	})
	if err != nil {
		return nil, err
	}
	t.proxyGranted = true
	return child, nil
}

// Clone returns a copy of t, revision included.
func (t *ServiceTicket) Clone() Ticket {
	c := *t
	return &c
}

// EqualTicket implements Equaler.
func (t *ServiceTicket) EqualTicket(other Ticket) bool {
	o, ok := other.(*ServiceTicket)
	if !ok || o == nil {
		return false
	}
	return t.state.equal(o.state) &&
		t.grantingTicketID == o.grantingTicketID &&
		t.service == o.service &&
		t.fromNewLogin == o.fromNewLogin &&
		t.validated == o.validated &&
		t.proxyGranted == o.proxyGranted
}
