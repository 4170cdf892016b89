package ticket

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/target/sso-ticket-core/internal/domain/auth"
)

// GrantingTicket is a login session, or one link of a proxy chain.
type GrantingTicket struct {
	state          State
	authentication *auth.Authentication
	parentID       string
	supplemental   []*auth.Authentication
	services       map[string]Service
	expired        bool
	revision       int64
}

// GrantingTicketFields is the persisted form of a GrantingTicket.
type GrantingTicketFields struct {
	State
	Authentication *auth.Authentication
	// ParentID is empty for a root ticket.
	ParentID string
	// Supplemental holds the authentications of every ancestor, root first.
	Supplemental []*auth.Authentication
	// Services maps issued service ticket ids to their service.
	Services map[string]Service
	Expired  bool
}

// NewGrantingTicket creates a root granting ticket for a completed login.
func NewGrantingTicket(id string, a *auth.Authentication, policy ExpirationPolicy, now time.Time) (*GrantingTicket, error) {
	return RestoreGrantingTicket(GrantingTicketFields{
		State:          State{ID: id, Usage: NewUsage(now), Policy: policy},
		Authentication: a,
	})
}

// RestoreGrantingTicket rebuilds a GrantingTicket from persisted fields.
func RestoreGrantingTicket(f GrantingTicketFields) (*GrantingTicket, error) {
	if err := f.State.validate(); err != nil {
		return nil, err
	}
	if f.Authentication == nil {
		return nil, errors.Join(ErrInvalidTicket, errors.New("authentication is required"))
	}
	if f.ParentID == f.ID {
		return nil, errors.Join(ErrInvalidTicket, errors.New("granting ticket cannot be its own parent"))
	}
	if slices.Contains(f.Supplemental, nil) {
		return nil, errors.Join(ErrInvalidTicket, errors.New("supplemental authentication is nil"))
	}
	services := maps.Clone(f.Services)
	if services == nil {
		services = map[string]Service{}
	}
	return &GrantingTicket{
		state:          f.State,
		authentication: f.Authentication,
		parentID:       f.ParentID,
		supplemental:   slices.Clone(f.Supplemental),
		services:       services,
		expired:        f.Expired,
	}, nil
}

// Fields returns the persisted form of t.
func (t *GrantingTicket) Fields() GrantingTicketFields {
	return GrantingTicketFields{
		State:          t.state,
		Authentication: t.authentication,
		ParentID:       t.parentID,
		Supplemental:   slices.Clone(t.supplemental),
		Services:       maps.Clone(t.services),
		Expired:        t.expired,
	}
}

func (t *GrantingTicket) ID() string                         { return t.state.ID }
func (t *GrantingTicket) Kind() Kind                         { return KindGrantingTicket }
func (t *GrantingTicket) CreatedAt() time.Time               { return t.state.CreatedAt }
func (t *GrantingTicket) LastUsedAt() time.Time              { return t.state.LastUsedAt }
func (t *GrantingTicket) PreviousLastUsedAt() time.Time      { return t.state.PreviousLastUsedAt }
func (t *GrantingTicket) CountOfUses() int                   { return t.state.CountOfUses }
func (t *GrantingTicket) ExpirationPolicy() ExpirationPolicy { return t.state.Policy }
func (t *GrantingTicket) GrantingTicketID() string           { return t.parentID }
func (t *GrantingTicket) Revision() int64                    { return t.revision }
func (t *GrantingTicket) SetRevision(rev int64)              { t.revision = rev }

// Authentication returns the authentication of this chain link.
func (t *GrantingTicket) Authentication() *auth.Authentication { return t.authentication }

// ParentID returns the parent granting ticket id, or "" for a root.
func (t *GrantingTicket) ParentID() string { return t.parentID }

// IsRoot reports whether t has no parent.
func (t *GrantingTicket) IsRoot() bool { return t.parentID == "" }

// Supplemental returns the ancestors' authentications, root first.
func (t *GrantingTicket) Supplemental() []*auth.Authentication { return slices.Clone(t.supplemental) }

// ChainedAuthentications returns every authentication in the chain ending at t, root first.
func (t *GrantingTicket) ChainedAuthentications() []*auth.Authentication {
	out := make([]*auth.Authentication, 0, len(t.supplemental)+1)
	out = append(out, t.supplemental...)
	return append(out, t.authentication)
}

// Services returns issued service ticket id → service.
func (t *GrantingTicket) Services() map[string]Service { return maps.Clone(t.services) }

// Expired reports whether t was explicitly marked expired.
func (t *GrantingTicket) Expired() bool { return t.expired }

// MarkExpired flags t as expired. Descendants are not touched; they observe the flag
// when their chain is validated.
func (t *GrantingTicket) MarkExpired() { t.expired = true }

// RemoveAllServices forgets every issued service ticket.
func (t *GrantingTicket) RemoveAllServices() { clear(t.services) }

// IsExpiredAt evaluates the expired flag and the ticket's policy.
func (t *GrantingTicket) IsExpiredAt(now time.Time) bool {
	return t.expired || t.state.Policy.IsExpired(t.state.Usage, now)
}

// GrantServiceTicket issues a service ticket for svc, counting one use of t and
// recording the ticket in the services map. It fails with ErrExpired, leaving t
// unchanged, if t is expired at now.
func (t *GrantingTicket) GrantServiceTicket(
	id string,
	svc Service,
	policy ExpirationPolicy,
	fromNewLogin bool,
	now time.Time,
) (*ServiceTicket, error) {
	if t.IsExpiredAt(now) {
		return nil, ErrExpired
	}
	st, err := RestoreServiceTicket(ServiceTicketFields{
		State:            State{ID: id, Usage: NewUsage(now), Policy: policy},
		GrantingTicketID: t.state.ID,
		Service:          svc,
		FromNewLogin:     fromNewLogin,
	})
	if err != nil {
		return nil, err
	}
	t.state.use(now)
	t.services[id] = svc
	return st, nil
}

// Clone returns a copy of t, revision included. Authentications are immutable and shared.
func (t *GrantingTicket) Clone() Ticket {
	c := *t
	c.supplemental = slices.Clone(t.supplemental)
	c.services = maps.Clone(t.services)
	return &c
}

// EqualTicket implements Equaler.
func (t *GrantingTicket) EqualTicket(other Ticket) bool {
	o, ok := other.(*GrantingTicket)
	if !ok || o == nil {
		return false
	}
	return t.state.equal(o.state) &&
		t.parentID == o.parentID &&
		t.expired == o.expired &&
		t.authentication.Equal(o.authentication) &&
		slices.EqualFunc(t.supplemental, o.supplemental, (*auth.Authentication).Equal) &&
		maps.Equal(t.services, o.services)
}
