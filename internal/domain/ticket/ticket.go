// Package ticket models granting and service tickets and the policies that expire them.
// Tickets reference each other by id only; resolving a parent or owner is the
// registry's job, so a ticket can always be flattened to bytes on its own.
package ticket

import (
	"errors"
	"reflect"
	"time"
)

// Kind tags a ticket variant.
type Kind string

const (
	KindServiceTicket  Kind = "ST"
	KindGrantingTicket Kind = "TGT"
)

var (
	// ErrExpired is returned when a mutation is attempted on an expired ticket.
	ErrExpired = errors.New("ticket is expired")
	// ErrProxyAlreadyGranted is returned when a service ticket is used for a second proxy grant.
	ErrProxyAlreadyGranted = errors.New("proxy granting ticket already issued")
	// ErrOwnerMismatch is returned when a proxy grant names a parent that does not own the service ticket.
	ErrOwnerMismatch = errors.New("granting ticket does not own service ticket")
	// ErrInvalidTicket is returned when restoring a ticket from incomplete fields.
	ErrInvalidTicket = errors.New("invalid ticket")
)

// Ticket is the behaviour shared by every ticket variant.
type Ticket interface {
	ID() string
	Kind() Kind
	CreatedAt() time.Time
	LastUsedAt() time.Time
	PreviousLastUsedAt() time.Time
	CountOfUses() int
	ExpirationPolicy() ExpirationPolicy
	// IsExpiredAt evaluates the ticket's own policy and flags. Ancestors are not consulted.
	IsExpiredAt(now time.Time) bool
	// GrantingTicketID is the owner of a service ticket or the parent of a proxy granting
	// ticket. It is empty for a root granting ticket.
	GrantingTicketID() string
	// Revision is assigned by the registry on every successful write. It is not part of
	// the ticket's identity and is never encoded.
	Revision() int64
	SetRevision(rev int64)
	Clone() Ticket
}

// Usage is the timing and usage state an ExpirationPolicy is evaluated against.
type Usage struct {
	CreatedAt          time.Time
	LastUsedAt         time.Time
	PreviousLastUsedAt time.Time
	CountOfUses        int
}

// NewUsage returns the usage state of a ticket created at now.
func NewUsage(now time.Time) Usage {
	return Usage{CreatedAt: now, LastUsedAt: now}
}

func (u *Usage) use(now time.Time) {
	u.PreviousLastUsedAt = u.LastUsedAt
	u.LastUsedAt = now
	u.CountOfUses++
}

func (u Usage) equal(o Usage) bool {
	return u.CreatedAt.Equal(o.CreatedAt) &&
		u.LastUsedAt.Equal(o.LastUsedAt) &&
		u.PreviousLastUsedAt.Equal(o.PreviousLastUsedAt) &&
		u.CountOfUses == o.CountOfUses
}

// State is the persisted state common to every ticket.
type State struct {
	ID string
	Usage
	Policy ExpirationPolicy
}

func (s State) validate() error {
	switch {
	case s.ID == "":
		return errors.Join(ErrInvalidTicket, errors.New("id is required"))
	case s.Policy == nil:
		return errors.Join(ErrInvalidTicket, errors.New("expiration policy is required"))
	case s.CountOfUses < 0:
		return errors.Join(ErrInvalidTicket, errors.New("count of uses must be >= 0"))
	case s.CreatedAt.IsZero():
		return errors.Join(ErrInvalidTicket, errors.New("creation time is required"))
	}
	return nil
}

func (s State) equal(o State) bool {
	return s.ID == o.ID && s.Usage.equal(o.Usage) && reflect.DeepEqual(s.Policy, o.Policy)
}

// Service identifies the application a service ticket was issued for.
type Service struct {
	ID          string `json:"id"`
	OriginalURL string `json:"original_url,omitempty"`
}

// Matches reports whether o names the same service.
func (s Service) Matches(o Service) bool { return s.ID == o.ID }

// Equaler is implemented by tickets that define their own equality.
// Ticket types registered by a deployment should implement it.
type Equaler interface {
	EqualTicket(other Ticket) bool
}

// Equal reports whether a and b are the same ticket in the same state.
// Registry revisions are ignored.
func Equal(a, b Ticket) bool {
	if IsNil(a) || IsNil(b) {
		return IsNil(a) && IsNil(b)
	}
	if e, ok := a.(Equaler); ok {
		return e.EqualTicket(b)
	}
	return a.Kind() == b.Kind() &&
		a.GrantingTicketID() == b.GrantingTicketID() &&
		stateOf(a).equal(stateOf(b))
}

func stateOf(t Ticket) State {
	return State{
		ID: t.ID(),
		Usage: Usage{
			CreatedAt:          t.CreatedAt(),
			LastUsedAt:         t.LastUsedAt(),
			PreviousLastUsedAt: t.PreviousLastUsedAt(),
			CountOfUses:        t.CountOfUses(),
		},
		Policy: t.ExpirationPolicy(),
	}
}

// UsageOf returns the usage state of t.
func UsageOf(t Ticket) Usage { return stateOf(t).Usage }

// DeadlineOf returns the latest instant t could still be valid under its own
// policy, or the zero time if the policy never expires it.
func DeadlineOf(t Ticket) time.Time { return t.ExpirationPolicy().Deadline(UsageOf(t)) }

// IsNil reports whether t is nil or a nil pointer of a concrete ticket type.
func IsNil(t Ticket) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
