package codec

import (
	"fmt"
	"time"

	"github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
)

// Wire records use small integer keys; field numbers are part of the stored
// format and must not be reused.

type usageRecord struct {
	CreatedAt          int64 `cbor:"1,keyasint"`
	LastUsedAt         int64 `cbor:"2,keyasint"`
	PreviousLastUsedAt int64 `cbor:"3,keyasint,omitempty"`
	CountOfUses        int   `cbor:"4,keyasint,omitempty"`
}

type serviceRecord struct {
	ID          string `cbor:"1,keyasint"`
	OriginalURL string `cbor:"2,keyasint,omitempty"`
}

type credentialRecord struct {
	Type              string `cbor:"1,keyasint"`
	ID                string `cbor:"2,keyasint"`
	CallbackURL       string `cbor:"3,keyasint,omitempty"`
	RequestingService string `cbor:"4,keyasint,omitempty"`
}

type principalRecord struct {
	ID         string              `cbor:"1,keyasint"`
	Attributes map[string][]string `cbor:"2,keyasint,omitempty"`
}

type handlerResultRecord struct {
	HandlerName string           `cbor:"1,keyasint"`
	Credential  credentialRecord `cbor:"2,keyasint"`
	Principal   principalRecord  `cbor:"3,keyasint"`
	Warnings    []string         `cbor:"4,keyasint,omitempty"`
}

type failureRecord struct {
	Kind    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
}

// AuthenticationRecord is the wire form of an Authentication. Codecs registered
// for custom ticket types use it through EncodeAuthentication and DecodeAuthentication.
type AuthenticationRecord struct {
	Principal       principalRecord                `cbor:"1,keyasint"`
	AuthenticatedAt int64                          `cbor:"2,keyasint"`
	Credentials     []credentialRecord             `cbor:"3,keyasint,omitempty"`
	Attributes      map[string][]string            `cbor:"4,keyasint,omitempty"`
	Successes       map[string]handlerResultRecord `cbor:"5,keyasint,omitempty"`
	Failures        map[string]failureRecord       `cbor:"6,keyasint,omitempty"`
}

// PolicyRecord is the wire form of an ExpirationPolicy.
type PolicyRecord struct {
	Kind   string     `cbor:"1,keyasint"`
	Params RawMessage `cbor:"2,keyasint"`
}

type serviceTicketRecord struct {
	ID               string        `cbor:"1,keyasint"`
	Usage            usageRecord   `cbor:"2,keyasint"`
	Policy           PolicyRecord  `cbor:"3,keyasint"`
	GrantingTicketID string        `cbor:"4,keyasint"`
	Service          serviceRecord `cbor:"5,keyasint"`
	FromNewLogin     bool          `cbor:"6,keyasint,omitempty"`
	Validated        bool          `cbor:"7,keyasint,omitempty"`
	ProxyGranted     bool          `cbor:"8,keyasint,omitempty"`
}

type grantingTicketRecord struct {
	ID             string                   `cbor:"1,keyasint"`
	Usage          usageRecord              `cbor:"2,keyasint"`
	Policy         PolicyRecord             `cbor:"3,keyasint"`
	Authentication AuthenticationRecord     `cbor:"4,keyasint"`
	ParentID       string                   `cbor:"5,keyasint,omitempty"`
	Supplemental   []AuthenticationRecord   `cbor:"6,keyasint,omitempty"`
	Services       map[string]serviceRecord `cbor:"7,keyasint,omitempty"`
	Expired        bool                     `cbor:"8,keyasint,omitempty"`
}

// Times are stored as Unix nanoseconds; the zero time is stored as 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeUsage(u ticket.Usage) usageRecord {
	return usageRecord{
		CreatedAt:          unixNano(u.CreatedAt),
		LastUsedAt:         unixNano(u.LastUsedAt),
		PreviousLastUsedAt: unixNano(u.PreviousLastUsedAt),
		CountOfUses:        u.CountOfUses,
	}
}

func decodeUsage(r usageRecord) ticket.Usage {
	return ticket.Usage{
		CreatedAt:          fromUnixNano(r.CreatedAt),
		LastUsedAt:         fromUnixNano(r.LastUsedAt),
		PreviousLastUsedAt: fromUnixNano(r.PreviousLastUsedAt),
		CountOfUses:        r.CountOfUses,
	}
}

func encodeCredential(md auth.CredentialMetaData) credentialRecord {
	return credentialRecord{
		Type:              string(md.Type),
		ID:                md.ID,
		CallbackURL:       md.CallbackURL,
		RequestingService: md.RequestingService,
	}
}

func decodeCredential(r credentialRecord) auth.CredentialMetaData {
	return auth.CredentialMetaData{
		Type:              auth.CredentialType(r.Type),
		ID:                r.ID,
		CallbackURL:       r.CallbackURL,
		RequestingService: r.RequestingService,
	}
}

// EncodeAuthentication converts a onto its wire record.
func EncodeAuthentication(a *auth.Authentication) AuthenticationRecord {
	p := a.Principal()
	rec := AuthenticationRecord{
		Principal:       principalRecord{ID: p.ID, Attributes: p.Attributes},
		AuthenticatedAt: unixNano(a.AuthenticatedAt()),
		Attributes:      a.Attributes(),
	}
	for _, c := range a.Credentials() {
		rec.Credentials = append(rec.Credentials, encodeCredential(c))
	}
	if successes := a.Successes(); len(successes) > 0 {
		rec.Successes = make(map[string]handlerResultRecord, len(successes))
		for name, r := range successes {
			rec.Successes[name] = handlerResultRecord{
				HandlerName: r.HandlerName,
				Credential:  encodeCredential(r.Credential),
				Principal:   principalRecord{ID: r.Principal.ID, Attributes: r.Principal.Attributes},
				Warnings:    r.Warnings,
			}
		}
	}
	if failures := a.Failures(); len(failures) > 0 {
		rec.Failures = make(map[string]failureRecord, len(failures))
		for name, f := range failures {
			rec.Failures[name] = failureRecord{Kind: string(f.Kind), Message: f.Message}
		}
	}
	return rec
}

// DecodeAuthentication rebuilds and seals an Authentication from its wire record.
func DecodeAuthentication(rec AuthenticationRecord) (*auth.Authentication, error) {
	b := auth.NewBuilder().
		SetPrincipal(auth.Principal{ID: rec.Principal.ID, Attributes: rec.Principal.Attributes}).
		SetAuthenticationTime(fromUnixNano(rec.AuthenticatedAt))
	for _, c := range rec.Credentials {
		b.AddCredential(decodeCredential(c))
	}
	for name, values := range rec.Attributes {
		b.AddAttribute(name, values...)
	}
	for name, r := range rec.Successes {
		b.AddSuccess(name, auth.HandlerResult{
			HandlerName: r.HandlerName,
			Credential:  decodeCredential(r.Credential),
			Principal:   auth.Principal{ID: r.Principal.ID, Attributes: r.Principal.Attributes},
			Warnings:    r.Warnings,
		})
	}
	for name, f := range rec.Failures {
		b.AddFailure(name, auth.Failure{Kind: auth.FailureKind(f.Kind), Message: f.Message})
	}
	a, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("decode authentication: %w", err)
	}
	return a, nil
}

func (r *Registry) encodeServiceTicket(t *ticket.ServiceTicket) (serviceTicketRecord, error) {
	f := t.Fields()
	policy, err := r.EncodePolicy(f.Policy)
	if err != nil {
		return serviceTicketRecord{}, err
	}
	return serviceTicketRecord{
		ID:               f.ID,
		Usage:            encodeUsage(f.Usage),
		Policy:           policy,
		GrantingTicketID: f.GrantingTicketID,
		Service:          serviceRecord{ID: f.Service.ID, OriginalURL: f.Service.OriginalURL},
		FromNewLogin:     f.FromNewLogin,
		Validated:        f.Validated,
		ProxyGranted:     f.ProxyGranted,
	}, nil
}

func (r *Registry) decodeServiceTicket(rec serviceTicketRecord) (*ticket.ServiceTicket, error) {
	policy, err := r.DecodePolicy(rec.Policy)
	if err != nil {
		return nil, err
	}
	return ticket.RestoreServiceTicket(ticket.ServiceTicketFields{
		State:            ticket.State{ID: rec.ID, Usage: decodeUsage(rec.Usage), Policy: policy},
		GrantingTicketID: rec.GrantingTicketID,
		Service:          ticket.Service{ID: rec.Service.ID, OriginalURL: rec.Service.OriginalURL},
		FromNewLogin:     rec.FromNewLogin,
		Validated:        rec.Validated,
		ProxyGranted:     rec.ProxyGranted,
	})
}

func (r *Registry) encodeGrantingTicket(t *ticket.GrantingTicket) (grantingTicketRecord, error) {
	f := t.Fields()
	policy, err := r.EncodePolicy(f.Policy)
	if err != nil {
		return grantingTicketRecord{}, err
	}
	rec := grantingTicketRecord{
		ID:             f.ID,
		Usage:          encodeUsage(f.Usage),
		Policy:         policy,
		Authentication: EncodeAuthentication(f.Authentication),
		ParentID:       f.ParentID,
		Expired:        f.Expired,
	}
	for _, a := range f.Supplemental {
		rec.Supplemental = append(rec.Supplemental, EncodeAuthentication(a))
	}
	if len(f.Services) > 0 {
		rec.Services = make(map[string]serviceRecord, len(f.Services))
		for id, svc := range f.Services {
			rec.Services[id] = serviceRecord{ID: svc.ID, OriginalURL: svc.OriginalURL}
		}
	}
	return rec, nil
}

func (r *Registry) decodeGrantingTicket(rec grantingTicketRecord) (*ticket.GrantingTicket, error) {
	policy, err := r.DecodePolicy(rec.Policy)
	if err != nil {
		return nil, err
	}
	a, err := DecodeAuthentication(rec.Authentication)
	if err != nil {
		return nil, err
	}
	supplemental := make([]*auth.Authentication, 0, len(rec.Supplemental))
	for _, s := range rec.Supplemental {
		sa, err := DecodeAuthentication(s)
		if err != nil {
			return nil, err
		}
		supplemental = append(supplemental, sa)
	}
	services := make(map[string]ticket.Service, len(rec.Services))
	for id, svc := range rec.Services {
		services[id] = ticket.Service{ID: svc.ID, OriginalURL: svc.OriginalURL}
	}
	return ticket.RestoreGrantingTicket(ticket.GrantingTicketFields{
		State:          ticket.State{ID: rec.ID, Usage: decodeUsage(rec.Usage), Policy: policy},
		Authentication: a,
		ParentID:       rec.ParentID,
		Supplemental:   supplemental,
		Services:       services,
		Expired:        rec.Expired,
	})
}
