package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
)

type typeEntry struct {
	tag      string
	toRecord func(t ticket.Ticket) (any, error)
	decode   func(body []byte) (ticket.Ticket, error)
}

type policyEntry struct {
	kind   ticket.PolicyKind
	decode func(params []byte) (ticket.ExpirationPolicy, error)
}

// Registry maps ticket types to type tags and policy types to policy kinds.
// A Registry is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	byTag          map[string]*typeEntry
	byType         map[reflect.Type]*typeEntry
	policiesByKind map[ticket.PolicyKind]*policyEntry
	policiesByType map[reflect.Type]*policyEntry
}

// NewRegistry returns a Registry holding the built-in ticket types and policies.
func NewRegistry() *Registry {
	r := &Registry{
		byTag:          map[string]*typeEntry{},
		byType:         map[reflect.Type]*typeEntry{},
		policiesByKind: map[ticket.PolicyKind]*policyEntry{},
		policiesByType: map[reflect.Type]*policyEntry{},
	}
	mustRegister(Register(r, string(ticket.KindServiceTicket), r.encodeServiceTicket, r.decodeServiceTicket))
	mustRegister(Register(r, string(ticket.KindGrantingTicket), r.encodeGrantingTicket, r.decodeGrantingTicket))
	mustRegister(RegisterPolicy[ticket.NeverExpiresPolicy](r))
	mustRegister(RegisterPolicy[ticket.HardTimeoutPolicy](r))
	mustRegister(RegisterPolicy[ticket.TimeoutPolicy](r))
	mustRegister(RegisterPolicy[ticket.MultiTimeUseOrTimeoutPolicy](r))
	mustRegister(RegisterPolicy[ticket.GrantingTicketPolicy](r))
	mustRegister(RegisterPolicy[ticket.ThrottledUseAndTimeoutPolicy](r))
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic("codec: built-in registration failed: " + err.Error())
	}
}

// Register adds a codec for ticket type T under tag. toRecord converts a ticket
// to a CBOR-encodable record R and fromRecord converts it back; fromRecord must
// validate what it restores. Tags and types may be registered only once.
func Register[T ticket.Ticket, R any](r *Registry, tag string, toRecord func(T) (R, error), fromRecord func(R) (T, error)) error {
	if tag == "" {
		return fmt.Errorf("register %s: tag is required", reflect.TypeFor[T]())
	}
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Interface {
		return fmt.Errorf("register %q: %s is an interface type", tag, typ)
	}

	entry := &typeEntry{
		tag: tag,
		toRecord: func(t ticket.Ticket) (any, error) {
			return toRecord(t.(T))
		},
		decode: func(body []byte) (ticket.Ticket, error) {
			var rec R
			if err := decMode.Unmarshal(body, &rec); err != nil {
				return nil, err
			}
			return fromRecord(rec)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTag[tag]; ok {
		return fmt.Errorf("register %q: tag already registered", tag)
	}
	if _, ok := r.byType[typ]; ok {
		return fmt.Errorf("register %q: type %s already registered", tag, typ)
	}
	r.byTag[tag] = entry
	r.byType[typ] = entry
	return nil
}

// RegisterPolicy adds expiration policy type P, which must be a value type whose
// Kind works on the zero value. P is encoded field by field as CBOR.
func RegisterPolicy[P ticket.ExpirationPolicy](r *Registry) error {
	typ := reflect.TypeFor[P]()
	if typ.Kind() == reflect.Interface || typ.Kind() == reflect.Pointer {
		return fmt.Errorf("register policy %s: must be a value type", typ)
	}
	var zero P
	kind := zero.Kind()

	entry := &policyEntry{
		kind: kind,
		decode: func(params []byte) (ticket.ExpirationPolicy, error) {
			var p P
			if err := decMode.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policiesByKind[kind]; ok {
		return fmt.Errorf("register policy %q: kind already registered", kind)
	}
	r.policiesByKind[kind] = entry
	r.policiesByType[typ] = entry
	return nil
}

// EncodePolicy converts p to its wire record.
func (r *Registry) EncodePolicy(p ticket.ExpirationPolicy) (PolicyRecord, error) {
	if p == nil {
		return PolicyRecord{}, apperrors.UnknownType("policy <nil>")
	}
	r.mu.RLock()
	entry, ok := r.policiesByType[reflect.TypeOf(p)]
	r.mu.RUnlock()
	if !ok {
		return PolicyRecord{}, apperrors.UnknownType(fmt.Sprintf("policy %T", p))
	}
	params, err := encMode.Marshal(p)
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("encode policy %s: %w", entry.kind, err)
	}
	return PolicyRecord{Kind: string(entry.kind), Params: params}, nil
}

// DecodePolicy restores a policy from its wire record.
func (r *Registry) DecodePolicy(rec PolicyRecord) (ticket.ExpirationPolicy, error) {
	if rec.Kind == "" {
		return nil, errors.New("policy kind is missing")
	}
	r.mu.RLock()
	entry, ok := r.policiesByKind[ticket.PolicyKind(rec.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownType("policy " + rec.Kind)
	}
	p, err := entry.decode(rec.Params)
	if err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", rec.Kind, err)
	}
	return p, nil
}

func (r *Registry) lookupType(t ticket.Ticket) (*typeEntry, error) {
	r.mu.RLock()
	entry, ok := r.byType[reflect.TypeOf(t)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownType(fmt.Sprintf("%T", t))
	}
	return entry, nil
}

func (r *Registry) lookupTag(tag string) (*typeEntry, error) {
	r.mu.RLock()
	entry, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownType(tag)
	}
	return entry, nil
}
