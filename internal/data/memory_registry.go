package data

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

var _ ports.TicketRegistry = (*MemoryTicketRegistry)(nil)

// MemoryTicketRegistry keeps tickets as native objects in process memory. It never
// touches a codec; isolation comes from cloning on every read and write.
type MemoryTicketRegistry struct {
	mu      sync.RWMutex
	tickets map[string]ticket.Ticket
}

// NewMemoryTicketRegistry creates an empty registry.
func NewMemoryTicketRegistry() *MemoryTicketRegistry {
	return &MemoryTicketRegistry{tickets: map[string]ticket.Ticket{}}
}

// Add stores a copy of t at revision 1.
func (r *MemoryTicketRegistry) Add(ctx context.Context, t ticket.Ticket) error {
	if err := ctx.Err(); err != nil {
		return apperrors.MapStoreError(err)
	}
	if ticket.IsNil(t) || t.ID() == "" {
		return apperrors.ValidationField("id", "ticket id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[t.ID()]; ok {
		return apperrors.Conflictf("ticket %s already exists", t.ID())
	}
	stored := t.Clone()
	stored.SetRevision(1)
	r.tickets[t.ID()] = stored
	t.SetRevision(1)
	return nil
}

// Get returns a copy of the stored ticket.
func (r *MemoryTicketRegistry) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NotFoundf("ticket %s not found", id)
	}
	return stored.Clone(), nil
}

// Update replaces the stored ticket if its revision still matches t's.
func (r *MemoryTicketRegistry) Update(ctx context.Context, t ticket.Ticket) error {
	if err := ctx.Err(); err != nil {
		return apperrors.MapStoreError(err)
	}
	if ticket.IsNil(t) {
		return apperrors.Validation("cannot update a nil ticket")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[t.ID()]
	if !ok {
		return apperrors.NotFoundf("ticket %s not found", t.ID())
	}
	if stored.Revision() != t.Revision() {
		return apperrors.ConcurrentModification(t.ID())
	}
	next := stored.Revision() + 1
	replacement := t.Clone()
	replacement.SetRevision(next)
	r.tickets[t.ID()] = replacement
	t.SetRevision(next)
	return nil
}

// Delete removes a ticket and reports whether it existed.
func (r *MemoryTicketRegistry) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.MapStoreError(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tickets[id]
	delete(r.tickets, id)
	return ok, nil
}

// GetAll returns copies of every ticket ordered by id.
func (r *MemoryTicketRegistry) GetAll(ctx context.Context) ([]ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	r.mu.RLock()
	out := make([]ticket.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b ticket.Ticket) int { return cmp.Compare(a.ID(), b.ID()) })
	return out, nil
}

// Len returns the number of stored tickets.
func (r *MemoryTicketRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}
