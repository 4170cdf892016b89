package ports

// Package ports defines interfaces (hexagonal ports) consumed by the ticket core.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
)

// TicketRegistry stores tickets keyed by id.
//
// Writes are serialized per id: Add and Update set the ticket's revision on success,
// and Update succeeds only if the stored revision still equals t.Revision(). A lost
// race surfaces as a concurrent_modification AppError so callers can re-read and retry.
// Backends that store bytes use a TicketCodec; native object stores may skip it.
type TicketRegistry interface {
	// Add stores a new ticket. It fails with a conflict error if the id is taken.
	Add(ctx context.Context, t ticket.Ticket) error
	// Get returns the ticket with the given id or a not_found error.
	Get(ctx context.Context, id string) (ticket.Ticket, error)
	// Update replaces a stored ticket, comparing revisions.
	Update(ctx context.Context, t ticket.Ticket) error
	// Delete removes a ticket and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// GetAll returns every stored ticket. Used by expiration sweeps.
	GetAll(ctx context.Context) ([]ticket.Ticket, error)
}

// TicketCodec converts tickets to and from bytes for byte-oriented registries.
type TicketCodec interface {
	Encode(t ticket.Ticket) ([]byte, error)
	Decode(data []byte) (ticket.Ticket, error)
}
