package data

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

var (
	_ ports.TicketRegistry = (*BoltTicketRegistry)(nil)

	ticketsBucket = []byte("tickets")
)

// revisionSize is the width of the big-endian revision prefix on every stored value.
const revisionSize = 8

// BoltRegistryOptions configures a BoltTicketRegistry.
type BoltRegistryOptions struct {
	Path     string
	Payloads *Payloads
	Timeout  time.Duration
	Logger   *slog.Logger
}

// BoltTicketRegistry keeps tickets in a single bbolt file for single-node deployments.
// bbolt serializes writers, so the revision check and the write in Update are atomic.
type BoltTicketRegistry struct {
	db       *bolt.DB
	payloads *Payloads
	logger   *slog.Logger
}

// OpenBoltTicketRegistry opens (creating if needed) the registry file at opts.Path.
func OpenBoltTicketRegistry(opts BoltRegistryOptions) (*BoltTicketRegistry, error) {
	if opts.Path == "" {
		return nil, errors.New("bolt path is required")
	}
	if opts.Payloads == nil {
		return nil, errors.New("payloads are required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt registry %s: %w", opts.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(ticketsBucket)
		return bErr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tickets bucket: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BoltTicketRegistry{
		db:       db,
		payloads: opts.Payloads,
		logger:   logger.With("component", "bolt_ticket_registry"),
	}, nil
}

// Close releases the file lock.
func (r *BoltTicketRegistry) Close() error { return r.db.Close() }

func encodeValue(rev int64, payload []byte) []byte {
	out := make([]byte, revisionSize, revisionSize+len(payload))
	binary.BigEndian.PutUint64(out, uint64(rev))
	return append(out, payload...)
}

func decodeRevision(v []byte) (int64, error) {
	if len(v) < revisionSize {
		return 0, apperrors.CorruptEncoding(errors.New("stored value shorter than revision prefix"))
	}
	return int64(binary.BigEndian.Uint64(v[:revisionSize])), nil
}

func (r *BoltTicketRegistry) decode(id string, v []byte) (ticket.Ticket, error) {
	rev, err := decodeRevision(v)
	if err != nil {
		return nil, err
	}
	return r.payloads.Unpack(id, rev, v[revisionSize:])
}

func (r *BoltTicketRegistry) Add(ctx context.Context, t ticket.Ticket) error {
	if err := ctx.Err(); err != nil {
		return apperrors.MapStoreError(err)
	}
	if ticket.IsNil(t) || t.ID() == "" {
		return apperrors.ValidationField("id", "ticket id is required")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}
	err = r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ticketsBucket)
		if b.Get([]byte(t.ID())) != nil {
			return apperrors.Conflictf("ticket %s already exists", t.ID())
		}
		return b.Put([]byte(t.ID()), encodeValue(1, payload))
	})
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(1)
	return nil
}

func (r *BoltTicketRegistry) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	var value []byte
	if err := r.db.View(func(tx *bolt.Tx) error {
		// values are only valid inside the transaction
		if v := tx.Bucket(ticketsBucket).Get([]byte(id)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	if value == nil {
		return nil, apperrors.NotFoundf("ticket %s not found", id)
	}
	return r.decode(id, value)
}

func (r *BoltTicketRegistry) Update(ctx context.Context, t ticket.Ticket) error {
	if err := ctx.Err(); err != nil {
		return apperrors.MapStoreError(err)
	}
	if ticket.IsNil(t) {
		return apperrors.Validation("cannot update a nil ticket")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}
	next := t.Revision() + 1
	err = r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ticketsBucket)
		v := b.Get([]byte(t.ID()))
		if v == nil {
			return apperrors.NotFoundf("ticket %s not found", t.ID())
		}
		current, revErr := decodeRevision(v)
		if revErr != nil {
			return revErr
		}
		if current != t.Revision() {
			return apperrors.ConcurrentModification(t.ID())
		}
		return b.Put([]byte(t.ID()), encodeValue(next, payload))
	})
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(next)
	return nil
}

func (r *BoltTicketRegistry) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.MapStoreError(err)
	}
	var existed bool
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ticketsBucket)
		existed = b.Get([]byte(id)) != nil
		return b.Delete([]byte(id))
	})
	if err != nil {
		return false, apperrors.MapStoreError(err)
	}
	return existed, nil
}

// GetAll returns every decodable ticket in key order.
func (r *BoltTicketRegistry) GetAll(ctx context.Context) ([]ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	var out []ticket.Ticket
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ticketsBucket).ForEach(func(k, v []byte) error {
			t, decErr := r.decode(string(k), v)
			if decErr != nil {
				r.logger.WarnContext(ctx, "skipping undecodable ticket",
					"ticket_id", string(k),
					"error", decErr,
				)
				return nil
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return out, nil
}
