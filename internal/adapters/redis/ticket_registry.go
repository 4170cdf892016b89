// Package redis provides the Redis-backed ticket registry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

const (
	// DefaultKeyPrefix namespaces ticket keys.
	DefaultKeyPrefix = "sso:ticket:"
	// DefaultGrace is kept past a ticket's own deadline so sweeps still see it.
	DefaultGrace = 5 * time.Minute

	fieldRevision = "rev"
	fieldData     = "data"
	scanCount     = 500
)

var _ ports.TicketRegistry = (*TicketRegistry)(nil)

// TicketRegistryOptions configures a TicketRegistry.
type TicketRegistryOptions struct {
	Client   redis.UniversalClient
	Payloads *data.Payloads
	Prefix   string
	Grace    time.Duration
	Clock    data.TimeProvider
	Logger   *slog.Logger
}

// TicketRegistry stores each ticket as a hash {rev, data} under prefix+id.
// Updates WATCH the key, so a writer holding a stale revision loses the race
// with a concurrent_modification error.
type TicketRegistry struct {
	client   redis.UniversalClient
	payloads *data.Payloads
	prefix   string
	grace    time.Duration
	clock    data.TimeProvider
	logger   *slog.Logger
}

// NewTicketRegistry creates a Redis ticket registry.
func NewTicketRegistry(opts TicketRegistryOptions) (*TicketRegistry, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Payloads == nil {
		return nil, errors.New("payloads are required")
	}
	r := &TicketRegistry{
		client:   opts.Client,
		payloads: opts.Payloads,
		prefix:   opts.Prefix,
		grace:    opts.Grace,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if r.prefix == "" {
		r.prefix = DefaultKeyPrefix
	}
	if r.grace <= 0 {
		r.grace = DefaultGrace
	}
	if r.clock == nil {
		r.clock = &data.RealTimeProvider{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "redis_ticket_registry")
	return r, nil
}

func (r *TicketRegistry) key(id string) string { return r.prefix + id }

// ttl returns how long Redis should keep t. Zero means no expiry.
func (r *TicketRegistry) ttl(t ticket.Ticket) time.Duration {
	deadline := ticket.DeadlineOf(t)
	if deadline.IsZero() {
		return 0
	}
	remaining := deadline.Sub(r.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining + r.grace
}

func (r *TicketRegistry) write(ctx context.Context, pipe redis.Pipeliner, key string, rev int64, payload []byte, ttl time.Duration) {
	pipe.HSet(ctx, key, fieldRevision, rev, fieldData, payload)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	} else {
		pipe.Persist(ctx, key)
	}
}

func (r *TicketRegistry) Add(ctx context.Context, t ticket.Ticket) error {
	if ticket.IsNil(t) || t.ID() == "" {
		return apperrors.ValidationField("id", "ticket id is required")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}
	key := r.key(t.ID())
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, existsErr := tx.Exists(ctx, key).Result()
		if existsErr != nil {
			return existsErr
		}
		if n > 0 {
			return apperrors.Conflictf("ticket %s already exists", t.ID())
		}
		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, key, 1, payload, r.ttl(t))
			return nil
		})
		return pipeErr
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return apperrors.Conflictf("ticket %s already exists", t.ID())
	}
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(1)
	return nil
}

func (r *TicketRegistry) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	vals, err := r.client.HMGet(ctx, r.key(id), fieldRevision, fieldData).Result()
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return r.unpack(id, vals)
}

func (r *TicketRegistry) unpack(id string, vals []any) (ticket.Ticket, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, apperrors.NotFoundf("ticket %s not found", id)
	}
	revStr, ok1 := vals[0].(string)
	payload, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("unexpected hash field types for %s", id))
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("parse revision of %s: %w", id, err))
	}
	return r.payloads.Unpack(id, rev, []byte(payload))
}

func (r *TicketRegistry) Update(ctx context.Context, t ticket.Ticket) error {
	if ticket.IsNil(t) {
		return apperrors.Validation("cannot update a nil ticket")
	}
	payload, err := r.payloads.Pack(t)
	if err != nil {
		return err
	}
	key := r.key(t.ID())
	next := t.Revision() + 1
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, getErr := tx.HGet(ctx, key, fieldRevision).Int64()
		if errors.Is(getErr, redis.Nil) {
			return apperrors.NotFoundf("ticket %s not found", t.ID())
		}
		if getErr != nil {
			return getErr
		}
		if current != t.Revision() {
			return apperrors.ConcurrentModification(t.ID())
		}
		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, key, next, payload, r.ttl(t))
			return nil
		})
		return pipeErr
	}, key)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	t.SetRevision(next)
	return nil
}

func (r *TicketRegistry) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return false, apperrors.MapStoreError(err)
	}
	return n > 0, nil
}

// GetAll scans every ticket key. Entries that vanish mid-scan are ignored and
// entries that cannot be decoded are logged and skipped.
func (r *TicketRegistry) GetAll(ctx context.Context) ([]ticket.Ticket, error) {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	out := make([]ticket.Ticket, 0, len(keys))
	for _, key := range keys {
		id := key[len(r.prefix):]
		vals, getErr := r.client.HMGet(ctx, key, fieldRevision, fieldData).Result()
		if getErr != nil {
			return nil, apperrors.MapStoreError(getErr)
		}
		t, decErr := r.unpack(id, vals)
		switch {
		case apperrors.IsNotFound(decErr):
			continue
		case decErr != nil:
			r.logger.WarnContext(ctx, "skipping undecodable ticket",
				"ticket_id", id,
				"error", decErr,
			)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *TicketRegistry) scanKeys(ctx context.Context) ([]string, error) {
	match := r.prefix + "*"
	if cc, ok := r.client.(*redis.ClusterClient); ok {
		var (
			keys []string
			mu   sync.Mutex
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			nodeKeys, err := scanNode(ctx, node, match)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, nodeKeys...)
			mu.Unlock()
			return nil
		})
		return keys, err
	}
	return scanNode(ctx, r.client, match)
}

func scanNode(ctx context.Context, c redis.Cmdable, match string) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan ticket keys: %w", err)
	}
	return keys, nil
}
