// Package registrytest holds the behavioural suite every ticket registry must pass.
package registrytest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/testutil"
)

// Factory returns an empty registry. It is called once per subtest.
type Factory func(t *testing.T) ports.TicketRegistry

// Run exercises add, read, compare-and-set update, delete and enumeration.
func Run(t *testing.T, newRegistry Factory) {
	t.Helper()
	now := testutil.TestTime()

	t.Run("add and get", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		tgt := testutil.NewRootTicket(t, "TGT-1", now)

		require.NoError(t, reg.Add(ctx, tgt))
		assert.Equal(t, int64(1), tgt.Revision())

		got, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		assert.True(t, ticket.Equal(tgt, got))
		assert.Equal(t, int64(1), got.Revision())
	})

	t.Run("add duplicate", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", now)))

		err := reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", now))
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})

	t.Run("get missing", func(t *testing.T) {
		reg := newRegistry(t)
		_, err := reg.Get(context.Background(), "TGT-missing")
		assert.True(t, apperrors.IsNotFound(err), "got %v", err)
	})

	t.Run("update bumps revision", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		tgt := testutil.NewRootTicket(t, "TGT-1", now)
		require.NoError(t, reg.Add(ctx, tgt))

		_, err := tgt.GrantServiceTicket("ST-1", ticket.Service{ID: testutil.TestServiceURL}, testutil.DefaultServicePolicy(), false, now.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, reg.Update(ctx, tgt))
		assert.Equal(t, int64(2), tgt.Revision())

		got, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Revision())
		assert.Equal(t, 1, got.CountOfUses())
		assert.Contains(t, got.(*ticket.GrantingTicket).Services(), "ST-1")
	})

	t.Run("stale update", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", now)))

		first, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		second, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)

		first.(*ticket.GrantingTicket).MarkExpired()
		require.NoError(t, reg.Update(ctx, first))

		second.(*ticket.GrantingTicket).RemoveAllServices()
		err = reg.Update(ctx, second)
		assert.True(t, apperrors.IsConcurrentModification(err), "got %v", err)
		assert.Equal(t, int64(1), second.Revision())

		stored, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		assert.True(t, stored.(*ticket.GrantingTicket).Expired())
	})

	t.Run("update missing", func(t *testing.T) {
		reg := newRegistry(t)
		tgt := testutil.NewRootTicket(t, "TGT-1", now)
		err := reg.Update(context.Background(), tgt)
		assert.True(t, apperrors.IsNotFound(err), "got %v", err)
	})

	t.Run("reads are isolated", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		tgt := testutil.NewRootTicket(t, "TGT-1", now)
		require.NoError(t, reg.Add(ctx, tgt))
		tgt.MarkExpired()

		got, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		got.(*ticket.GrantingTicket).RemoveAllServices()
		assert.False(t, got.(*ticket.GrantingTicket).Expired(), "mutating the caller's copy leaked into the store")
	})

	t.Run("delete", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", now)))

		existed, err := reg.Delete(ctx, "TGT-1")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = reg.Delete(ctx, "TGT-1")
		require.NoError(t, err)
		assert.False(t, existed)

		_, err = reg.Get(ctx, "TGT-1")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("get all", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		chain := testutil.BuildProxyChain(t, 2, now)
		for _, tk := range chain.Tickets() {
			require.NoError(t, reg.Add(ctx, tk))
		}

		all, err := reg.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, len(chain.Tickets()))
		byID := map[string]ticket.Ticket{}
		for _, tk := range all {
			byID[tk.ID()] = tk
		}
		for _, want := range chain.Tickets() {
			got, ok := byID[want.ID()]
			require.True(t, ok, "missing %s", want.ID())
			assert.True(t, ticket.Equal(want, got), "ticket %s differs", want.ID())
		}
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", now)))

		const writers = 8
		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				for {
					cur, err := reg.Get(ctx, "TGT-1")
					if err != nil {
						return err
					}
					tgt := cur.(*ticket.GrantingTicket)
					svc := ticket.Service{ID: testutil.TestServiceURL}
					if _, err := tgt.GrantServiceTicket(fmt.Sprintf("ST-%d", i), svc, testutil.DefaultServicePolicy(), false, now); err != nil {
						return err
					}
					err = reg.Update(ctx, tgt)
					if apperrors.IsConcurrentModification(err) {
						continue
					}
					return err
				}
			})
		}
		require.NoError(t, g.Wait())

		got, err := reg.Get(ctx, "TGT-1")
		require.NoError(t, err)
		assert.Equal(t, writers, got.CountOfUses())
		assert.Len(t, got.(*ticket.GrantingTicket).Services(), writers)
		assert.Equal(t, int64(writers+1), got.Revision())
	})
}
