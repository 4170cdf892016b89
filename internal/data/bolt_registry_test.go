package data_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/testutil"
	"github.com/target/sso-ticket-core/internal/testutil/registrytest"
)

func openBolt(t *testing.T, path string) *data.BoltTicketRegistry {
	t.Helper()
	payloads, err := data.NewPayloads(newTranscoder(t), newCipher(t))
	require.NoError(t, err)
	reg, err := data.OpenBoltTicketRegistry(data.BoltRegistryOptions{Path: path, Payloads: payloads})
	require.NoError(t, err)
	return reg
}

func TestBoltTicketRegistry(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) ports.TicketRegistry {
		reg := openBolt(t, filepath.Join(t.TempDir(), "tickets.db"))
		t.Cleanup(func() { _ = reg.Close() })
		return reg
	})
}

func TestBoltTicketRegistry_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	ctx := context.Background()
	chain := testutil.BuildProxyChain(t, 1, testutil.TestTime())

	reg := openBolt(t, path)
	for _, tk := range chain.Tickets() {
		require.NoError(t, reg.Add(ctx, tk))
	}
	require.NoError(t, reg.Close())

	reg = openBolt(t, path)
	defer reg.Close()
	all, err := reg.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBoltTicketRegistry_SkipsCorruptValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	ctx := context.Background()
	reg := openBolt(t, path)
	require.NoError(t, reg.Add(ctx, testutil.NewRootTicket(t, "TGT-1", testutil.TestTime())))
	require.NoError(t, reg.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("tickets"))
		if err := b.Put([]byte("TGT-short"), []byte{1}); err != nil {
			return err
		}
		return b.Put([]byte("TGT-junk"), append(make([]byte, 8), 0xff, 0xfe))
	}))
	require.NoError(t, db.Close())

	reg = openBolt(t, path)
	defer reg.Close()
	all, err := reg.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "TGT-1", all[0].ID())
}

func TestOpenBoltTicketRegistry_Validation(t *testing.T) {
	_, err := data.OpenBoltTicketRegistry(data.BoltRegistryOptions{})
	assert.Error(t, err)
	_, err = data.OpenBoltTicketRegistry(data.BoltRegistryOptions{Path: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}
