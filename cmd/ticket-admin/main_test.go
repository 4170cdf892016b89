package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sso-ticket-core/internal/codec"
	"github.com/target/sso-ticket-core/internal/data"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	"github.com/target/sso-ticket-core/internal/service"
	"github.com/target/sso-ticket-core/internal/testutil"
)

func newAdminFixture(t *testing.T, expireRoot bool) (*data.MemoryTicketRegistry, *service.TicketService) {
	t.Helper()
	now := testutil.TestTime()
	chain := testutil.BuildProxyChain(t, 1, now)
	if expireRoot {
		chain.Root.MarkExpired()
	}
	registry := data.NewMemoryTicketRegistry()
	for _, tk := range chain.Tickets() {
		require.NoError(t, registry.Add(context.Background(), tk))
	}
	tickets := service.NewTicketService(service.TicketServiceOptions{
		Deps:   service.TicketServiceDeps{Registry: registry},
		Config: service.TicketServiceConfig{Clock: data.NewFixedTimeProvider(now)},
	})
	return registry, tickets
}

func TestCollectRows(t *testing.T) {
	registry, tickets := newAdminFixture(t, false)

	rows, err := collectRows(context.Background(), registry, tickets, listOptions{Kind: string(ticket.KindGrantingTicket)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, ticket.KindGrantingTicket, r.Kind)
		assert.True(t, r.Valid)
	}

	rows, err = collectRows(context.Background(), registry, tickets, listOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCollectRows_InvalidOnly(t *testing.T) {
	registry, tickets := newAdminFixture(t, true)

	rows, err := collectRows(context.Background(), registry, tickets, listOptions{
		Kind:        string(ticket.KindGrantingTicket),
		InvalidOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2, "the proxy granting ticket is invalid through its expired root")
	assert.Equal(t, "PGT-1", rows[0].ID)
	assert.Equal(t, "TGT-1-root", rows[1].ID)
}

func TestRenderTicketTable(t *testing.T) {
	registry, tickets := newAdminFixture(t, false)
	rows, err := collectRows(context.Background(), registry, tickets, listOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderTicketTable(&buf, rows))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "TGT-1-root")
	assert.Contains(t, out, "PGT-1")
	assert.Contains(t, out, "3 tickets")
}

func TestBuildView(t *testing.T) {
	registry, tickets := newAdminFixture(t, false)
	transcoder, err := codec.New(codec.Options{})
	require.NoError(t, err)

	pgt, err := registry.Get(context.Background(), "PGT-1")
	require.NoError(t, err)

	view, err := buildView(context.Background(), tickets, transcoder, pgt)
	require.NoError(t, err)
	assert.Equal(t, "TGT-1-root", view.Parent)
	assert.Equal(t, testutil.TestUsername, view.Principal)
	assert.Equal(t, []string{testutil.TestUsername, testutil.TestCallbackURL}, view.Chain)
	assert.Positive(t, view.EncodedBytes)
	assert.True(t, view.Valid)
	require.NotNil(t, view.Deadline)

	var buf bytes.Buffer
	require.NoError(t, renderView(&buf, view))
	assert.Contains(t, buf.String(), "Proxied by:")
	assert.Contains(t, buf.String(), testutil.TestCallbackURL)
}

func TestRenderStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStats(&buf, service.RegistryStats{
		Total:   1200,
		ByKind:  map[ticket.Kind]int{ticket.KindGrantingTicket: 1000, ticket.KindServiceTicket: 200},
		Proxies: 3,
		Invalid: 7,
	}))
	assert.Contains(t, buf.String(), "1,200")
	assert.Contains(t, buf.String(), "1,000")
}

func TestRenderSweep(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSweep(&buf, service.SweepResult{
		Scanned: 10,
		Removed: 3,
		ByKind:  map[ticket.Kind]int{ticket.KindGrantingTicket: 1, ticket.KindServiceTicket: 2},
	}))
	assert.Contains(t, buf.String(), "scanned 10, removed 3 (1 granting, 2 service)")
}

func TestParseFlags(t *testing.T) {
	opts, err := parseListFlags([]string{"-k", "tgt", "--invalid-only", "-n", "5"})
	require.NoError(t, err)
	assert.Equal(t, listOptions{Kind: "TGT", InvalidOnly: true, Limit: 5}, opts)

	_, err = parseListFlags([]string{"--kind", "PT"})
	assert.Error(t, err)

	_, err = parseInspectFlags(nil)
	assert.Error(t, err)

	_, err = parseConfirmFlags("expire", []string{"TGT-1"})
	assert.Error(t, err, "confirmation is required")

	confirm, err := parseConfirmFlags("expire", []string{"TGT-1", "--yes"})
	require.NoError(t, err)
	assert.Equal(t, "TGT-1", confirm.ID)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	assert.Error(t, err)
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for name := range commands() {
		assert.Contains(t, buf.String(), name)
	}
}
