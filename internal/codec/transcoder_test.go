package codec

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/target/sso-ticket-core/internal/domain/auth"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/testutil"
)

func newTestTranscoder(t *testing.T, opts Options) *Transcoder {
	t.Helper()
	tc, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(tc.Close)
	return tc
}

func roundTrip(t *testing.T, tc *Transcoder, tk ticket.Ticket) ticket.Ticket {
	t.Helper()
	data, err := tc.Encode(tk)
	require.NoError(t, err)
	out, err := tc.Decode(data)
	require.NoError(t, err)
	require.True(t, ticket.Equal(tk, out), "decoded %s differs from original", tk.ID())
	return out
}

// bigAuthentication returns an authentication whose encoding is roughly n bytes
// of highly repetitive attribute data.
func bigAuthentication(t *testing.T, now time.Time, n int) *auth.Authentication {
	t.Helper()
	b := testutil.NewAuthentication(testutil.TestUsername, now)
	for i := 0; i < n/64; i++ {
		b.WithAttribute(fmt.Sprintf("group-%04d", i), strings.Repeat("member", 8))
	}
	return b.Build(t)
}

func TestTranscoder_RoundTrip(t *testing.T) {
	now := testutil.TestTime()
	tc := newTestTranscoder(t, Options{})

	t.Run("root granting ticket", func(t *testing.T) {
		tgt := testutil.NewRootTicket(t, "TGT-1", now)
		out := roundTrip(t, tc, tgt)
		got := out.(*ticket.GrantingTicket)
		assert.True(t, got.IsRoot())
		assert.Equal(t, []string{"bob"}, got.Authentication().Attributes()["nickname"])
		assert.Equal(t, testutil.TestUsername, got.Authentication().Principal().ID)
	})

	t.Run("service ticket", func(t *testing.T) {
		tgt := testutil.NewRootTicket(t, "TGT-1", now)
		svc := ticket.Service{ID: testutil.TestServiceURL}
		st, err := tgt.GrantServiceTicket("ST-1", svc, testutil.DefaultServicePolicy(), true, now)
		require.NoError(t, err)
		st.Validate(now.Add(time.Second))

		out := roundTrip(t, tc, st).(*ticket.ServiceTicket)
		assert.Equal(t, "TGT-1", out.GrantingTicketID())
		assert.True(t, out.FromNewLogin())
		assert.True(t, out.Validated())
		assert.Equal(t, 1, out.CountOfUses())
		assert.True(t, now.Equal(out.PreviousLastUsedAt()))
	})

	t.Run("proxy chain of depth two", func(t *testing.T) {
		chain := testutil.BuildProxyChain(t, 2, now)
		for _, tk := range chain.Tickets() {
			roundTrip(t, tc, tk)
		}

		out := roundTrip(t, tc, chain.Leaf()).(*ticket.GrantingTicket)
		chained := out.ChainedAuthentications()
		require.Len(t, chained, 3)
		assert.Equal(t, testutil.TestUsername, chained[0].Principal().ID)
		creds := chained[2].Credentials()
		require.Len(t, creds, 2)
		assert.Equal(t, testutil.TestCallbackURL, creds[1].CallbackURL)
		assert.Equal(t, testutil.TestServiceURL, creds[1].RequestingService)
	})

	t.Run("expired granting ticket with failures", func(t *testing.T) {
		a := testutil.NewAuthentication(testutil.TestUsername, now).
			WithFailure("ldap", auth.FailureHandlerUnavailable).
			Build(t)
		tgt, err := ticket.NewGrantingTicket("TGT-2", a, ticket.NeverExpiresPolicy{}, now)
		require.NoError(t, err)
		tgt.MarkExpired()

		out := roundTrip(t, tc, tgt).(*ticket.GrantingTicket)
		assert.True(t, out.Expired())
		assert.Equal(t, auth.FailureHandlerUnavailable, out.Authentication().Failures()["ldap"].Kind)
	})

	t.Run("bob session", func(t *testing.T) {
		tgt := testutil.NewRootTicket(t, "TGT-bob", now)
		_, err := tgt.GrantServiceTicket("ST-1", ticket.Service{ID: "https://app.example"}, testutil.DefaultServicePolicy(), false, now)
		require.NoError(t, err)

		out := roundTrip(t, tc, tgt).(*ticket.GrantingTicket)
		assert.Equal(t, 1, out.CountOfUses())
		assert.Equal(t, map[string]ticket.Service{"ST-1": {ID: "https://app.example"}}, out.Services())
	})
}

func TestTranscoder_RoundTripEveryPolicy(t *testing.T) {
	now := testutil.TestTime()
	tc := newTestTranscoder(t, Options{})
	policies := []ticket.ExpirationPolicy{
		ticket.NeverExpiresPolicy{},
		ticket.HardTimeoutPolicy{TTL: time.Minute},
		ticket.TimeoutPolicy{Idle: 30 * time.Second},
		ticket.MultiTimeUseOrTimeoutPolicy{Uses: 3, TTL: 10 * time.Second},
		ticket.GrantingTicketPolicy{Lifetime: 8 * time.Hour, Idle: 2 * time.Hour},
		ticket.ThrottledUseAndTimeoutPolicy{Idle: time.Hour, Throttle: 5 * time.Second},
	}
	for _, p := range policies {
		t.Run(string(p.Kind()), func(t *testing.T) {
			tgt, err := ticket.NewGrantingTicket("TGT-"+string(p.Kind()), testutil.BobAuthentication(t, now), p, now)
			require.NoError(t, err)
			out := roundTrip(t, tc, tgt)
			assert.Equal(t, p, out.ExpirationPolicy())
		})
	}
}

func TestTranscoder_BufferSizes(t *testing.T) {
	now := testutil.TestTime()
	chain := testutil.BuildProxyChain(t, 2, now)

	var reference []byte
	for _, size := range []int{10, 1024, 1 << 20} {
		t.Run(fmt.Sprintf("initial=%d", size), func(t *testing.T) {
			tc := newTestTranscoder(t, Options{InitialBufferSize: size})
			data, err := tc.Encode(chain.Leaf())
			require.NoError(t, err)
			if reference == nil {
				reference = data
			}
			assert.Equal(t, reference, data, "buffer size must not change the encoding")

			out, err := tc.Decode(data)
			require.NoError(t, err)
			assert.True(t, ticket.Equal(chain.Leaf(), out))
		})
	}
}

func TestTranscoder_Deterministic(t *testing.T) {
	now := testutil.TestTime()
	tc := newTestTranscoder(t, Options{})
	tgt := testutil.NewRootTicket(t, "TGT-1", now)
	for i := 0; i < 5; i++ {
		_, err := tgt.GrantServiceTicket(fmt.Sprintf("ST-%d", i), ticket.Service{ID: testutil.TestServiceURL}, testutil.DefaultServicePolicy(), false, now)
		require.NoError(t, err)
	}

	first, err := tc.Encode(tgt)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := tc.Encode(tgt.Clone())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestTranscoder_RevisionIsNotEncoded(t *testing.T) {
	tc := newTestTranscoder(t, Options{})
	tgt := testutil.NewRootTicket(t, "TGT-1", testutil.TestTime())
	before, err := tc.Encode(tgt)
	require.NoError(t, err)

	tgt.SetRevision(42)
	after, err := tc.Encode(tgt)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	out, err := tc.Decode(after)
	require.NoError(t, err)
	assert.Zero(t, out.Revision())
}

func TestTranscoder_Compression(t *testing.T) {
	now := testutil.TestTime()
	tgt, err := ticket.NewGrantingTicket("TGT-big", bigAuthentication(t, now, 8<<10), testutil.DefaultGrantingPolicy(), now)
	require.NoError(t, err)

	plain := newTestTranscoder(t, Options{})
	raw, err := plain.Encode(tgt)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), raw[3])

	for _, alg := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(alg.String(), func(t *testing.T) {
			tc := newTestTranscoder(t, Options{Compression: alg})
			data, err := tc.Encode(tgt)
			require.NoError(t, err)
			assert.Equal(t, byte(alg), data[3])
			assert.Less(t, len(data), len(raw))

			out, err := tc.Decode(data)
			require.NoError(t, err)
			assert.True(t, ticket.Equal(tgt, out))

			// Any transcoder reads any algorithm; the frame says which one.
			out, err = plain.Decode(data)
			require.NoError(t, err)
			assert.True(t, ticket.Equal(tgt, out))
		})
	}
}

func TestTranscoder_CompressionThreshold(t *testing.T) {
	tc := newTestTranscoder(t, Options{Compression: CompressionZstd, CompressionThreshold: 1 << 16})
	tgt := testutil.NewRootTicket(t, "TGT-1", testutil.TestTime())
	data, err := tc.Encode(tgt)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), data[3])
}

func TestTranscoder_DigestKey(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	other := bytes.Repeat([]byte{9}, 32)
	tgt := testutil.NewRootTicket(t, "TGT-1", testutil.TestTime())

	keyed := newTestTranscoder(t, Options{DigestKey: key})
	data, err := keyed.Encode(tgt)
	require.NoError(t, err)

	out, err := keyed.Decode(data)
	require.NoError(t, err)
	assert.True(t, ticket.Equal(tgt, out))

	_, err = newTestTranscoder(t, Options{DigestKey: other}).Decode(data)
	assert.True(t, apperrors.IsCorruptEncoding(err), "got %v", err)

	_, err = newTestTranscoder(t, Options{}).Decode(data)
	assert.True(t, apperrors.IsCorruptEncoding(err), "got %v", err)
}

func TestTranscoder_CorruptInput(t *testing.T) {
	tc := newTestTranscoder(t, Options{})
	data, err := tc.Encode(testutil.BuildProxyChain(t, 1, testutil.TestTime()).Leaf())
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		for _, in := range [][]byte{nil, {}} {
			_, err := tc.Decode(in)
			assert.True(t, apperrors.IsCorruptEncoding(err))
		}
	})

	t.Run("every truncation", func(t *testing.T) {
		for n := 0; n < len(data); n++ {
			out, err := tc.Decode(data[:n])
			require.Nil(t, out)
			require.True(t, apperrors.IsCorruptEncoding(err), "truncated to %d: %v", n, err)
		}
	})

	t.Run("every bit flip", func(t *testing.T) {
		for i := range data {
			for bit := 0; bit < 8; bit++ {
				flipped := bytes.Clone(data)
				flipped[i] ^= 1 << bit
				out, err := tc.Decode(flipped)
				require.Nil(t, out)
				require.True(t, apperrors.IsCorruptEncoding(err), "byte %d bit %d: %v", i, bit, err)
			}
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := tc.Decode(append(bytes.Clone(data), 0))
		assert.True(t, apperrors.IsCorruptEncoding(err))
	})

	t.Run("valid frame around garbage", func(t *testing.T) {
		frame, err := tc.frame([]byte{0xff, 0x00, 0x13, 0x37})
		require.NoError(t, err)
		_, err = tc.Decode(frame)
		assert.True(t, apperrors.IsCorruptEncoding(err))
	})

	t.Run("valid envelope around invalid ticket", func(t *testing.T) {
		payload, err := Marshal(envelope{Tag: string(ticket.KindServiceTicket), Body: map[int]any{1: ""}})
		require.NoError(t, err)
		frame, err := tc.frame(payload)
		require.NoError(t, err)
		_, err = tc.Decode(frame)
		assert.True(t, apperrors.IsCorruptEncoding(err))
	})
}

func TestTranscoder_UnknownTag(t *testing.T) {
	tc := newTestTranscoder(t, Options{})
	payload, err := Marshal(envelope{Tag: "XYZ", Body: map[int]any{1: "x"}})
	require.NoError(t, err)
	frame, err := tc.frame(payload)
	require.NoError(t, err)

	out, err := tc.Decode(frame)
	assert.Nil(t, out)
	assert.True(t, apperrors.IsUnknownType(err), "got %v", err)
}

func TestTranscoder_UnknownPolicy(t *testing.T) {
	tc := newTestTranscoder(t, Options{})
	tgt, err := ticket.NewGrantingTicket("TGT-1", testutil.BobAuthentication(t, testutil.TestTime()), slidingPolicy{}, testutil.TestTime())
	require.NoError(t, err)

	_, err = tc.Encode(tgt)
	assert.True(t, apperrors.IsUnknownType(err), "got %v", err)

	require.NoError(t, RegisterPolicy[slidingPolicy](tc.Registry()))
	roundTrip(t, tc, tgt)

	data, err := tc.Encode(tgt)
	require.NoError(t, err)
	_, err = newTestTranscoder(t, Options{}).Decode(data)
	assert.True(t, apperrors.IsUnknownType(err), "got %v", err)
}

func TestTranscoder_CustomType(t *testing.T) {
	now := testutil.TestTime()
	note := &noteTicket{id: "NOTE-1", createdAt: now, text: "remember bob"}

	tc := newTestTranscoder(t, Options{})
	_, err := tc.Encode(note)
	require.True(t, apperrors.IsUnknownType(err), "got %v", err)

	require.NoError(t, Register(tc.Registry(), "NOTE", noteToRecord, noteFromRecord))
	out := roundTrip(t, tc, note)
	assert.Equal(t, "remember bob", out.(*noteTicket).text)

	t.Run("tags and types register once", func(t *testing.T) {
		assert.Error(t, Register(tc.Registry(), "NOTE", noteToRecord, noteFromRecord))
		assert.Error(t, Register(tc.Registry(), "TGT", noteToRecord, noteFromRecord))
		assert.Error(t, Register(tc.Registry(), "", noteToRecord, noteFromRecord))
	})

	t.Run("decoder without the type", func(t *testing.T) {
		data, err := tc.Encode(note)
		require.NoError(t, err)
		_, err = newTestTranscoder(t, Options{}).Decode(data)
		assert.True(t, apperrors.IsUnknownType(err), "got %v", err)
	})
}

func TestTranscoder_TooLarge(t *testing.T) {
	now := testutil.TestTime()
	tgt, err := ticket.NewGrantingTicket("TGT-big", bigAuthentication(t, now, 4<<10), testutil.DefaultGrantingPolicy(), now)
	require.NoError(t, err)

	tc := newTestTranscoder(t, Options{InitialBufferSize: 16, MaxBufferSize: 256})
	data, err := tc.Encode(tgt)
	assert.Nil(t, data)
	assert.True(t, apperrors.IsEncodingTooLarge(err), "got %v", err)

	// Small tickets still fit under the same ceiling.
	st, err := testutil.NewRootTicket(t, "TGT-1", now).
		GrantServiceTicket("ST-1", ticket.Service{ID: "https://a.example"}, ticket.NeverExpiresPolicy{}, false, now)
	require.NoError(t, err)
	roundTrip(t, tc, st)
}

func TestTranscoder_NilTicket(t *testing.T) {
	tc := newTestTranscoder(t, Options{})
	_, err := tc.Encode(nil)
	assert.True(t, apperrors.IsValidation(err))

	var tgt *ticket.GrantingTicket
	_, err = tc.Encode(tgt)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"ceiling below minimum", Options{MaxBufferSize: 64}},
		{"short digest key", Options{DigestKey: []byte("short")}},
		{"unknown compression", Options{Compression: Compression(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestTranscoder_Concurrent(t *testing.T) {
	now := testutil.TestTime()
	tc := newTestTranscoder(t, Options{InitialBufferSize: 32, Compression: CompressionZstd})
	chain := testutil.BuildProxyChain(t, 3, now)
	tickets := chain.Tickets()

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		tk := tickets[i%len(tickets)]
		g.Go(func() error {
			data, err := tc.Encode(tk)
			if err != nil {
				return err
			}
			out, err := tc.Decode(data)
			if err != nil {
				return err
			}
			if !ticket.Equal(tk, out) {
				return fmt.Errorf("ticket %s changed in round trip", tk.ID())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestTranscoder_Metrics(t *testing.T) {
	sink := statsd.NewRecorder()
	tc := newTestTranscoder(t, Options{InitialBufferSize: 10, Metrics: sink})

	data, err := tc.Encode(testutil.NewRootTicket(t, "TGT-1", testutil.TestTime()))
	require.NoError(t, err)
	_, err = tc.Decode(data)
	require.NoError(t, err)
	_, err = tc.Decode(data[:3])
	require.Error(t, err)

	assert.Equal(t, int64(1), sink.CountOf("transcoder.buffer_grow", map[string]string{"type": "TGT"}))
	assert.Equal(t, int64(1), sink.CountOf("transcoder.encode", map[string]string{"result": "success"}))
	assert.Equal(t, int64(1), sink.CountOf("transcoder.decode", map[string]string{"result": "success"}))
	assert.Equal(t, int64(1), sink.CountOf("transcoder.decode", map[string]string{"result": "corrupt"}))
	_, ok := sink.GaugeOf("transcoder.frame_bytes", map[string]string{"type": "TGT"})
	assert.True(t, ok)
}

// slidingPolicy is a policy type not known to the default registry.
type slidingPolicy struct {
	Window time.Duration `json:"window"`
}

func (slidingPolicy) Kind() ticket.PolicyKind                     { return "sliding" }
func (slidingPolicy) IsExpired(ticket.Usage, time.Time) bool      { return false }
func (p slidingPolicy) Deadline(u ticket.Usage) time.Time         { return u.LastUsedAt.Add(p.Window) }

// noteTicket is a minimal ticket type registered by tests.
type noteTicket struct {
	id        string
	createdAt time.Time
	text      string
	rev       int64
}

type noteRecord struct {
	ID        string `cbor:"1,keyasint"`
	CreatedAt int64  `cbor:"2,keyasint"`
	Text      string `cbor:"3,keyasint"`
}

func noteToRecord(n *noteTicket) (noteRecord, error) {
	return noteRecord{ID: n.id, CreatedAt: n.createdAt.UnixNano(), Text: n.text}, nil
}

func noteFromRecord(r noteRecord) (*noteTicket, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("note id is required")
	}
	return &noteTicket{id: r.ID, createdAt: time.Unix(0, r.CreatedAt).UTC(), text: r.Text}, nil
}

func (n *noteTicket) ID() string                                 { return n.id }
func (n *noteTicket) Kind() ticket.Kind                          { return "NOTE" }
func (n *noteTicket) CreatedAt() time.Time                       { return n.createdAt }
func (n *noteTicket) LastUsedAt() time.Time                      { return n.createdAt }
func (n *noteTicket) PreviousLastUsedAt() time.Time              { return time.Time{} }
func (n *noteTicket) CountOfUses() int                           { return 0 }
func (n *noteTicket) ExpirationPolicy() ticket.ExpirationPolicy  { return ticket.NeverExpiresPolicy{} }
func (n *noteTicket) IsExpiredAt(time.Time) bool                 { return false }
func (n *noteTicket) GrantingTicketID() string                   { return "" }
func (n *noteTicket) Revision() int64                            { return n.rev }
func (n *noteTicket) SetRevision(rev int64)                      { n.rev = rev }
func (n *noteTicket) Clone() ticket.Ticket                       { c := *n; return &c }

func (n *noteTicket) EqualTicket(other ticket.Ticket) bool {
	o, ok := other.(*noteTicket)
	return ok && o.id == n.id && o.createdAt.Equal(n.createdAt) && o.text == n.text
}
