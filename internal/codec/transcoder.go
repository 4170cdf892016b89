// Package codec implements the ticket transcoder: a bounded, self-checking binary
// encoding of tickets and their authentication graphs for byte-oriented registries.
//
// Frame layout:
//
//	magic   2 bytes  0xCA 0x57
//	version 1 byte
//	comp    1 byte   Compression
//	rawLen  uvarint  length of the uncompressed payload
//	digest  16 bytes BLAKE3 of everything before it plus the stored payload
//	payload          CBOR envelope {1: tag, 2: body}, possibly compressed
package codec

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
	"github.com/target/sso-ticket-core/internal/ports"
)

const (
	frameMagic0  = 0xCA
	frameMagic1  = 0x57
	frameVersion = 1
	digestSize   = 16
	// maxHeaderSize bounds magic, version, compression, rawLen and digest.
	maxHeaderSize = 4 + binary.MaxVarintLen64 + digestSize

	DefaultInitialBufferSize    = 1024
	DefaultMaxBufferSize        = 1 << 20
	DefaultCompressionThreshold = 512

	minMaxBufferSize = 128
	digestKeySize    = 32
)

var _ ports.TicketCodec = (*Transcoder)(nil)

// Options configures a Transcoder.
type Options struct {
	// InitialBufferSize is the encode buffer capacity each call starts with.
	InitialBufferSize int
	// MaxBufferSize caps the size of an encoded frame and of a decoded payload.
	MaxBufferSize int
	// Compression is applied to payloads of at least CompressionThreshold bytes.
	Compression          Compression
	CompressionThreshold int
	// DigestKey, when set, keys the frame digest so frames written without the key are rejected.
	DigestKey []byte
	// Registry resolves ticket types; nil uses a registry with the built-in types.
	Registry *Registry
	Metrics  statsd.Sink
}

type envelope struct {
	Tag  string `cbor:"1,keyasint"`
	Body any    `cbor:"2,keyasint"`
}

type rawEnvelope struct {
	Tag  string     `cbor:"1,keyasint"`
	Body RawMessage `cbor:"2,keyasint"`
}

// Transcoder encodes and decodes tickets. It is safe for concurrent use: each call
// takes its own scratch buffer from a pool and nothing persists between calls.
type Transcoder struct {
	initial   int
	ceiling   int
	alg       Compression
	threshold int
	key       []byte
	registry  *Registry
	comp      *compressor
	metrics   statsd.Sink
	buffers   sync.Pool
}

// New returns a Transcoder. Zero options take their defaults.
func New(opts Options) (*Transcoder, error) {
	if opts.InitialBufferSize <= 0 {
		opts.InitialBufferSize = DefaultInitialBufferSize
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = DefaultMaxBufferSize
	}
	if opts.MaxBufferSize < minMaxBufferSize {
		return nil, fmt.Errorf("max buffer size %d is below %d", opts.MaxBufferSize, minMaxBufferSize)
	}
	if opts.InitialBufferSize > opts.MaxBufferSize {
		opts.InitialBufferSize = opts.MaxBufferSize
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	if !opts.Compression.valid() {
		return nil, fmt.Errorf("unsupported compression %s", opts.Compression)
	}
	if len(opts.DigestKey) != 0 && len(opts.DigestKey) != digestKeySize {
		return nil, fmt.Errorf("digest key must be %d bytes, got %d", digestKeySize, len(opts.DigestKey))
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	comp, err := newCompressor(opts.MaxBufferSize)
	if err != nil {
		return nil, err
	}
	return &Transcoder{
		initial:   opts.InitialBufferSize,
		ceiling:   opts.MaxBufferSize,
		alg:       opts.Compression,
		threshold: opts.CompressionThreshold,
		key:       append([]byte(nil), opts.DigestKey...),
		registry:  opts.Registry,
		comp:      comp,
		metrics:   opts.Metrics,
		buffers:   sync.Pool{New: func() any { return new(boundedBuffer) }},
	}, nil
}

// Registry returns the type registry used by t.
func (t *Transcoder) Registry() *Registry { return t.registry }

// Close releases compression resources.
func (t *Transcoder) Close() { t.comp.close() }

// Encode returns the framed encoding of tk. The scratch buffer starts at the
// initial size and doubles until the payload fits; a frame that would exceed
// MaxBufferSize fails with encoding_too_large.
func (t *Transcoder) Encode(tk ticket.Ticket) ([]byte, error) {
	if ticket.IsNil(tk) {
		return nil, apperrors.Validation("cannot encode a nil ticket")
	}
	entry, err := t.registry.lookupType(tk)
	if err != nil {
		t.count("transcoder.encode", "unknown_type")
		return nil, err
	}
	body, err := entry.toRecord(tk)
	if err != nil {
		t.count("transcoder.encode", "error")
		return nil, fmt.Errorf("encode %s %s: %w", entry.tag, tk.ID(), err)
	}

	buf, _ := t.buffers.Get().(*boundedBuffer)
	defer t.buffers.Put(buf)

	env := envelope{Tag: entry.tag, Body: body}
	payloadCeiling := t.ceiling - maxHeaderSize
	limit := min(t.initial, payloadCeiling)
	for {
		buf.reset(limit)
		err = encMode.NewEncoder(buf).Encode(env)
		if err == nil {
			break
		}
		if !errors.Is(err, errBufferFull) {
			t.count("transcoder.encode", "error")
			return nil, fmt.Errorf("encode %s %s: %w", entry.tag, tk.ID(), err)
		}
		next, ok := nextLimit(limit, buf.needed, payloadCeiling)
		if !ok {
			t.count("transcoder.encode", "too_large")
			return nil, apperrors.EncodingTooLarge(tk.ID(), t.ceiling)
		}
		if t.metrics != nil {
			t.metrics.Count("transcoder.buffer_grow", 1, map[string]string{"type": entry.tag})
		}
		limit = next
	}

	frame, err := t.frame(buf.Bytes())
	if err != nil {
		t.count("transcoder.encode", "error")
		return nil, fmt.Errorf("frame %s %s: %w", entry.tag, tk.ID(), err)
	}
	if len(frame) > t.ceiling {
		t.count("transcoder.encode", "too_large")
		return nil, apperrors.EncodingTooLarge(tk.ID(), t.ceiling)
	}
	t.count("transcoder.encode", "success")
	if t.metrics != nil {
		t.metrics.Gauge("transcoder.frame_bytes", float64(len(frame)), map[string]string{"type": entry.tag})
	}
	return frame, nil
}

// Decode parses a frame produced by Encode. Malformed, truncated or tampered input
// fails with corrupt_encoding, an unregistered type tag with unknown_type. Decode
// never returns a partially restored ticket.
func (t *Transcoder) Decode(data []byte) (tk ticket.Ticket, err error) {
	defer func() {
		if r := recover(); r != nil {
			tk = nil
			err = apperrors.CorruptEncoding(fmt.Errorf("panic while decoding: %v", r))
		}
		switch {
		case err == nil:
			t.count("transcoder.decode", "success")
		case apperrors.IsUnknownType(err):
			t.count("transcoder.decode", "unknown_type")
		default:
			t.count("transcoder.decode", "corrupt")
		}
	}()

	payload, err := t.unframe(data)
	if err != nil {
		return nil, apperrors.CorruptEncoding(err)
	}

	var env rawEnvelope
	if err := decMode.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("decode envelope: %w", err))
	}
	entry, err := t.registry.lookupTag(env.Tag)
	if err != nil {
		return nil, err
	}
	decoded, err := entry.decode(env.Body)
	if err != nil {
		if apperrors.IsUnknownType(err) {
			return nil, err
		}
		return nil, apperrors.CorruptEncoding(fmt.Errorf("decode %s: %w", env.Tag, err))
	}
	if ticket.IsNil(decoded) {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("decode %s: codec returned no ticket", env.Tag))
	}
	return decoded, nil
}

func (t *Transcoder) frame(raw []byte) ([]byte, error) {
	alg := CompressionNone
	stored := raw
	if t.alg != CompressionNone && len(raw) >= t.threshold {
		compressed, err := t.comp.compress(raw, t.alg)
		switch {
		case err == nil:
			alg, stored = t.alg, compressed
		case errors.Is(err, errIncompressible):
		default:
			return nil, err
		}
	}

	out := make([]byte, 0, maxHeaderSize+len(stored))
	out = append(out, frameMagic0, frameMagic1, frameVersion, byte(alg))
	out = binary.AppendUvarint(out, uint64(len(raw)))
	sum, err := t.digest(out, stored)
	if err != nil {
		return nil, err
	}
	out = append(out, sum...)
	return append(out, stored...), nil
}

func (t *Transcoder) unframe(data []byte) ([]byte, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("frame of %d bytes is truncated", len(data))
	}
	if data[0] != frameMagic0 || data[1] != frameMagic1 {
		return nil, errors.New("bad frame magic")
	}
	if data[2] != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", data[2])
	}
	alg := Compression(data[3])
	if !alg.valid() {
		return nil, fmt.Errorf("unsupported compression %s", alg)
	}
	rawLen, n := binary.Uvarint(data[4:])
	if n <= 0 {
		return nil, errors.New("bad payload length")
	}
	if rawLen == 0 || rawLen > uint64(t.ceiling) {
		return nil, fmt.Errorf("payload length %d out of range", rawLen)
	}
	headerEnd := 4 + n
	if len(data) < headerEnd+digestSize {
		return nil, errors.New("frame digest is truncated")
	}
	stored := data[headerEnd+digestSize:]
	sum, err := t.digest(data[:headerEnd], stored)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(sum, data[headerEnd:headerEnd+digestSize]) != 1 {
		return nil, errors.New("frame digest mismatch")
	}
	return t.comp.decompress(stored, alg, int(rawLen))
}

func (t *Transcoder) digest(header, payload []byte) ([]byte, error) {
	var h *blake3.Hasher
	if len(t.key) > 0 {
		var err error
		if h, err = blake3.NewKeyed(t.key); err != nil {
			return nil, fmt.Errorf("keyed digest: %w", err)
		}
	} else {
		h = blake3.New()
	}
	_, _ = h.Write(header)
	_, _ = h.Write(payload)
	return h.Sum(nil)[:digestSize], nil
}

func (t *Transcoder) count(name, result string) {
	if t.metrics == nil {
		return
	}
	t.metrics.Count(name, 1, map[string]string{"result": result})
}
