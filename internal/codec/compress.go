package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame payload is compressed. Values are stored
// in the frame header; changing them breaks stored tickets.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// errIncompressible means compression did not shrink the payload; it is stored raw.
var errIncompressible = errors.New("payload is incompressible")

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// UnmarshalText allows Compression to be parsed from configuration.
func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

func (c Compression) valid() bool {
	return c <= CompressionZstd
}

// compressor holds per-transcoder compression state. zstd.Encoder and zstd.Decoder
// are safe for concurrent use through EncodeAll and DecodeAll.
type compressor struct {
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

func newCompressor(maxSize int) (*compressor, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(uint64(max(maxSize, 1))),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &compressor{zenc: zenc, zdec: zdec}, nil
}

func (c *compressor) compress(data []byte, alg Compression) ([]byte, error) {
	switch alg {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		out := c.zenc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return data, nil
	}
}

// decompress expands data to exactly rawLen bytes.
func (c *compressor) decompress(data []byte, alg Compression, rawLen int) ([]byte, error) {
	switch alg {
	case CompressionNone:
		if len(data) != rawLen {
			return nil, fmt.Errorf("payload is %d bytes, header says %d", len(data), rawLen)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawLen)
		}
		return dst, nil
	case CompressionZstd:
		out, err := c.zdec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", alg)
	}
}

func (c *compressor) close() {
	_ = c.zenc.Close()
	c.zdec.Close()
}
