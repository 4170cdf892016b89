package codec

import "errors"

// errBufferFull reports a write that does not fit the buffer's current limit.
var errBufferFull = errors.New("encode buffer full")

// boundedBuffer is an io.Writer that refuses to grow past limit. A refused
// write leaves the buffer unchanged and records how much room it needed, so
// the caller can enlarge the limit and encode again.
type boundedBuffer struct {
	buf    []byte
	limit  int
	needed int
}

func (b *boundedBuffer) reset(limit int) {
	b.buf = b.buf[:0]
	b.limit = limit
	b.needed = 0
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if len(b.buf)+len(p) > b.limit {
		b.needed = len(b.buf) + len(p)
		return 0, errBufferFull
	}
	if cap(b.buf) < b.limit {
		grown := make([]byte, len(b.buf), b.limit)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte { return b.buf }

// nextLimit doubles limit until it covers needed, capped at ceiling.
// ok is false when needed exceeds ceiling.
func nextLimit(limit, needed, ceiling int) (next int, ok bool) {
	if needed > ceiling {
		return 0, false
	}
	next = max(limit, 1)
	for next < needed {
		next *= 2
	}
	return min(next, ceiling), true
}
