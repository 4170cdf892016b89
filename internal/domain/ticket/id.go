package ticket

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Ticket id prefixes.
const (
	PrefixServiceTicket       = "ST"
	PrefixGrantingTicket      = "TGT"
	PrefixProxyGrantingTicket = "PGT"
	PrefixProxyServiceTicket  = "PT"
)

// IDGenerator mints ticket ids of the form PREFIX-<counter>-<random>[-<suffix>].
// The random part is a v4 UUID without dashes; the suffix names the issuing node.
type IDGenerator struct {
	suffix  string
	counter atomic.Uint64
}

// NewIDGenerator returns a generator appending suffix to every id.
func NewIDGenerator(suffix string) *IDGenerator {
	return &IDGenerator{suffix: strings.TrimSpace(suffix)}
}

// New returns a fresh id with the given prefix.
func (g *IDGenerator) New(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(g.counter.Add(1), 10))
	b.WriteByte('-')
	b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if g.suffix != "" {
		b.WriteByte('-')
		b.WriteString(g.suffix)
	}
	return b.String()
}
