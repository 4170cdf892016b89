package data

import (
	"errors"
	"fmt"

	"github.com/target/sso-ticket-core/internal/data/cryptoutil"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// Payloads turns tickets into the sealed bytes stored by byte-oriented registries.
// The ticket id is bound to the ciphertext as associated data, so a payload copied
// under another key fails to open.
type Payloads struct {
	codec  ports.TicketCodec
	cipher cryptoutil.Cipher
}

// NewPayloads builds a Payloads. A nil cipher stores payloads unencrypted.
func NewPayloads(codec ports.TicketCodec, cipher cryptoutil.Cipher) (*Payloads, error) {
	if codec == nil {
		return nil, errors.New("ticket codec is required")
	}
	if cipher == nil {
		cipher = cryptoutil.PlainCipher{}
	}
	return &Payloads{codec: codec, cipher: cipher}, nil
}

// Pack encodes and seals t.
func (p *Payloads) Pack(t ticket.Ticket) ([]byte, error) {
	raw, err := p.codec.Encode(t)
	if err != nil {
		return nil, err
	}
	sealed, err := p.cipher.Seal(raw, []byte(t.ID()))
	if err != nil {
		return nil, fmt.Errorf("seal ticket %s: %w", t.ID(), err)
	}
	return sealed, nil
}

// Unpack opens and decodes a payload stored under id and stamps rev on the result.
func (p *Payloads) Unpack(id string, rev int64, sealed []byte) (ticket.Ticket, error) {
	raw, err := p.cipher.Open(sealed, []byte(id))
	if err != nil {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("open payload of %s: %w", id, err))
	}
	t, err := p.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	if t.ID() != id {
		return nil, apperrors.CorruptEncoding(fmt.Errorf("payload stored under %s decodes to %s", id, t.ID()))
	}
	t.SetRevision(rev)
	return t, nil
}
