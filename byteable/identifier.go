package byteable

import (
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/sink"
)

// Identifier is a 64-bit record id.
type Identifier uint64

// IdentifierSize is the fixed on-disk width of an Identifier.
const IdentifierSize = 8

func (id Identifier) Size() int { return IdentifierSize }

func (id Identifier) CopyTo(s sink.Sink) error {
	return s.PutLong(int64(id))
}

// DecodeIdentifier reconstructs an Identifier from an 8-byte window.
func DecodeIdentifier(window []byte) (Identifier, error) {
	if len(window) != IdentifierSize {
		return 0, kerr.Newf(kerr.DecodeError, "byteable.DecodeIdentifier", "expected %d bytes, got %d", IdentifierSize, len(window))
	}
	src := sink.NewBufferSource(window)
	v, err := src.GetLong(0)
	if err != nil {
		return 0, kerr.New(kerr.DecodeError, "byteable.DecodeIdentifier", err)
	}
	return Identifier(v), nil
}
