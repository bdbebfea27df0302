package byteable

import (
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/sink"
)

// Position names a (record, offset) pair: "term T begins at byte offset
// Offset within the string value belonging to record Rec."
type Position struct {
	Rec    Identifier
	Offset int32
}

// PositionSize is the fixed on-disk width of a Position.
const PositionSize = IdentifierSize + 4

func NewPosition(rec Identifier, offset int32) Position {
	return Position{Rec: rec, Offset: offset}
}

func (p Position) Size() int { return PositionSize }

func (p Position) CopyTo(s sink.Sink) error {
	if err := p.Rec.CopyTo(s); err != nil {
		return err
	}
	return s.PutInt(p.Offset)
}

// DecodePosition reconstructs a Position from a fixed-width window.
func DecodePosition(window []byte) (Position, error) {
	if len(window) != PositionSize {
		return Position{}, kerr.Newf(kerr.DecodeError, "byteable.DecodePosition", "expected %d bytes, got %d", PositionSize, len(window))
	}
	rec, err := DecodeIdentifier(window[:IdentifierSize])
	if err != nil {
		return Position{}, err
	}
	src := sink.NewBufferSource(window[IdentifierSize:])
	off, err := src.GetInt(0)
	if err != nil {
		return Position{}, kerr.New(kerr.DecodeError, "byteable.DecodePosition", err)
	}
	return Position{Rec: rec, Offset: off}, nil
}
