// Package keys implements Composite, the kernel's L2 multi-part key: an
// ordered list of Byteables encoded into at most MaxSize bytes, falling back
// to a SHA-256 digest of that encoding when the parts don't fit.
//
// Grounded on the offset-then-payload shape of the teacher's tuple codec
// (go/store/val/tuple_test.go, go/store/val/codec_test.go), generalized from
// fixed SQL-row tuples to variable Byteable parts with a size cap and a
// digest fallback for anything over that cap.
package keys

import (
	"bytes"
	"crypto/sha256"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/sink"
)

// MaxSize is the largest encoding a Composite will store inline. Anything
// longer is replaced by its 32-byte SHA-256 digest.
const MaxSize = 32

// Composite is an ordered tuple of Byteables encoded as
// [offset0 | bytes0 | offset1 | bytes1 | ...], where offsetN is the
// cumulative start position of partN's bytes within the concatenation of
// all parts' payloads (excluding the offset fields themselves). If that
// encoding would exceed MaxSize, Composite stores a SHA-256 digest of it
// instead.
//
// Equality and hashing are over the stored bytes only (spec.md §4.3):
// two Composites built from equal parts in the same order compare equal,
// whether or not they went through the digest path.
type Composite struct {
	stored []byte
	parts  []byteable.Byteable
}

// FromParts builds a Composite from parts, retaining them for Parts().
func FromParts(parts ...byteable.Byteable) (Composite, error) {
	encoded, err := encodeParts(parts)
	if err != nil {
		return Composite{}, err
	}
	stored := encoded
	if len(encoded) > MaxSize {
		digest := sha256.Sum256(encoded)
		stored = digest[:]
	}
	retained := make([]byteable.Byteable, len(parts))
	copy(retained, parts)
	return Composite{stored: stored, parts: retained}, nil
}

// FromBytes loads a Composite from its already-encoded stored form (either
// the inline encoding or a digest). Per spec.md §4.3, the load-from-bytes
// path discards part identity: Parts() returns nil.
func FromBytes(stored []byte) Composite {
	cp := make([]byte, len(stored))
	copy(cp, stored)
	return Composite{stored: cp}
}

func encodeParts(parts []byteable.Byteable) ([]byte, error) {
	total := 0
	for _, p := range parts {
		total += 4 + p.Size()
	}
	buf := make([]byte, total)
	sk := sink.NewFixedBuffer(buf)
	cumulative := int32(0)
	for _, p := range parts {
		if err := sk.PutInt(cumulative); err != nil {
			return nil, kerr.New(kerr.DecodeError, "keys.encodeParts", err)
		}
		if err := p.CopyTo(sk); err != nil {
			return nil, kerr.New(kerr.DecodeError, "keys.encodeParts", err)
		}
		cumulative += int32(p.Size())
	}
	return buf, nil
}

// Bytes returns the Composite's stored form: either its inline encoding or
// its SHA-256 digest, whichever was chosen at construction.
func (c Composite) Bytes() []byte { return c.stored }

// Size returns len(Bytes()); always <= MaxSize.
func (c Composite) Size() int { return len(c.stored) }

// IsDigest reports whether the stored form is a SHA-256 digest rather than
// the inline part encoding. A Composite built by FromBytes carries no parts
// to tell the two apart, so for it any 32-byte stored form reports true.
func (c Composite) IsDigest() bool {
	if c.parts != nil {
		total := 0
		for _, p := range c.parts {
			total += 4 + p.Size()
		}
		return total > MaxSize
	}
	return len(c.stored) == sha256.Size
}

// Parts returns the retained parts, or nil if this Composite was built via
// FromBytes (the load-from-bytes path spec.md §4.3 describes).
func (c Composite) Parts() []byteable.Byteable { return c.parts }

// Equal compares the stored bytes only, per spec.md §4.3.
func (c Composite) Equal(o Composite) bool { return bytes.Equal(c.stored, o.stored) }

// Compare gives the ascending byte-lexicographic order Manifest entries
// are sorted by (spec.md §6).
func (c Composite) Compare(o Composite) int { return bytes.Compare(c.stored, o.stored) }
