package byteable

import (
	"bytes"
	"math"

	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/sink"
)

// Tag identifies a Value's payload kind in its 1-byte transport prefix.
type Tag byte

const (
	TagBool Tag = iota
	TagInt32
	TagInt64
	TagFloat
	TagDouble
	TagString
	TagLink
)

// canonicalIntTag is not a transport tag — it only ever appears in
// CanonicalBytes() output, folding TagInt32 and TagInt64 into one class so
// that 1-as-int32 and 1-as-int64 compare and hash equal, per spec.md §4.5's
// "Numeric semantics" clause.
const canonicalIntTag = byte(0xF0)

// Value is a tagged union over {bool, int32, int64, float, double, string,
// link-to-Identifier}.
type Value struct {
	tag    Tag
	b      bool
	i      int64
	f32    float32
	f64    float64
	s      Text
	link   Identifier
}

func NewBool(v bool) Value { return Value{tag: TagBool, b: v} }

// NewInt chooses the narrowest natural width that holds v — the
// construction-time width normalization spec.md §4.5 calls Value::optimize.
// Equality and ordering are unaffected by the choice; only the transport
// encoding's declared size changes.
func NewInt(v int64) Value {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return Value{tag: TagInt32, i: v}
	}
	return Value{tag: TagInt64, i: v}
}

// NewInt32 / NewInt64 force a specific storage width, for callers (and
// round-trip tests) that need to exercise both transport encodings of the
// same logical integer.
func NewInt32(v int32) Value { return Value{tag: TagInt32, i: int64(v)} }
func NewInt64(v int64) Value { return Value{tag: TagInt64, i: v} }

func NewFloat(v float32) Value  { return Value{tag: TagFloat, f32: v} }
func NewDouble(v float64) Value { return Value{tag: TagDouble, f64: v} }
func NewString(v string) Value  { return Value{tag: TagString, s: NewText(v)} }
func NewLink(id Identifier) Value { return Value{tag: TagLink, link: id} }

func (v Value) Tag() Tag { return v.tag }

// Text returns the wrapped Text and true if this Value carries a string;
// otherwise a zero Text and false. Lets callers (e.g. the corpus indexer)
// index string-valued fields without unpacking the tagged union by hand.
func (v Value) Text() (Text, bool) {
	if v.tag != TagString {
		return Text{}, false
	}
	return v.s, true
}

func (v Value) Size() int {
	switch v.tag {
	case TagBool:
		return 1 + 1
	case TagInt32:
		return 1 + 4
	case TagInt64:
		return 1 + 8
	case TagFloat:
		return 1 + 4
	case TagDouble:
		return 1 + 8
	case TagString:
		return 1 + v.s.Size()
	case TagLink:
		return 1 + IdentifierSize
	default:
		return 1
	}
}

func (v Value) CopyTo(s sink.Sink) error {
	if err := s.Put(byte(v.tag)); err != nil {
		return err
	}
	switch v.tag {
	case TagBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return s.Put(b)
	case TagInt32:
		return s.PutInt(int32(v.i))
	case TagInt64:
		return s.PutLong(v.i)
	case TagFloat:
		return s.PutFloat(v.f32)
	case TagDouble:
		return s.PutDouble(v.f64)
	case TagString:
		return v.s.CopyTo(s)
	case TagLink:
		return v.link.CopyTo(s)
	default:
		return kerr.Newf(kerr.DecodeError, "byteable.Value.CopyTo", "unknown value tag %d", v.tag)
	}
}

// DecodeValue reconstructs a Value from a window covering exactly one
// encoded instance (tag byte + natural payload).
func DecodeValue(window []byte) (Value, error) {
	if len(window) < 1 {
		return Value{}, kerr.Newf(kerr.DecodeError, "byteable.DecodeValue", "empty window")
	}
	tag := Tag(window[0])
	rest := window[1:]
	src := sink.NewBufferSource(rest)
	switch tag {
	case TagBool:
		if len(rest) != 1 {
			return Value{}, kerr.Newf(kerr.DecodeError, "byteable.DecodeValue", "bool payload must be 1 byte, got %d", len(rest))
		}
		return NewBool(rest[0] != 0), nil
	case TagInt32:
		i, err := src.GetInt(0)
		if err != nil {
			return Value{}, kerr.New(kerr.DecodeError, "byteable.DecodeValue", err)
		}
		return NewInt32(i), nil
	case TagInt64:
		i, err := src.GetLong(0)
		if err != nil {
			return Value{}, kerr.New(kerr.DecodeError, "byteable.DecodeValue", err)
		}
		return NewInt64(i), nil
	case TagFloat:
		f, err := src.GetFloat(0)
		if err != nil {
			return Value{}, kerr.New(kerr.DecodeError, "byteable.DecodeValue", err)
		}
		return NewFloat(f), nil
	case TagDouble:
		d, err := src.GetDouble(0)
		if err != nil {
			return Value{}, kerr.New(kerr.DecodeError, "byteable.DecodeValue", err)
		}
		return NewDouble(d), nil
	case TagString:
		return NewString(string(rest)), nil
	case TagLink:
		id, err := DecodeIdentifier(rest)
		if err != nil {
			return Value{}, err
		}
		return NewLink(id), nil
	default:
		return Value{}, kerr.Newf(kerr.DecodeError, "byteable.DecodeValue", "unknown value tag %d", tag)
	}
}

// CanonicalBytes returns the bytes used for equality and ordering. Integers
// are normalized to one tag class regardless of storage width; every other
// kind uses the same bytes as its transport encoding.
func (v Value) CanonicalBytes() []byte {
	switch v.tag {
	case TagInt32, TagInt64:
		buf := make([]byte, 9)
		buf[0] = canonicalIntTag
		putInt64BE(buf[1:], v.i)
		return buf
	default:
		buf := make([]byte, v.Size())
		_ = v.CopyTo(sink.NewFixedBuffer(buf))
		return buf
	}
}

func putInt64BE(b []byte, v int64) {
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}

// Equal compares two Values by canonical bytes, so 1-as-int32 equals
// 1-as-int64.
func (v Value) Equal(o Value) bool {
	return bytes.Equal(v.CanonicalBytes(), o.CanonicalBytes())
}

// Compare returns -1, 0, or 1 using the total order derived from
// (type-tag, canonical-bytes), per spec.md §4.5.
func (v Value) Compare(o Value) int {
	return bytes.Compare(v.CanonicalBytes(), o.CanonicalBytes())
}
