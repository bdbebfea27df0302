// Package chunk implements the kernel's L5 sorted, append-only revision
// container: a generic Chunk[L, K, V] plus its Table/Index/Corpus
// instantiations, the Manifest that maps Composite ranges to chunk-file byte
// offsets, and the Bloom-backed seek path.
//
// The generic shape collapses what would otherwise be three parallel
// flavor-specific chunk implementations into one algorithm (sort, Bloom,
// Manifest, seek) — spec.md §9's "deep inheritance of Chunk/Record flavors
// collapses to a generic Chunk<L,K,V>" redesign note. Grounded on the
// teacher's nbs package tests (go/store/nbs/table_test.go,
// go/store/nbs/mem_table_test.go, go/store/nbs/file_manifest_test.go): an
// in-memory accumulation phase that sorts once at flush time, a sibling
// manifest file mapping keys to byte ranges, and a CAS-style atomic publish.
package chunk

import (
	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/sink"
)

// Action distinguishes an additive revision from a removal, per spec.md
// §3's toggle semantics.
type Action byte

const (
	ActionAdd    Action = 0
	ActionRemove Action = 1
)

func (a Action) String() string {
	if a == ActionRemove {
		return "remove"
	}
	return "add"
}

// Revision is the kernel's unit of durable change: a (locator, key, value)
// binding stamped with a monotonic version and an action.
type Revision[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable] struct {
	Locator L
	Key     K
	Value   V
	Version uint64
	Action  Action
}

// size reports the exact on-disk record size per spec.md §6's chunk file
// format: version(8) action(1) locator_len(4) locator key_len(4) key
// value_len(4) value.
func (r Revision[L, K, V]) size() int {
	return 8 + 1 + 4 + r.Locator.Size() + 4 + r.Key.Size() + 4 + r.Value.Size()
}

func (r Revision[L, K, V]) writeTo(s sink.Sink) error {
	if err := s.PutLong(int64(r.Version)); err != nil {
		return kerr.New(kerr.IoError, "Revision.writeTo", err)
	}
	if err := s.Put(byte(r.Action)); err != nil {
		return kerr.New(kerr.IoError, "Revision.writeTo", err)
	}
	if err := writeField[L](s, r.Locator); err != nil {
		return err
	}
	if err := writeField[K](s, r.Key); err != nil {
		return err
	}
	if err := writeField[V](s, r.Value); err != nil {
		return err
	}
	return nil
}

func writeField[T byteable.Byteable](s sink.Sink, field T) error {
	if err := s.PutInt(int32(field.Size())); err != nil {
		return kerr.New(kerr.IoError, "chunk.writeField", err)
	}
	if err := field.CopyTo(s); err != nil {
		return kerr.New(kerr.IoError, "chunk.writeField", err)
	}
	return nil
}

// Codec supplies the decode side of a flavor's Byteable types: Chunk cannot
// synthesize a zero value of an arbitrary Byteable type parameter, so
// callers hand it one decoder per part per spec.md §4.2's "sum-type /
// trait dispatch" contract.
type Codec[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable] struct {
	DecodeLocator func([]byte) (L, error)
	DecodeKey     func([]byte) (K, error)
	DecodeValue   func([]byte) (V, error)
}

// decodeRevision reads one revision starting at off in src, returning the
// revision and the offset immediately after it.
func decodeRevision[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable](
	src byteSource, off int, codec Codec[L, K, V],
) (Revision[L, K, V], int, error) {
	var rev Revision[L, K, V]

	version, err := src.GetLong(off)
	if err != nil {
		return rev, 0, kerr.New(kerr.DecodeError, "chunk.decodeRevision", err)
	}
	off += 8

	actionByte, err := src.GetByte(off)
	if err != nil {
		return rev, 0, kerr.New(kerr.DecodeError, "chunk.decodeRevision", err)
	}
	off += 1

	locator, off2, err := decodeField[L](src, off, codec.DecodeLocator)
	if err != nil {
		return rev, 0, err
	}
	off = off2

	key, off3, err := decodeField[K](src, off, codec.DecodeKey)
	if err != nil {
		return rev, 0, err
	}
	off = off3

	value, off4, err := decodeField[V](src, off, codec.DecodeValue)
	if err != nil {
		return rev, 0, err
	}
	off = off4

	rev = Revision[L, K, V]{
		Locator: locator,
		Key:     key,
		Value:   value,
		Version: uint64(version),
		Action:  Action(actionByte),
	}
	return rev, off, nil
}

func decodeField[T byteable.Byteable](src byteSource, off int, decode func([]byte) (T, error)) (T, int, error) {
	var zero T
	n, err := src.GetInt(off)
	if err != nil {
		return zero, 0, kerr.New(kerr.DecodeError, "chunk.decodeField", err)
	}
	off += 4
	window, err := src.GetBytes(off, int(n))
	if err != nil {
		return zero, 0, kerr.New(kerr.DecodeError, "chunk.decodeField", err)
	}
	off += int(n)
	v, err := decode(window)
	if err != nil {
		return zero, 0, kerr.New(kerr.DecodeError, "chunk.decodeField", err)
	}
	return v, off, nil
}

// byteSource is the subset of sink.Source decodeRevision needs.
type byteSource interface {
	GetByte(off int) (byte, error)
	GetBytes(off, n int) ([]byte, error)
	GetInt(off int) (int32, error)
	GetLong(off int) (int64, error)
}
