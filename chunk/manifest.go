package chunk

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/sink"
)

// ManifestEntry maps one Composite (either a bare locator or a
// locator+key pair, distinguished by Composite part count per spec.md §6)
// to the half-open byte range it occupies in the sealed chunk file.
type ManifestEntry struct {
	Key   keys.Composite
	Start uint64
	End   uint64
}

// Manifest is the sorted Composite -> byte-range index accompanying a
// sealed Chunk. Grounded on go/store/nbs/file_manifest_test.go's
// read-only, binary-searchable index shape.
type Manifest struct {
	entries []ManifestEntry
}

// Lookup binary-searches entries for an exact Composite match.
func (m *Manifest) Lookup(c keys.Composite) (start, end uint64, ok bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].Key.Bytes(), c.Bytes()) >= 0
	})
	if i < len(m.entries) && m.entries[i].Key.Equal(c) {
		return m.entries[i].Start, m.entries[i].End, true
	}
	return 0, 0, false
}

// Entries exposes the sorted entry list for range-coverage verification
// (spec.md §8 Invariant 5).
func (m *Manifest) Entries() []ManifestEntry { return append([]ManifestEntry(nil), m.entries...) }

// GetBytes serializes the manifest per spec.md §6's format:
// entry := composite_len(4) composite_bytes start(8) end(8).
func (m *Manifest) GetBytes() ([]byte, error) {
	total := 0
	for _, e := range m.entries {
		total += 4 + e.Key.Size() + 8 + 8
	}
	buf := make([]byte, total)
	sk := sink.NewFixedBuffer(buf)
	for _, e := range m.entries {
		if err := sk.PutInt(int32(e.Key.Size())); err != nil {
			return nil, kerr.New(kerr.IoError, "Manifest.GetBytes", err)
		}
		if err := sk.PutBytes(e.Key.Bytes()); err != nil {
			return nil, kerr.New(kerr.IoError, "Manifest.GetBytes", err)
		}
		if err := sk.PutLong(int64(e.Start)); err != nil {
			return nil, kerr.New(kerr.IoError, "Manifest.GetBytes", err)
		}
		if err := sk.PutLong(int64(e.End)); err != nil {
			return nil, kerr.New(kerr.IoError, "Manifest.GetBytes", err)
		}
	}
	return buf, nil
}

// LoadManifest parses bytes written by GetBytes.
func LoadManifest(data []byte) (*Manifest, error) {
	var entries []ManifestEntry
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, kerr.Newf(kerr.DecodeError, "chunk.LoadManifest", "truncated entry length at offset %d", off)
		}
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+n+16 > len(data) {
			return nil, kerr.Newf(kerr.DecodeError, "chunk.LoadManifest", "truncated entry body at offset %d", off)
		}
		keyBytes := data[off : off+n]
		off += n
		start := binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		end := binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		entries = append(entries, ManifestEntry{Key: keys.FromBytes(keyBytes), Start: start, End: end})
	}
	return &Manifest{entries: entries}, nil
}

// manifestBuilder accumulates locator and locator+key ranges while a sorted
// revision stream is written to the chunk file, closing each range when the
// next revision's prefix diverges. Spec.md §6: "Locator-only entries
// precede locator+key entries for the same locator" — true automatically
// here because a locator's encoding is a byte-for-byte prefix of its
// locator+key encoding, so plain lexicographic sort already orders them
// that way.
type manifestBuilder struct {
	entries []ManifestEntry

	haveLocator    bool
	locatorKey     keys.Composite
	locatorStart   uint64

	haveLocatorKey  bool
	locatorKeyKey   keys.Composite
	locatorKeyStart uint64
}

func (b *manifestBuilder) advance(locatorComposite, locatorKeyComposite keys.Composite, pos uint64) {
	if b.haveLocator && !b.locatorKey.Equal(locatorComposite) {
		b.entries = append(b.entries, ManifestEntry{Key: b.locatorKey, Start: b.locatorStart, End: pos})
		b.haveLocator = false
	}
	if !b.haveLocator {
		b.locatorKey = locatorComposite
		b.locatorStart = pos
		b.haveLocator = true
	}

	if b.haveLocatorKey && !b.locatorKeyKey.Equal(locatorKeyComposite) {
		b.entries = append(b.entries, ManifestEntry{Key: b.locatorKeyKey, Start: b.locatorKeyStart, End: pos})
		b.haveLocatorKey = false
	}
	if !b.haveLocatorKey {
		b.locatorKeyKey = locatorKeyComposite
		b.locatorKeyStart = pos
		b.haveLocatorKey = true
	}
}

func (b *manifestBuilder) finish(finalPos uint64) *Manifest {
	if b.haveLocator {
		b.entries = append(b.entries, ManifestEntry{Key: b.locatorKey, Start: b.locatorStart, End: finalPos})
	}
	if b.haveLocatorKey {
		b.entries = append(b.entries, ManifestEntry{Key: b.locatorKeyKey, Start: b.locatorKeyStart, End: finalPos})
	}
	sort.Slice(b.entries, func(i, j int) bool {
		return bytes.Compare(b.entries[i].Key.Bytes(), b.entries[j].Key.Bytes()) < 0
	})
	return &Manifest{entries: b.entries}
}
