// Package bloom implements the kernel's L3 persistent approximate
// membership filter over keys.Composite, per spec.md §4.4.
//
// Shape (bit-array sized from an expected-insertions/false-positive-rate
// pair, a funnel feeding a Composite's stored bytes into two independent
// 64-bit hashes) is grounded on the Bloom filter implementations the pack
// surfaces under other_examples/ (shaia-BloomFilter, entreya-csvquery,
// weiwei-tsao's cache bloom filter). Two points in this package deliberately
// depart from all three of those references, per spec.md §4.4/§9's own
// resolution of the Open Questions: locking is a plain reader-writer mutex
// (the read path is short enough that optimistic/seqlock tricks aren't
// worth the complexity), and the on-disk header carries an explicit version
// that is rejected outright if unrecognized — no legacy funnel name
// remapping.
package bloom

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/kerr"
)

// Funnel identifies how a Composite's bytes are fed into the filter's hash
// functions. There is exactly one funnel in this kernel version; the byte
// is persisted so a future funnel change can be detected and rejected
// rather than silently remapped.
type Funnel byte

const (
	// FunnelCompositeBytesXXH64 double-hashes a Composite's stored bytes
	// with xxhash to derive the k probe positions.
	FunnelCompositeBytesXXH64 Funnel = 1
)

const (
	magic           = uint32(0xB10011F7)
	headerVersion   = uint8(1)
	headerSize      = 4 + 1 + 1 + 4 + 1 + 8 // magic, version, funnel, expected, numHash, bitCount
	minHashFuncs    = 1
)

// Filter is a persistent approximate-membership set over keys.Composite.
// mightContain's false answer is authoritative; true may be a false
// positive.
type Filter struct {
	mu sync.RWMutex

	bits               []uint64
	numBits            uint64
	numHashFuncs       uint32
	expectedInsertions uint32
	funnel             Funnel
	threadSafe         bool
}

// New sizes a Filter for expectedInsertions items at the given target
// false-positive rate (spec.md default: 0.03). threadSafe toggles the
// reader-writer lock described in spec.md §4.4; callers that already
// guarantee external exclusion may pass false to skip the locking overhead.
func New(expectedInsertions uint32, falsePositiveRate float64, threadSafe bool) *Filter {
	if expectedInsertions == 0 {
		expectedInsertions = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.03
	}

	n := float64(expectedInsertions)
	p := falsePositiveRate
	ln2 := math.Ln2

	numBits := uint64(math.Ceil(-n * math.Log(p) / (ln2 * ln2)))
	if numBits < 64 {
		numBits = 64
	}
	numHash := uint32(math.Round(float64(numBits) / n * ln2))
	if numHash < minHashFuncs {
		numHash = minHashFuncs
	}

	words := (numBits + 63) / 64
	return &Filter{
		bits:               make([]uint64, words),
		numBits:            words * 64,
		numHashFuncs:       numHash,
		expectedInsertions: expectedInsertions,
		funnel:             FunnelCompositeBytesXXH64,
		threadSafe:         threadSafe,
	}
}

func (f *Filter) probes(c keys.Composite) []uint64 {
	data := c.Bytes()
	h1 := xxhash.Sum64(data)
	// second independent hash via double-hashing: seed the digest with a
	// fixed suffix so h2 isn't a trivial function of h1.
	h2 := xxhash.Sum64(append(append([]byte{}, data...), 0x5A))

	positions := make([]uint64, f.numHashFuncs)
	for i := uint32(0); i < f.numHashFuncs; i++ {
		combined := h1 + uint64(i)*h2
		positions[i] = combined % f.numBits
	}
	return positions
}

// Put adds c to the filter. It returns true if any bit was newly set (so
// false means c was possibly already present — not a membership guarantee,
// just a signal consistent with Guava-style Bloom filters).
func (f *Filter) Put(c keys.Composite) bool {
	if f.threadSafe {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	changed := false
	for _, pos := range f.probes(c) {
		word, bit := pos/64, pos%64
		mask := uint64(1) << bit
		if f.bits[word]&mask == 0 {
			f.bits[word] |= mask
			changed = true
		}
	}
	return changed
}

// MightContain reports whether c was possibly added. false is authoritative.
func (f *Filter) MightContain(c keys.Composite) bool {
	if f.threadSafe {
		f.mu.RLock()
		defer f.mu.RUnlock()
	}
	for _, pos := range f.probes(c) {
		word, bit := pos/64, pos%64
		if f.bits[word]&(uint64(1)<<bit) == 0 {
			return false
		}
	}
	return true
}

// GetBytes serializes the header and packed bit-array.
func (f *Filter) GetBytes() []byte {
	if f.threadSafe {
		f.mu.RLock()
		defer f.mu.RUnlock()
	}

	buf := make([]byte, headerSize+len(f.bits)*8)
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[4] = headerVersion
	buf[5] = byte(f.funnel)
	binary.BigEndian.PutUint32(buf[6:10], f.expectedInsertions)
	buf[10] = byte(f.numHashFuncs)
	binary.BigEndian.PutUint64(buf[11:19], f.numBits)

	off := headerSize
	for _, w := range f.bits {
		binary.BigEndian.PutUint64(buf[off:off+8], w)
		off += 8
	}
	return buf
}

// Load restores a Filter from bytes written by GetBytes. Unlike the legacy
// source this kernel is modeled on, Load requires the header version to
// match exactly and returns a kerr.StateError for any other version —
// per spec.md §9's resolution of the "legacy funnel remap" Open Question,
// there is no silent fallback to name-based funnel matching.
func Load(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, kerr.Newf(kerr.DecodeError, "bloom.Load", "truncated header: %d bytes", len(data))
	}
	if got := binary.BigEndian.Uint32(data[0:4]); got != magic {
		return nil, kerr.Newf(kerr.DecodeError, "bloom.Load", "bad magic %x", got)
	}
	version := data[4]
	if version != headerVersion {
		return nil, kerr.Newf(kerr.StateError, "bloom.Load", "unsupported bloom filter version %d (want %d); no legacy remap", version, headerVersion)
	}
	funnel := Funnel(data[5])
	if funnel != FunnelCompositeBytesXXH64 {
		return nil, kerr.Newf(kerr.StateError, "bloom.Load", "unknown funnel id %d", funnel)
	}
	expected := binary.BigEndian.Uint32(data[6:10])
	numHash := uint32(data[10])
	bitCount := binary.BigEndian.Uint64(data[11:19])

	words := bitCount / 64
	want := headerSize + int(words)*8
	if len(data) != want {
		return nil, kerr.Newf(kerr.DecodeError, "bloom.Load", "expected %d bytes for %d bits, got %d", want, bitCount, len(data))
	}

	bits := make([]uint64, words)
	off := headerSize
	for i := range bits {
		bits[i] = binary.BigEndian.Uint64(data[off : off+8])
		off += 8
	}

	return &Filter{
		bits:               bits,
		numBits:            bitCount,
		numHashFuncs:       numHash,
		expectedInsertions: expected,
		funnel:             funnel,
		threadSafe:         true,
	}, nil
}

// BitCount reports the size of the underlying bit-array.
func (f *Filter) BitCount() uint64 { return f.numBits }

// NumHashFuncs reports k, the number of probe positions per element.
func (f *Filter) NumHashFuncs() uint32 { return f.numHashFuncs }
