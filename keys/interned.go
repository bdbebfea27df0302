package keys

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/sink"
)

// Interner is a best-effort, process-scoped cache of Composites keyed by a
// non-cryptographic hash of their parts. Per the Open Question resolved in
// DESIGN.md, this is a deliberately distinct type from Composite rather than
// a toggle on it: Interner.Get admits hash collisions as correct behavior
// (two different part lists landing on the same cached Composite), so
// callers who need exact equality must use keys.FromParts directly. An
// Interner is owned by one kernel.Instance and is never a package-level
// global, so it cannot leak state across tests.
type Interner struct {
	mu    sync.Mutex
	cache map[uint64]Composite
}

// NewInterner creates an empty, process-scoped Composite cache.
func NewInterner() *Interner {
	return &Interner{cache: make(map[uint64]Composite)}
}

// Get returns a cached Composite for parts if one exists under the same
// part-hash, racing or colliding inserts are tolerated: at most the caller
// gets back a different-but-equally-valid Composite for a hash collision,
// never corrupted state. If no entry exists, Get builds one via FromParts,
// caches it, and returns it.
func (in *Interner) Get(parts ...byteable.Byteable) (Composite, error) {
	h := hashParts(parts)

	in.mu.Lock()
	if c, ok := in.cache[h]; ok {
		in.mu.Unlock()
		return c, nil
	}
	in.mu.Unlock()

	c, err := FromParts(parts...)
	if err != nil {
		return Composite{}, err
	}

	in.mu.Lock()
	// Another goroutine may have raced us; last writer wins, which is fine
	// since both candidates are valid Composites for this hash bucket.
	in.cache[h] = c
	in.mu.Unlock()
	return c, nil
}

// Len reports the number of distinct hash buckets currently cached.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.cache)
}

func hashParts(parts []byteable.Byteable) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		buf := make([]byte, p.Size())
		// CopyTo into a correctly sized fixed buffer never fails; an error
		// here means a Byteable lied about its own Size(), a programmer
		// error the kernel treats as fatal rather than swallowing.
		if err := p.CopyTo(sink.NewFixedBuffer(buf)); err != nil {
			panic(err)
		}
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}
