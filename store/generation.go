package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/chunk"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/keys"
)

// generation holds one flavor's history: zero or more sealed chunks plus
// exactly one Open chunk currently accepting writes. Insert always targets
// the active chunk; queries read across every sealed chunk plus the active
// chunk's unsealed accumulation, applying toggle semantics (spec.md §4.5
// Invariant 7) over the whole history rather than per individual chunk, so
// an ADD sealed in one generation and a REMOVE still pending in the next
// resolve correctly.
type generation[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable] struct {
	mu sync.RWMutex

	flavor   string
	newChunk func() *chunk.Chunk[L, K, V]

	active *chunk.Chunk[L, K, V]
	sealed []*chunk.Chunk[L, K, V]
}

func newGeneration[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable](
	flavor string, newChunk func() *chunk.Chunk[L, K, V],
) *generation[L, K, V] {
	return &generation[L, K, V]{flavor: flavor, newChunk: newChunk, active: newChunk()}
}

func (g *generation[L, K, V]) insert(locator L, key K, value V, version uint64, action chunk.Action) error {
	return g.currentActive().Insert(locator, key, value, version, action)
}

// currentActive returns the chunk currently accepting writes. A flush
// racing with a caller that already holds this pointer is safe: Insert
// against a chunk that sealed out from under the caller simply returns a
// StateError, the same outcome any other late write would get.
func (g *generation[L, K, V]) currentActive() *chunk.Chunk[L, K, V] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// flush seals the active chunk (if it has any pending writes) under a
// generation-ordinal name and replaces it with a fresh Open chunk, per
// spec.md §6's Syncable contract.
func (g *generation[L, K, V]) flush(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.active.Pending()) == 0 {
		return nil
	}
	name := fmt.Sprintf("%s-%05d", g.flavor, len(g.sealed))
	if err := g.active.Transfer(dir, name); err != nil {
		return err
	}
	g.sealed = append(g.sealed, g.active)
	g.active = g.newChunk()
	return nil
}

func (g *generation[L, K, V]) snapshot() (active *chunk.Chunk[L, K, V], sealed []*chunk.Chunk[L, K, V]) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active, append([]*chunk.Chunk[L, K, V](nil), g.sealed...)
}

// query resolves toggle semantics for one exact (locator, key) across every
// generation of this flavor, mirroring Chunk.Seek's per-chunk algorithm but
// applied across the active chunk's pending writes and all sealed chunks.
func (g *generation[L, K, V]) query(locator L, key K, atVersion uint64) ([]V, error) {
	target, err := keys.FromParts(locator, key)
	if err != nil {
		return nil, err
	}

	active, sealed := g.snapshot()

	type tally struct {
		value V
		count int
	}
	byKey := make(map[string]*tally)
	var order []string

	apply := func(revs []chunk.Revision[L, K, V]) error {
		for _, rev := range revs {
			if rev.Version > atVersion {
				continue
			}
			c, err := keys.FromParts(rev.Locator, rev.Key)
			if err != nil {
				return err
			}
			if !c.Equal(target) {
				continue
			}
			k := chunk.CanonicalKey(rev.Value)
			t, seen := byKey[k]
			if !seen {
				t = &tally{value: rev.Value}
				byKey[k] = t
				order = append(order, k)
			}
			if rev.Action == chunk.ActionAdd {
				t.count++
			} else {
				t.count--
			}
		}
		return nil
	}

	for _, c := range sealed {
		revs, err := c.AllRevisions()
		if err != nil {
			return nil, err
		}
		if err := apply(revs); err != nil {
			return nil, err
		}
	}
	if err := apply(active.Pending()); err != nil {
		return nil, err
	}

	sort.Strings(order)
	var out []V
	for _, k := range order {
		if byKey[k].count%2 != 0 {
			out = append(out, byKey[k].value)
		}
	}
	return out, nil
}

// KeyGroup is one (key, present values) pair scanLocator resolved under a
// shared locator.
type KeyGroup[K byteable.Byteable, V byteable.Byteable] struct {
	Key    K
	Values []V
}

// scanLocator resolves toggle semantics for every (key, value) pair that
// ever shared locator, across every generation, and groups the surviving
// (odd-count) entries by key. Used by Find, which needs to compare every
// key under a locator against an operator rather than a single exact key.
func (g *generation[L, K, V]) scanLocator(locator L, atVersion uint64) ([]KeyGroup[K, V], error) {
	locatorComposite, err := keys.FromParts(locator)
	if err != nil {
		return nil, err
	}

	active, sealed := g.snapshot()

	type cell struct {
		key   K
		value V
		count int
	}
	byTriple := make(map[string]*cell)
	var order []string

	apply := func(revs []chunk.Revision[L, K, V]) error {
		for _, rev := range revs {
			if rev.Version > atVersion {
				continue
			}
			c, err := keys.FromParts(rev.Locator)
			if err != nil {
				return err
			}
			if !c.Equal(locatorComposite) {
				continue
			}
			triple := chunk.CanonicalKey(rev.Key) + "\x00" + chunk.CanonicalKey(rev.Value)
			cl, seen := byTriple[triple]
			if !seen {
				cl = &cell{key: rev.Key, value: rev.Value}
				byTriple[triple] = cl
				order = append(order, triple)
			}
			if rev.Action == chunk.ActionAdd {
				cl.count++
			} else {
				cl.count--
			}
		}
		return nil
	}

	for _, c := range sealed {
		revs, err := c.AllRevisions()
		if err != nil {
			return nil, err
		}
		if err := apply(revs); err != nil {
			return nil, err
		}
	}
	if err := apply(active.Pending()); err != nil {
		return nil, err
	}
	sort.Strings(order)

	valuesByKey := make(map[string][]V)
	keyByStr := make(map[string]K)
	var keyOrder []string
	for _, triple := range order {
		cl := byTriple[triple]
		if cl.count%2 == 0 {
			continue
		}
		ks := chunk.CanonicalKey(cl.key)
		if _, ok := keyByStr[ks]; !ok {
			keyOrder = append(keyOrder, ks)
		}
		keyByStr[ks] = cl.key
		valuesByKey[ks] = append(valuesByKey[ks], cl.value)
	}
	sort.Strings(keyOrder)

	out := make([]KeyGroup[K, V], 0, len(keyOrder))
	for _, ks := range keyOrder {
		out = append(out, KeyGroup[K, V]{Key: keyByStr[ks], Values: valuesByKey[ks]})
	}
	return out, nil
}

func (g *generation[L, K, V]) close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.sealed {
		if err := c.Close(); err != nil {
			return kerr.New(kerr.IoError, "store.generation.close", err)
		}
	}
	return g.active.Close()
}
