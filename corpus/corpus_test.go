package corpus

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/chunk"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/klog"
)

func TestBruteForceDeduplicatorCorrectness(t *testing.T) {
	value := []byte("ab ab")
	d := NewBruteForceDeduplicator(value)

	assert.True(t, d.AddRange(0, 2))  // "ab" at 0: novel
	assert.True(t, d.AddRange(0, 1))  // "a" at 0: novel
	assert.True(t, d.AddRange(1, 2))  // "b" at 1: novel
	assert.False(t, d.AddRange(3, 5)) // "ab" at 3: identical run already seen at 0
}

// S5 — Corpus substring emission.
func TestExpandSubstringsDedupesRepeatedSubstring(t *testing.T) {
	value := []byte("ab ab")
	dedup := NewBruteForceDeduplicator(value)
	emissions := ExpandSubstrings(value, 2, nil, dedup)

	var ab []Emission
	for _, e := range emissions {
		if e.Substring.String() == "ab" {
			ab = append(ab, e)
		}
	}
	require.Len(t, ab, 1)
	assert.Equal(t, int32(0), ab[0].Offset)

	found := map[string]bool{}
	for _, e := range emissions {
		found[e.Substring.String()] = true
	}
	assert.True(t, found["a"])
	assert.True(t, found["b"])
	assert.True(t, found["ab"])
	assert.True(t, found[" "])
}

func TestExpandSubstringsRespectsStopwords(t *testing.T) {
	value := []byte("the cat")
	dedup := NewBruteForceDeduplicator(value)
	stopwords := map[string]struct{}{"the": {}}
	emissions := ExpandSubstrings(value, 0, stopwords, dedup)

	for _, e := range emissions {
		assert.NotEqual(t, "the", e.Substring.String())
	}
}

// Invariant 8 — corpus idempotence: indexing the same value twice with a
// fresh deduplicator each time yields the same set of distinct substrings.
func TestCorpusIdempotence(t *testing.T) {
	value := []byte("hello world")
	first := ExpandSubstrings(value, 3, nil, NewBruteForceDeduplicator(value))
	second := ExpandSubstrings(value, 3, nil, NewBruteForceDeduplicator(value))

	toSet := func(es []Emission) map[string]int32 {
		m := make(map[string]int32, len(es))
		for _, e := range es {
			m[e.Substring.String()] = e.Offset
		}
		return m
	}
	assert.Equal(t, toSet(first), toSet(second))
}

func TestHashSetDeduplicatorMatchesBruteForce(t *testing.T) {
	value := []byte("banana")
	brute := ExpandSubstrings(value, 3, nil, NewBruteForceDeduplicator(value))
	hashed := ExpandSubstrings(value, 3, nil, NewHashSetDeduplicator(64))

	toSet := func(es []Emission) map[string]bool {
		m := make(map[string]bool, len(es))
		for _, e := range es {
			m[e.Substring.String()] = true
		}
		return m
	}
	assert.Equal(t, toSet(brute), toSet(hashed))
}

func TestBTreeBloomDeduplicatorMatchesBruteForce(t *testing.T) {
	value := []byte("mississippi")
	brute := ExpandSubstrings(value, 4, nil, NewBruteForceDeduplicator(value))
	tree := ExpandSubstrings(value, 4, nil, NewBTreeBloomDeduplicator(value, 128))

	toSet := func(es []Emission) map[string]bool {
		m := make(map[string]bool, len(es))
		for _, e := range es {
			m[e.Substring.String()] = true
		}
		return m
	}
	assert.Equal(t, toSet(brute), toSet(tree))
}

// S6 — Concurrent corpus insertion: two workers inserting disjoint values
// into one CorpusChunk must produce the same sealed, sorted content as a
// single-threaded run of the same inserts.
func TestConcurrentCorpusInsertionMatchesSequential(t *testing.T) {
	runOnce := func(workers int) []chunk.Revision[byteable.Text, byteable.Text, byteable.Position] {
		cfg := kconfig.Default()
		cfg.CorpusWorkers = workers
		c := chunk.NewCorpusChunk(byteable.NewRegistry(), cfg, klog.NewNop(), 1000)
		ix := NewIndexer(cfg, klog.NewNop())
		ix.Start(context.Background())

		latch := NewCountUpLatch()
		values := []struct {
			field string
			value string
			rec   uint64
		}{
			{"bio", "alpha beta", 1},
			{"bio", "gamma delta", 2},
		}
		for i, v := range values {
			ix.Submit(Task{
				Chunk:   c,
				Field:   byteable.NewText(v.field),
				Value:   []byte(v.value),
				Record:  byteable.Identifier(v.rec),
				Version: uint64(i),
				Action:  chunk.ActionAdd,
				Latch:   latch,
			})
		}
		latch.Await(len(values))
		require.NoError(t, ix.Stop())

		dir := t.TempDir()
		require.NoError(t, c.Transfer(dir, "corpus"))
		revs, err := c.AllRevisions()
		require.NoError(t, err)
		return revs
	}

	a := runOnce(2)
	b := runOnce(1)

	sortKey := func(revs []chunk.Revision[byteable.Text, byteable.Text, byteable.Position]) []string {
		keys := make([]string, len(revs))
		for i, r := range revs {
			keys[i] = r.Locator.String() + "|" + r.Key.String()
		}
		sort.Strings(keys)
		return keys
	}
	assert.Equal(t, sortKey(a), sortKey(b))
	assert.Equal(t, len(a), len(b))
}

func TestCountUpLatchAwaitsTargetCount(t *testing.T) {
	latch := NewCountUpLatch()
	done := make(chan struct{})
	go func() {
		latch.Await(3)
		close(done)
	}()

	latch.Increment()
	latch.Increment()
	select {
	case <-done:
		t.Fatal("latch released before reaching target count")
	default:
	}
	latch.Increment()
	<-done
}
