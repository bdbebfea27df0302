package store

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/internal/testutil"
	"github.com/chronostore/kernel/keys"
)

func newTestStore(t *testing.T) *Store {
	s := New(context.Background(), t.TempDir(), testutil.Config(), testutil.Logger(), byteable.NewRegistry(), keys.NewInterner())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func identifiers(ids ...byteable.Identifier) []byteable.Identifier {
	out := append([]byteable.Identifier(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// S3-style toggle semantics, exercised through the Store surface across an
// intervening Sync (seal) boundary.
func TestStoreSelectTogglesAcrossSync(t *testing.T) {
	s := newTestStore(t)
	rec := byteable.Identifier(1)

	require.NoError(t, s.Add("age", byteable.NewInt(30), rec))
	require.NoError(t, s.Remove("age", byteable.NewInt(30), rec))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Add("age", byteable.NewInt(31), rec))

	latest, err := s.Select("age", rec, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].Equal(byteable.NewInt(31)))

	mid, err := s.Select("age", rec, 1)
	require.NoError(t, err)
	assert.Empty(t, mid)

	early, err := s.Select("age", rec, 0)
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.True(t, early[0].Equal(byteable.NewInt(30)))
}

func TestStoreVerify(t *testing.T) {
	s := newTestStore(t)
	rec := byteable.Identifier(2)
	require.NoError(t, s.Add("name", byteable.NewString("ada"), rec))

	ok, err := s.Verify("name", byteable.NewString("ada"), rec, ^uint64(0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify("name", byteable.NewString("grace"), rec, ^uint64(0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreFindByOperator(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add("age", byteable.NewInt(30), byteable.Identifier(1)))
	require.NoError(t, s.Add("age", byteable.NewInt(40), byteable.Identifier(2)))
	require.NoError(t, s.Add("age", byteable.NewInt(40), byteable.Identifier(3)))

	eq, err := s.Find("age", OpEqual, byteable.NewInt(40), ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, identifiers(2, 3), eq)

	gt, err := s.Find("age", OpGreater, byteable.NewInt(30), ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, identifiers(2, 3), gt)

	le, err := s.Find("age", OpLessOrEqual, byteable.NewInt(30), ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, identifiers(1), le)
}

func TestStoreFindAfterRemoveExcludesRecord(t *testing.T) {
	s := newTestStore(t)
	rec := byteable.Identifier(5)
	require.NoError(t, s.Add("age", byteable.NewInt(40), rec))
	require.NoError(t, s.Remove("age", byteable.NewInt(40), rec))

	hits, err := s.Find("age", OpEqual, byteable.NewInt(40), ^uint64(0))
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStoreSearchAndsMultipleTerms(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add("bio", byteable.NewString("alpha beta"), byteable.Identifier(1)))
	require.NoError(t, s.Add("bio", byteable.NewString("alpha gamma"), byteable.Identifier(2)))
	s.Latch().Await(2)

	both, err := s.Search("bio", "alpha", ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, identifiers(1, 2), both)

	onlyBeta, err := s.Search("bio", "beta", ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, identifiers(1), onlyBeta)

	none, err := s.Search("bio", "alpha gamma delta", ^uint64(0))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreGatherMatchesSelectAsSet(t *testing.T) {
	s := newTestStore(t)
	rec := byteable.Identifier(9)
	require.NoError(t, s.Add("tag", byteable.NewString("x"), rec))
	require.NoError(t, s.Add("tag", byteable.NewString("y"), rec))

	selected, err := s.Select("tag", rec, ^uint64(0))
	require.NoError(t, err)
	gathered, err := s.Gather("tag", rec, ^uint64(0))
	require.NoError(t, err)

	toSet := func(vs []byteable.Value) map[string]bool {
		m := make(map[string]bool, len(vs))
		for _, v := range vs {
			b, _ := v.Text()
			m[b.String()] = true
		}
		return m
	}
	assert.Equal(t, toSet(selected), toSet(gathered))
	assert.Len(t, gathered, 2)
}

func TestStoreSyncIsIdempotentWhenNothingPending(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add("age", byteable.NewInt(1), byteable.Identifier(1)))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Sync())
}

// Index caches a (field, record) trace key in the Store's Interner on every
// string-valued write; this confirms that path is actually exercised rather
// than left dangling.
func TestStoreIndexPopulatesInterner(t *testing.T) {
	s := newTestStore(t)
	require.Equal(t, 0, s.interner.Len())

	require.NoError(t, s.Add("bio", byteable.NewString("hello"), byteable.Identifier(1)))
	assert.Equal(t, 1, s.interner.Len())

	// A non-string value has nothing to index and must not touch the Interner.
	require.NoError(t, s.Add("age", byteable.NewInt(1), byteable.Identifier(2)))
	assert.Equal(t, 1, s.interner.Len())
}
