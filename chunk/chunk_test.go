package chunk

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/klog"
)

func newTestTableChunk(t *testing.T) *TableChunk {
	t.Helper()
	cfg := kconfig.Default()
	return NewTableChunk(byteable.NewRegistry(), cfg, klog.NewNop(), 100)
}

// S3 — Table chunk round-trip.
func TestTableChunkRoundTripToggleSemantics(t *testing.T) {
	c := newTestTableChunk(t)
	rec := byteable.Identifier(1)
	field := byteable.NewText("age")

	require.NoError(t, c.Insert(rec, field, byteable.NewInt32(30), 0, ActionAdd))
	require.NoError(t, c.Insert(rec, field, byteable.NewInt32(30), 1, ActionRemove))
	require.NoError(t, c.Insert(rec, field, byteable.NewInt32(31), 2, ActionAdd))

	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "t0"))

	at2, err := c.Seek(rec, field, 2)
	require.NoError(t, err)
	require.Len(t, at2, 1)
	assert.True(t, at2[0].Equal(byteable.NewInt32(31)))

	at1, err := c.Seek(rec, field, 1)
	require.NoError(t, err)
	assert.Empty(t, at1)

	at0, err := c.Seek(rec, field, 0)
	require.NoError(t, err)
	require.Len(t, at0, 1)
	assert.True(t, at0[0].Equal(byteable.NewInt32(30)))
}

// S4 — Bloom negative skip: a chunk containing only record 1 must report
// no match for record 99 without the Manifest being consulted (guaranteed
// here structurally: no entry for record 99 exists, and the bloom check
// happens first).
func TestChunkBloomSkipsAbsentLocator(t *testing.T) {
	c := newTestTableChunk(t)
	rec := byteable.Identifier(1)
	field := byteable.NewText("age")
	require.NoError(t, c.Insert(rec, field, byteable.NewInt32(30), 0, ActionAdd))

	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "t0"))

	absent := byteable.Identifier(99)
	got, err := c.Seek(absent, field, 10)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, _, ok := c.Manifest().Lookup(mustFromParts(t, absent, field))
	assert.False(t, ok)
}

func mustFromParts(t *testing.T, rec byteable.Identifier, field byteable.Text) keys.Composite {
	t.Helper()
	c, err := keys.FromParts(rec, field)
	require.NoError(t, err)
	return c
}

// Invariant 6 — chunk sort order.
func TestChunkSortOrderAfterSeal(t *testing.T) {
	c := newTestTableChunk(t)
	rec2 := byteable.Identifier(2)
	rec1 := byteable.Identifier(1)
	fieldB := byteable.NewText("b")
	fieldA := byteable.NewText("a")

	require.NoError(t, c.Insert(rec2, fieldA, byteable.NewInt32(1), 0, ActionAdd))
	require.NoError(t, c.Insert(rec1, fieldB, byteable.NewInt32(2), 1, ActionAdd))
	require.NoError(t, c.Insert(rec1, fieldA, byteable.NewInt32(3), 2, ActionAdd))

	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "sorted"))

	revs, err := c.AllRevisions()
	require.NoError(t, err)
	require.Len(t, revs, 3)

	// rec1 < rec2 (8-byte big-endian identifiers), and within rec1, "a" < "b".
	assert.Equal(t, byteable.Identifier(1), revs[0].Locator)
	assert.True(t, revs[0].Key.Equal(fieldA))
	assert.Equal(t, byteable.Identifier(1), revs[1].Locator)
	assert.True(t, revs[1].Key.Equal(fieldB))
	assert.Equal(t, byteable.Identifier(2), revs[2].Locator)
}

// Invariant 6, restated as an exact-sequence check: the sealed on-disk
// order must match the expected (locator, key) sequence exactly, not just
// satisfy pairwise less-than comparisons.
func TestChunkSortOrderExactSequence(t *testing.T) {
	c := newTestTableChunk(t)
	rec2 := byteable.Identifier(2)
	rec1 := byteable.Identifier(1)
	fieldB := byteable.NewText("b")
	fieldA := byteable.NewText("a")

	require.NoError(t, c.Insert(rec2, fieldA, byteable.NewInt32(1), 0, ActionAdd))
	require.NoError(t, c.Insert(rec1, fieldB, byteable.NewInt32(2), 1, ActionAdd))
	require.NoError(t, c.Insert(rec1, fieldA, byteable.NewInt32(3), 2, ActionAdd))

	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "sorted-exact"))

	revs, err := c.AllRevisions()
	require.NoError(t, err)

	type summary struct {
		Rec   byteable.Identifier
		Field string
	}
	got := make([]summary, len(revs))
	for i, r := range revs {
		got[i] = summary{Rec: r.Locator, Field: r.Key.String()}
	}
	want := []summary{
		{Rec: rec1, Field: "a"},
		{Rec: rec1, Field: "b"},
		{Rec: rec2, Field: "a"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sealed sequence mismatch (-want +got):\n%s", diff)
	}
}

// Invariant 5 — manifest coverage: every revision's offset lies within its
// (locator, key) manifest entry's range.
func TestManifestCoversEveryRevision(t *testing.T) {
	c := newTestTableChunk(t)
	rec := byteable.Identifier(1)
	for i := int32(0); i < 5; i++ {
		require.NoError(t, c.Insert(rec, byteable.NewText("f"), byteable.NewInt32(i), uint64(i), ActionAdd))
	}
	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "cov"))

	start, end, ok := c.Manifest().Lookup(mustFromParts(t, rec, byteable.NewText("f")))
	require.True(t, ok)
	assert.Less(t, start, end)

	revs, err := c.AllRevisions()
	require.NoError(t, err)
	assert.Len(t, revs, 5)

	off := uint64(0)
	for _, r := range revs {
		assert.GreaterOrEqual(t, off, start)
		assert.Less(t, off, end)
		off += uint64(r.size())
	}
}

// Supplemented feature: Manifest CAS retry. A sibling chunk.chunk/.manifest
// pair already on disk under the target name is a publish collision; Transfer
// retries with backoff rather than clobbering it, and succeeds once the
// collision clears.
func TestTransferRetriesOnManifestCollisionThenSucceeds(t *testing.T) {
	c := newTestTableChunk(t)
	require.NoError(t, c.Insert(byteable.Identifier(1), byteable.NewText("f"), byteable.NewInt32(1), 0, ActionAdd))

	dir := t.TempDir()
	chunkPath := dir + "/cas.chunk"
	manifestPath := dir + "/cas.manifest"
	require.NoError(t, os.WriteFile(chunkPath, []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(manifestPath, []byte("stale"), 0o644))

	go func() {
		time.Sleep(15 * time.Millisecond)
		os.Remove(chunkPath)
		os.Remove(manifestPath)
	}()

	require.NoError(t, c.Transfer(dir, "cas"))
}

// Persistent collision (never clears) exhausts the retry budget and fails.
func TestTransferFailsOnPersistentManifestCollision(t *testing.T) {
	c := newTestTableChunk(t)
	require.NoError(t, c.Insert(byteable.Identifier(1), byteable.NewText("f"), byteable.NewInt32(1), 0, ActionAdd))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/cas.chunk", []byte("stale"), 0o644))

	err := c.Transfer(dir, "cas")
	assert.Error(t, err)
}

func TestInsertAfterSealFails(t *testing.T) {
	c := newTestTableChunk(t)
	dir := t.TempDir()
	require.NoError(t, c.Transfer(dir, "empty"))

	err := c.Insert(byteable.Identifier(1), byteable.NewText("f"), byteable.NewInt32(1), 0, ActionAdd)
	assert.Error(t, err)
}
