package keys

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/byteable"
)

// S1 — Composite inlining boundary.
func TestCompositeInliningBoundary(t *testing.T) {
	c, err := FromParts(byteable.NewText("a"), byteable.NewText("b"))
	require.NoError(t, err)

	assert.Equal(t, 10, c.Size())
	assert.NotNil(t, c.Parts())
	assert.False(t, c.IsDigest())

	b := c.Bytes()
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, b[0:4])
	assert.Equal(t, byte('a'), b[4])
}

// S2 — Composite digest fallback.
func TestCompositeDigestFallback(t *testing.T) {
	longText := byteable.NewText(strings.Repeat("x", 40))
	c, err := FromParts(longText)
	require.NoError(t, err)

	assert.Equal(t, sha256.Size, c.Size())
	assert.True(t, c.IsDigest())

	encoded, err := encodeParts([]byteable.Byteable{longText})
	require.NoError(t, err)
	want := sha256.Sum256(encoded)
	assert.Equal(t, want[:], c.Bytes())
}

// Invariant 2 — componentwise-equal parts produce equal Composites.
func TestCompositeEqualityFromEqualParts(t *testing.T) {
	a, err := FromParts(byteable.NewText("hello"), byteable.NewInt32(5))
	require.NoError(t, err)
	b, err := FromParts(byteable.NewText("hello"), byteable.NewInt32(5))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

// Invariant 3 — size bound holds for arbitrary inputs.
func TestCompositeSizeBound(t *testing.T) {
	for n := 1; n <= 8; n++ {
		parts := make([]byteable.Byteable, n)
		for i := range parts {
			parts[i] = byteable.NewText(strings.Repeat("z", i+1))
		}
		c, err := FromParts(parts...)
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Size(), MaxSize)
	}
}

func TestCompositeFromBytesDiscardsParts(t *testing.T) {
	c, err := FromParts(byteable.NewText("a"))
	require.NoError(t, err)

	loaded := FromBytes(c.Bytes())
	assert.Nil(t, loaded.Parts())
	assert.True(t, loaded.Equal(c))
}

func TestCompositeOrderingIsLexicographic(t *testing.T) {
	a, err := FromParts(byteable.NewText("a"))
	require.NoError(t, err)
	b, err := FromParts(byteable.NewText("b"))
	require.NoError(t, err)

	assert.True(t, a.Compare(b) < 0)
	assert.True(t, b.Compare(a) > 0)
}

func TestInternerReturnsCachedComposite(t *testing.T) {
	in := NewInterner()
	a, err := in.Get(byteable.NewText("k"), byteable.NewInt32(1))
	require.NoError(t, err)
	b, err := in.Get(byteable.NewText("k"), byteable.NewInt32(1))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, 1, in.Len())
}
