package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/internal/testutil"
	"github.com/chronostore/kernel/kconfig"
)

func TestOpenCloseRoundTripsThroughStore(t *testing.T) {
	inst, err := Open(t.TempDir(), WithConfig(testutil.Config()))
	require.NoError(t, err)

	rec := byteable.Identifier(1)
	require.NoError(t, inst.Store().Add("name", byteable.NewString("ada"), rec))

	values, err := inst.Store().Select("name", rec, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.True(t, values[0].Equal(byteable.NewString("ada")))

	require.NoError(t, inst.Close())
}

func TestInstancesDoNotShareInternerOrRegistry(t *testing.T) {
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	b, err := Open(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Interner().Get(byteable.NewText("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Interner().Len())
	assert.Equal(t, 0, b.Interner().Len())
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestOpenFallsBackToDefaultConfigWhenFileMissing(t *testing.T) {
	inst, err := Open(t.TempDir(), WithConfigFile("/nonexistent/kernel.yaml"))
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, kconfig.Default().BloomFalsePositiveRate, inst.Config().BloomFalsePositiveRate)
}
