package headermmr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwgrin/node/pkg/hash"
)

func TestAppendAndRootAtHeight(t *testing.T) {
	h, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := byte(0); i < 5; i++ {
		_, err := h.Append(hash.Sum256([]byte{i}))
		require.NoError(t, err)
	}

	rootAfterThree, err := h.RootAtHeight(2)
	require.NoError(t, err)

	expectedSize := SizeAtHeight(2)
	direct, err := h.Root(expectedSize)
	require.NoError(t, err)
	assert.Equal(t, direct, rootAfterThree)
	assert.NotEqual(t, hash.Zero, rootAfterThree)
}

func TestRootAtHeightMatchesPreviousHeaderState(t *testing.T) {
	h, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = h.Append(hash.Sum256([]byte("genesis")))
	require.NoError(t, err)

	root, err := h.RootAtHeight(0)
	require.NoError(t, err)
	assert.Equal(t, h.Size(), SizeAtHeight(0))
	direct, err := h.Root(h.Size())
	require.NoError(t, err)
	assert.Equal(t, direct, root)
}

func TestRewindTruncates(t *testing.T) {
	h, err := Open(t.TempDir())
	require.NoError(t, err)

	var lastSize uint64
	for i := byte(0); i < 4; i++ {
		pos, err := h.Append(hash.Sum256([]byte{i}))
		require.NoError(t, err)
		if i == 1 {
			lastSize = pos + 1
		}
	}

	require.NoError(t, h.Rewind(lastSize))
	assert.Equal(t, lastSize, h.Size())
}
