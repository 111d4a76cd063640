package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeAppendAndRoot(t *testing.T) {
	tree := NewTree(4, 0)
	require.Equal(t, uint64(16), tree.Capacity())

	emptyRoot := tree.Root()
	require.NotEmpty(t, emptyRoot)

	index, err := tree.Append([]byte("leaf one"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), index)
	require.NotEqual(t, emptyRoot, tree.Root())

	index, err = tree.Append([]byte("leaf two"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
}

func TestTreeDeterministicRoots(t *testing.T) {
	a := NewTree(4, 0)
	b := NewTree(4, 0)
	require.Equal(t, a.Root(), b.Root())

	for _, leaf := range [][]byte{[]byte("x"), []byte("y"), []byte("z")} {
		_, err := a.Append(leaf)
		require.NoError(t, err)
		_, err = b.Append(leaf)
		require.NoError(t, err)
	}
	require.Equal(t, a.Root(), b.Root())
}

func TestTreePathVerifies(t *testing.T) {
	tree := NewTree(4, 0)
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	for _, leaf := range leaves {
		_, err := tree.Append(leaf)
		require.NoError(t, err)
	}

	for i, leaf := range leaves {
		path, err := tree.Path(uint64(i))
		require.NoError(t, err)
		require.Len(t, path, 4)
		require.True(t, VerifyPath(leaf, uint64(i), path, tree.Root()),
			"path for leaf %d does not verify", i)
	}

	// A path against the wrong leaf must not verify
	path, err := tree.Path(0)
	require.NoError(t, err)
	require.False(t, VerifyPath([]byte("b"), 0, path, tree.Root()))

	_, err = tree.Path(uint64(len(leaves)))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTreeCapacity(t *testing.T) {
	tree := NewTree(2, 0)
	for i := 0; i < 4; i++ {
		_, err := tree.Append([]byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := tree.Append([]byte("overflow"))
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTreeRootWindow(t *testing.T) {
	tree := NewTree(8, 4)
	roots := [][]byte{tree.Root()}
	for i := 0; i < 6; i++ {
		_, err := tree.Append([]byte{byte(i)})
		require.NoError(t, err)
		roots = append(roots, tree.Root())
	}

	// 7 roots seen, window of 4: the oldest three are evicted
	for i, root := range roots {
		if i < 3 {
			require.False(t, tree.IsKnownRoot(root), "root %d should be evicted", i)
		} else {
			require.True(t, tree.IsKnownRoot(root), "root %d should be retained", i)
		}
	}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := NewTree(4, 0)
	for i := 0; i < 3; i++ {
		_, err := tree.Append([]byte{byte(i + 1)})
		require.NoError(t, err)
	}

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var loaded Tree
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, tree.Root(), loaded.Root())
	require.Equal(t, tree.NextIndex, loaded.NextIndex)

	// The restored tree keeps appending consistently
	_, err = tree.Append([]byte("next"))
	require.NoError(t, err)
	_, err = loaded.Append([]byte("next"))
	require.NoError(t, err)
	require.Equal(t, tree.Root(), loaded.Root())
}
