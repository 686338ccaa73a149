package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPebbleCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c, err := OpenPebbleCache(dir)
	require.NoError(t, err)

	_, err = c.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set("s1:tree", "a"))
	require.NoError(t, c.Set("s1:messages", "b"))
	require.NoError(t, c.Set("s2:tree", "c"))

	v, err := c.Get("s1:tree")
	require.NoError(t, err)
	require.Equal(t, "a", v)

	keys, err := c.Keys("s1:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1:tree", "s1:messages"}, keys)

	require.NoError(t, c.Delete("s1:tree"))
	_, err = c.Get("s1:tree")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, c.Close())

	// data survives a reopen
	c, err = OpenPebbleCache(dir)
	require.NoError(t, err)
	defer c.Close()
	v, err = c.Get("s2:tree")
	require.NoError(t, err)
	require.Equal(t, "c", v)
}

func TestPebbleCache_Adapter(t *testing.T) {
	c, err := OpenPebbleCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	a := NewAdapter(c, "s1")
	require.NoError(t, a.Snapshot(sampleTree()))
	tree, err := a.Load()
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
}
