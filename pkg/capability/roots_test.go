package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootAddReplacesSameURI(t *testing.T) {
	t.Parallel()

	store := NewRootStore()
	assert.True(t, store.Add(Root{URI: "file:///ws", Name: "A"}))
	assert.False(t, store.Add(Root{URI: "file:///ws", Name: "B"}))

	roots := store.List()
	require.Len(t, roots, 1)
	assert.Equal(t, "file:///ws", roots[0].URI)
	assert.Equal(t, "B", roots[0].Name)
}

func TestRootListKeepsInsertionOrderAcrossReplace(t *testing.T) {
	t.Parallel()

	store := NewRootStore()
	store.Add(Root{URI: "file:///a", Name: "a"})
	store.Add(Root{URI: "file:///b", Name: "b"})
	store.Add(Root{URI: "file:///a", Name: "a2"})

	roots := store.List()
	require.Len(t, roots, 2)
	assert.Equal(t, "file:///a", roots[0].URI)
	assert.Equal(t, "a2", roots[0].Name)
	assert.Equal(t, "file:///b", roots[1].URI)
}

func TestRootRemove(t *testing.T) {
	t.Parallel()

	store := NewRootStore()
	store.Add(Root{URI: "file:///ws"})
	assert.True(t, store.Remove("file:///ws"))
	assert.False(t, store.Remove("file:///ws"))
	assert.Equal(t, 0, store.Len())

	_, ok := store.Get("file:///ws")
	assert.False(t, ok)
}
