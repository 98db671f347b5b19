package cellindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/cellindex"
)

func TestPutGet(t *testing.T) {
	store := cas.NewMemStore()
	idx := cellindex.New(store)

	root, err := idx.Put("", "ws1", []byte("k1"), cellindex.Meta{StateHash: "sha256:a", Size: 10, LastActive: 100})
	require.NoError(t, err)

	meta, err := idx.Get(root, "ws1", []byte("k1"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "sha256:a", meta.StateHash)
}

func TestRootHash_OrderIndependent(t *testing.T) {
	store := cas.NewMemStore()
	idx := cellindex.New(store)

	rootA, err := idx.Put("", "ws", []byte("a"), cellindex.Meta{StateHash: "sha256:1", Size: 1, LastActive: 1})
	require.NoError(t, err)
	rootA, err = idx.Put(rootA, "ws", []byte("b"), cellindex.Meta{StateHash: "sha256:2", Size: 2, LastActive: 2})
	require.NoError(t, err)

	rootB, err := idx.Put("", "ws", []byte("b"), cellindex.Meta{StateHash: "sha256:2", Size: 2, LastActive: 2})
	require.NoError(t, err)
	rootB, err = idx.Put(rootB, "ws", []byte("a"), cellindex.Meta{StateHash: "sha256:1", Size: 1, LastActive: 1})
	require.NoError(t, err)

	assert.Equal(t, rootA, rootB, "equal {key->meta} contents must hash equal regardless of insertion order")
}

func TestIter_Ordered(t *testing.T) {
	store := cas.NewMemStore()
	idx := cellindex.New(store)

	root, err := idx.Put("", "ws", []byte("z"), cellindex.Meta{StateHash: "sha256:z"})
	require.NoError(t, err)
	root, err = idx.Put(root, "ws", []byte("a"), cellindex.Meta{StateHash: "sha256:a"})
	require.NoError(t, err)

	cells, err := idx.Iter(root)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, []byte("a"), cells[0].Key)
	assert.Equal(t, []byte("z"), cells[1].Key)
}

func TestPut_ReplacesExisting(t *testing.T) {
	store := cas.NewMemStore()
	idx := cellindex.New(store)

	root, err := idx.Put("", "ws", []byte("k"), cellindex.Meta{StateHash: "sha256:1"})
	require.NoError(t, err)
	root, err = idx.Put(root, "ws", []byte("k"), cellindex.Meta{StateHash: "sha256:2"})
	require.NoError(t, err)

	cells, err := idx.Iter(root)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "sha256:2", cells[0].Meta.StateHash)
}
