package cas_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/cas"
)

type point struct {
	X int `cbor:"x"`
	Y int `cbor:"y"`
}

func TestMemStore_PutGetNode(t *testing.T) {
	s := cas.NewMemStore()
	hash, err := s.PutNode(point{X: 1, Y: 2})
	require.NoError(t, err)

	var out point
	require.NoError(t, s.GetNode(hash, &out))
	assert.Equal(t, point{X: 1, Y: 2}, out)

	has, err := s.HasNode(hash)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemStore_GetNode_NotFound(t *testing.T) {
	s := cas.NewMemStore()
	var out point
	err := s.GetNode("sha256:"+"0000000000000000000000000000000000000000000000000000000000000000"[:64], &out)
	var nf *cas.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestMemStore_PutBlob_Idempotent(t *testing.T) {
	s := cas.NewMemStore()
	h1, err := s.PutBlob([]byte("hello"))
	require.NoError(t, err)
	h2, err := s.PutBlob([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	got, err := s.GetBlob(h1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestMemStore_Clone_Independent(t *testing.T) {
	s := cas.NewMemStore()
	h, err := s.PutBlob([]byte("a"))
	require.NoError(t, err)

	clone := s.Clone()
	hb, err := clone.PutBlob([]byte("b"))
	require.NoError(t, err)

	has, err := s.HasBlob(h)
	require.NoError(t, err)
	assert.True(t, has)

	hasB, err := s.HasBlob(hb)
	require.NoError(t, err)
	assert.False(t, hasB)

	_, err = s.GetBlob("sha256:nonexistent0000000000000000000000000000000000000000000000000")
	assert.Error(t, err)
}

func TestBoltStore_PutGetNode(t *testing.T) {
	dir := t.TempDir()
	s, err := cas.OpenBoltStore(filepath.Join(dir, "cas.db"))
	require.NoError(t, err)
	defer s.Close()

	hash, err := s.PutNode(point{X: 3, Y: 4})
	require.NoError(t, err)

	var out point
	require.NoError(t, s.GetNode(hash, &out))
	assert.Equal(t, point{X: 3, Y: 4}, out)
}

func TestBoltStore_PutBlob_CreateExclusive(t *testing.T) {
	dir := t.TempDir()
	s, err := cas.OpenBoltStore(filepath.Join(dir, "cas.db"))
	require.NoError(t, err)
	defer s.Close()

	h1, err := s.PutBlob([]byte("same content"))
	require.NoError(t, err)
	h2, err := s.PutBlob([]byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
