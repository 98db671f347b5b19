package ccbor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/ccbor"
)

func TestHashValue_Deterministic(t *testing.T) {
	type rec struct {
		B int    `cbor:"b"`
		A string `cbor:"a"`
	}

	h1, b1, err := ccbor.HashValue(rec{A: "x", B: 1})
	require.NoError(t, err)
	h2, b2, err := ccbor.HashValue(rec{A: "x", B: 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, b1, b2)
	assert.True(t, ccbor.ValidHash(h1))
}

func TestHashValue_MapKeysSorted(t *testing.T) {
	m1 := map[string]int{"z": 1, "a": 2, "m": 3}
	m2 := map[string]int{"m": 3, "z": 1, "a": 2}

	h1, _, err := ccbor.HashValue(m1)
	require.NoError(t, err)
	h2, _, err := ccbor.HashValue(m2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "equal map contents must hash equal regardless of insertion order")
}

func TestRoundTrip(t *testing.T) {
	type payload struct {
		Name string `cbor:"name"`
		N    int    `cbor:"n"`
	}
	in := payload{Name: "hello", N: 42}

	b, err := ccbor.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, ccbor.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestValidHash(t *testing.T) {
	h, _, err := ccbor.HashValue("x")
	require.NoError(t, err)
	assert.True(t, ccbor.ValidHash(h))
	assert.False(t, ccbor.ValidHash("sha256:nothex"))
	assert.False(t, ccbor.ValidHash("md5:abc"))
}
