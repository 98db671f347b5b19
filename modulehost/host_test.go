package modulehost_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/modulehost"
)

const counterReducerSrc = `
function step(input)
  local n = 0
  if input.state ~= nil then
    n = input.state.n
  end
  n = n + input.event.by
  return {
    version = input.version,
    state = { n = n },
    domain_events = {},
    effects = {},
  }
end
`

const echoPureSrc = `
function step(input)
  return { version = input.version, output = input.input }
end
`

const effectEmitterSrc = `
function step(input)
  return {
    version = input.version,
    state = input.state,
    domain_events = {},
    effects = {
      { kind = "timer.set", params = { delay_ms = 1000 }, cap_slot = "clock" },
    },
  }
end
`

const trappingSrc = `
function step(input)
  error("boom")
end
`

func newTestHost(t *testing.T) (*modulehost.Host, cas.Store) {
	t.Helper()
	store := cas.NewMemStore()
	h, err := modulehost.NewHost(store, 16, 2*time.Second)
	require.NoError(t, err)
	return h, store
}

func TestRunReducer_AccumulatesState(t *testing.T) {
	h, store := newTestHost(t)
	hash, err := store.PutBlob([]byte(counterReducerSrc))
	require.NoError(t, err)

	def := modulehost.ReducerModuleDef{EffectsEmitted: nil}

	out, err := h.RunReducer(hash, def, modulehost.ReducerInput{
		Version: 1,
		State:   nil,
		Event:   map[string]interface{}{"by": float64(5)},
	})
	require.NoError(t, err)
	state, ok := out.State.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5), state["n"])

	out2, err := h.RunReducer(hash, def, modulehost.ReducerInput{
		Version: 1,
		State:   state,
		Event:   map[string]interface{}{"by": float64(3)},
	})
	require.NoError(t, err)
	state2 := out2.State.(map[string]interface{})
	assert.Equal(t, float64(8), state2["n"])
}

func TestRunPure_Echo(t *testing.T) {
	h, store := newTestHost(t)
	hash, err := store.PutBlob([]byte(echoPureSrc))
	require.NoError(t, err)

	out, err := h.RunPure(hash, modulehost.PureInput{Version: 1, Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Output)
}

func TestRunReducer_UndeclaredEffectRejected(t *testing.T) {
	h, store := newTestHost(t)
	hash, err := store.PutBlob([]byte(effectEmitterSrc))
	require.NoError(t, err)

	_, err = h.RunReducer(hash, modulehost.ReducerModuleDef{EffectsEmitted: []string{"blob.put"}}, modulehost.ReducerInput{Version: 1})
	require.Error(t, err)
	var unsupported *modulehost.ErrUnsupportedEffectKind
	assert.ErrorAs(t, err, &unsupported)
}

func TestRunReducer_DeclaredEffectAllowed(t *testing.T) {
	h, store := newTestHost(t)
	hash, err := store.PutBlob([]byte(effectEmitterSrc))
	require.NoError(t, err)

	out, err := h.RunReducer(hash, modulehost.ReducerModuleDef{EffectsEmitted: []string{"timer.set"}}, modulehost.ReducerInput{Version: 1})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, "timer.set", out.Effects[0].Kind)
}

func TestRunStep_PanicBecomesModuleTrap(t *testing.T) {
	h, store := newTestHost(t)
	hash, err := store.PutBlob([]byte(trappingSrc))
	require.NoError(t, err)

	_, err = h.RunPure(hash, modulehost.PureInput{Version: 1, Input: "x"})
	require.Error(t, err)
	var trap *modulehost.ModuleTrap
	assert.ErrorAs(t, err, &trap)
}

// countingStore counts GetBlob calls so a test can see whether the host
// went back to the store for a module's source.
type countingStore struct {
	cas.Store
	blobGets int
}

func (s *countingStore) GetBlob(hash string) ([]byte, error) {
	s.blobGets++
	return s.Store.GetBlob(hash)
}

func TestLoadProto_CacheReused(t *testing.T) {
	store := &countingStore{Store: cas.NewMemStore()}
	h, err := modulehost.NewHost(store, 16, 2*time.Second)
	require.NoError(t, err)
	hash, err := store.PutBlob([]byte(echoPureSrc))
	require.NoError(t, err)

	_, err = h.RunPure(hash, modulehost.PureInput{Version: 1, Input: "a"})
	require.NoError(t, err)
	_, err = h.RunPure(hash, modulehost.PureInput{Version: 1, Input: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.blobGets, "the second run must reuse the cached compiled module")
}
