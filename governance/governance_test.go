package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/governance"
	"github.com/smartcomputer-ai/agentos/journal"
)

func TestCanonicalizePatch_OrderIndependent(t *testing.T) {
	a := governance.ManifestPatch{Manifest: "m", Nodes: []interface{}{"x", "y", "z"}}
	b := governance.ManifestPatch{Manifest: "m", Nodes: []interface{}{"z", "x", "y"}}

	_, hashA, err := governance.CanonicalizePatch(a)
	require.NoError(t, err)
	_, hashB, err := governance.CanonicalizePatch(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

type fakeApplier struct {
	hash     string
	surviving []string
	err      error
}

func (f *fakeApplier) Apply(p governance.ManifestPatch) (string, []string, error) {
	return f.hash, f.surviving, f.err
}

func TestProposal_FullLifecycle(t *testing.T) {
	j := journal.NewMemJournal()
	m := governance.New(j)

	p, err := m.Submit(governance.ManifestPatch{Manifest: "v2"}, "bump timeout")
	require.NoError(t, err)
	assert.Equal(t, governance.StageSubmitted, p.Stage)

	require.NoError(t, m.RecordShadow(p.ID, governance.ShadowSummary{ManifestHash: "h2"}))
	assert.Equal(t, governance.StageShadowed, m.Get(p.ID).Stage)

	require.NoError(t, m.Approve(p.ID, "alice", true))
	assert.Equal(t, governance.StageApproved, m.Get(p.ID).Stage)

	// Idempotent re-approval with the same decision is a no-op.
	require.NoError(t, m.Approve(p.ID, "alice", true))

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("g1", map[string]uint64{"tokens": 100})
	require.NoError(t, ledger.Reserve("g1", map[string]uint64{"tokens": 10}))

	applier := &fakeApplier{hash: "h2", surviving: []string{"g1"}}
	hash, err := m.Apply(p.ID, applier, ledger)
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
	assert.Equal(t, governance.StageApplied, m.Get(p.ID).Stage)

	// g1's reservation must have survived the (no-op, same-hash) apply.
	assert.Equal(t, uint64(10), ledger.Dump()["g1"].Reserved["tokens"])
}

func TestApprove_ConflictingDecisionRejected(t *testing.T) {
	j := journal.NewMemJournal()
	m := governance.New(j)
	p, err := m.Submit(governance.ManifestPatch{Manifest: "v2"}, "")
	require.NoError(t, err)

	require.NoError(t, m.Approve(p.ID, "alice", true))
	err = m.Approve(p.ID, "bob", false)
	require.Error(t, err)
}
