// Package governance implements AgentOS's propose→shadow→approve→apply
// manifest evolution flow. Proposal bookkeeping follows the usual
// mutex-guarded, ID-keyed state tracking pattern, generalised here to a
// four-stage governance state machine.
package governance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
)

// Stage is a proposal's position in the governance state machine.
type Stage string

const (
	StageSubmitted Stage = "submitted"
	StageShadowed  Stage = "shadowed"
	StageApproved  Stage = "approved"
	StageRejected  Stage = "rejected"
	StageApplied   Stage = "applied"
)

// ManifestPatch is a governance proposal's payload: the candidate
// manifest plus any newly introduced def nodes it references.
type ManifestPatch struct {
	Manifest interface{}   `cbor:"manifest"`
	Nodes    []interface{} `cbor:"nodes"`
}

// ShadowSummary is the outcome of running a patch against a forked,
// read-only kernel.
type ShadowSummary struct {
	ManifestHash           string                 `cbor:"manifest_hash"`
	PredictedEffects       []interface{}          `cbor:"predicted_effects"`
	PendingWorkflowReceipts []interface{}         `cbor:"pending_workflow_receipts"`
	ModuleEffectAllowlists map[string][]string    `cbor:"module_effect_allowlists"`
	LedgerDeltas           map[string]interface{} `cbor:"ledger_deltas"`
}

// Proposal is one governance proposal's full bookkeeping record.
type Proposal struct {
	ID          string
	PatchHash   string
	Patch       ManifestPatch
	Description string
	Stage       Stage
	SubmittedAt time.Time

	Shadow   *ShadowSummary
	Approver string
	Decision bool

	AppliedManifestHash string
}

// Applier is the kernel-side seam governance calls at Apply time: it owns
// the atomic manifest/module-registry/plan-registry/policy-table swap and
// reports the new manifest hash plus the grant names that survived
// (name+cap_type unchanged) for ledger counter preservation.
type Applier interface {
	Apply(patch ManifestPatch) (manifestHash string, survivingGrantNames []string, err error)
}

// Manager tracks proposals through submit/shadow/approve/apply.
type Manager struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	journal   journal.Journal
	nextSeq   int
}

// New builds a Manager journaling governance records to j.
func New(j journal.Journal) *Manager {
	return &Manager{proposals: map[string]*Proposal{}, journal: j}
}

// CanonicalizePatch normalises a patch's ref lists into a deterministic
// order so that two semantically equal patches yield the same patch_hash.
// Sugar/dangling-ref normalisation belongs to the manifest/schema layer
// that constructs Nodes; this function's job is strictly the ordering
// guarantee.
func CanonicalizePatch(patch ManifestPatch) (ManifestPatch, string, error) {
	nodes := append([]interface{}(nil), patch.Nodes...)
	nodeHashes := make([]string, len(nodes))
	for i, n := range nodes {
		h, _, err := ccbor.HashValue(n)
		if err != nil {
			return patch, "", aoserr.Wrap(aoserr.KindManifest, "hash patch node", err)
		}
		nodeHashes[i] = h
	}
	sort.Slice(nodes, func(i, j int) bool { return nodeHashes[i] < nodeHashes[j] })

	canonical := ManifestPatch{Manifest: patch.Manifest, Nodes: nodes}
	patchHash, _, err := ccbor.HashValue(canonical)
	if err != nil {
		return patch, "", aoserr.Wrap(aoserr.KindManifest, "hash canonical patch", err)
	}
	return canonical, patchHash, nil
}

// Submit canonicalises the patch, journals ProposalSubmitted, and returns
// the new proposal's bookkeeping record.
func (m *Manager) Submit(patch ManifestPatch, description string) (*Proposal, error) {
	canonical, patchHash, err := CanonicalizePatch(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	id := fmt.Sprintf("proposal-%06d", m.nextSeq)

	p := &Proposal{
		ID: id, PatchHash: patchHash, Patch: canonical,
		Description: description, Stage: StageSubmitted, SubmittedAt: time.Now(),
	}
	if _, err := m.journal.Append(journal.KindGovernanceRecord, map[string]interface{}{
		"subkind": journal.GovProposalSubmitted, "proposal_id": id,
		"patch_hash": patchHash, "description": description,
	}); err != nil {
		return nil, aoserr.Wrap(aoserr.KindJournal, "journal proposal submitted", err)
	}
	m.proposals[id] = p
	return p, nil
}

// RecordShadow attaches a shadow-run summary to a submitted proposal and
// advances it to Shadowed. The caller is responsible for actually
// running the fork; this only records the outcome.
func (m *Manager) RecordShadow(proposalID string, summary ShadowSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return aoserr.New(aoserr.KindManifest, "governance: unknown proposal "+proposalID)
	}
	p.Shadow = &summary
	p.Stage = StageShadowed
	if _, err := m.journal.Append(journal.KindGovernanceRecord, map[string]interface{}{
		"subkind": journal.GovShadowRunCompleted, "proposal_id": proposalID, "summary": summary,
	}); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, "journal shadow run completed", err)
	}
	return nil
}

// Approve journals an approval decision. It is idempotent per proposal:
// a second call with the same decision is a no-op; a second call with a
// different decision is rejected, since a decision once journaled is
// final.
func (m *Manager) Approve(proposalID, approver string, decision bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return aoserr.New(aoserr.KindManifest, "governance: unknown proposal "+proposalID)
	}
	if p.Stage == StageApproved || p.Stage == StageRejected {
		if p.Decision == decision {
			return nil
		}
		return aoserr.New(aoserr.KindManifest, "governance: proposal "+proposalID+" already decided")
	}

	p.Approver = approver
	p.Decision = decision
	if decision {
		p.Stage = StageApproved
	} else {
		p.Stage = StageRejected
	}
	if _, err := m.journal.Append(journal.KindGovernanceRecord, map[string]interface{}{
		"subkind": journal.GovProposalApproved, "proposal_id": proposalID,
		"approver": approver, "decision": decision,
	}); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, "journal proposal approved", err)
	}
	return nil
}

// Apply performs the atomic manifest swap via applier, preserves budget
// ledger counters for surviving grants, and journals ManifestApplied.
// The apply boundary is a safe point: callers must only invoke this
// between ticks, never mid-plan-step.
func (m *Manager) Apply(proposalID string, applier Applier, ledger *effects.BudgetLedger) (string, error) {
	m.mu.Lock()
	p, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return "", aoserr.New(aoserr.KindManifest, "governance: unknown proposal "+proposalID)
	}
	if p.Stage != StageApproved {
		m.mu.Unlock()
		return "", aoserr.New(aoserr.KindManifest, "governance: proposal "+proposalID+" is not approved")
	}
	m.mu.Unlock()

	var preDump map[string]effects.LedgerEntrySnapshot
	if ledger != nil {
		preDump = ledger.Dump()
	}

	manifestHash, survivingGrants, err := applier.Apply(p.Patch)
	if err != nil {
		return "", err
	}

	if ledger != nil {
		old := effects.NewBudgetLedger()
		old.LoadDump(preDump)
		ledger.PreserveCounters(old, survivingGrants)
	}

	m.mu.Lock()
	p.Stage = StageApplied
	p.AppliedManifestHash = manifestHash
	m.mu.Unlock()

	if _, err := m.journal.Append(journal.KindGovernanceRecord, map[string]interface{}{
		"subkind": journal.GovManifestApplied, "proposal_id": proposalID, "manifest_hash": manifestHash,
	}); err != nil {
		return "", aoserr.Wrap(aoserr.KindJournal, "journal manifest applied", err)
	}
	return manifestHash, nil
}

// Get returns a proposal's current bookkeeping record, or nil if unknown.
func (m *Manager) Get(proposalID string) *Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}
