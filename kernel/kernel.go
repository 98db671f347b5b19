// Package kernel is AgentOS's façade: it wires the CAS store, journal,
// cell index, effect manager, module host, plan engine/registry, and
// scheduler world into one deterministic instance, and exposes the query
// surface (`get_reducer_state`, `list_cells`, `get_journal_head`,
// `get_manifest`, `submit_proposal`, `run_shadow`, `approve_proposal`,
// `apply_proposal`, `create_snapshot`, `tick`) as a single owning struct
// fronting several collaborators behind a small method set.
package kernel

import (
	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/governance"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
	"github.com/smartcomputer-ai/agentos/scheduler"
	snap "github.com/smartcomputer-ai/agentos/snapshot"
)

// ApplyFunc performs the kernel-specific half of a governance apply: it
// rebuilds whatever manifest-derived tables (reducer bindings, plan
// registry, effect/cap tables) the patch implies, installs them on the
// kernel, and reports the new manifest hash plus the grant names that
// survived unchanged. Supplied by the caller that knows how to parse a
// ManifestPatch into concrete bindings — the kernel package itself is
// agnostic to manifest source format.
type ApplyFunc func(patch governance.ManifestPatch, k *Kernel) (manifestHash string, survivingGrants []string, err error)

// Kernel bundles one deterministic instance's full collaborator set.
type Kernel struct {
	Store    cas.Store
	Journal  journal.Journal
	Cells    *cellindex.Index
	Effects  *effects.Manager
	Host     *modulehost.Host
	PlanReg  *plan.Registry
	World    *scheduler.World
	Gov      *governance.Manager
	Dispatch scheduler.AdapterDispatcher

	manifestHash string
	apply        ApplyFunc
}

// Config bundles the collaborators needed to build a Kernel. Assembling
// these from an on-disk manifest is `cmd/aos`'s concern, not this
// package's — Kernel takes already-constructed collaborators so it stays
// usable both from the CLI's real bootstrap path and from tests/examples
// that build a manifest in-process.
type Config struct {
	Store        cas.Store
	Journal      journal.Journal
	Cells        *cellindex.Index
	Effects      *effects.Manager
	Host         *modulehost.Host
	PlanReg      *plan.Registry
	Dispatch     scheduler.AdapterDispatcher
	ManifestHash string
	Apply        ApplyFunc
}

// New builds a Kernel over cfg's collaborators, constructing its
// scheduler World.
func New(cfg Config) (*Kernel, error) {
	w, err := scheduler.NewWorld(cfg.Journal, cfg.Cells, cfg.Effects, cfg.Host, cfg.PlanReg, cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	return &Kernel{
		Store: cfg.Store, Journal: cfg.Journal, Cells: cfg.Cells,
		Effects: cfg.Effects, Host: cfg.Host, PlanReg: cfg.PlanReg,
		World: w, Gov: governance.New(cfg.Journal), Dispatch: cfg.Dispatch,
		manifestHash: cfg.ManifestHash, apply: cfg.Apply,
	}, nil
}

// Tick runs one scheduler cycle.
func (k *Kernel) Tick(nowNS int64) (quiescent bool, err error) { return k.World.Tick(nowNS) }

// TickUntilIdle repeats Tick to a safety bound.
func (k *Kernel) TickUntilIdle(nowNS int64, safetyBound int) (bool, int, error) {
	return k.World.TickUntilIdle(nowNS, safetyBound)
}

// SubmitEvent enqueues an externally observed domain event.
func (k *Kernel) SubmitEvent(schema string, payload interface{}) { k.World.SubmitEvent(schema, payload) }

// GetReducerState implements get_reducer_state(name, key?).
func (k *Kernel) GetReducerState(name, key string) (interface{}, bool) {
	return k.World.GetReducerState(name, key)
}

// ListCells implements list_cells(workspace).
func (k *Kernel) ListCells(workspace string) ([]cellindex.CellRef, error) {
	all, err := k.Cells.Iter(k.World.CellsRoot())
	if err != nil {
		return nil, err
	}
	out := make([]cellindex.CellRef, 0, len(all))
	for _, c := range all {
		if c.Workspace == workspace {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetJournalHead implements get_journal_head().
func (k *Kernel) GetJournalHead() uint64 { return k.Journal.NextSeq() }

// GetManifest implements get_manifest(consistency). The consistency
// parameter (as-of-snapshot vs. live) is a caller concern at a layer
// above this façade; this always returns the live hash.
func (k *Kernel) GetManifest() string { return k.manifestHash }

// SubmitProposal implements submit_proposal.
func (k *Kernel) SubmitProposal(patch governance.ManifestPatch, description string) (*governance.Proposal, error) {
	return k.Gov.Submit(patch, description)
}

// RunShadow implements run_shadow by recording a shadow-run summary; it
// does not fork or run a kernel itself. The summary is whatever the caller
// computed, for instance by constructing its own scratch Kernel over a
// forked Store, so the isolation mechanism is a caller concern while the
// bookkeeping lives here.
func (k *Kernel) RunShadow(proposalID string, summary governance.ShadowSummary) error {
	return k.Gov.RecordShadow(proposalID, summary)
}

// ApproveProposal implements approve_proposal.
func (k *Kernel) ApproveProposal(proposalID, approver string, decision bool) error {
	return k.Gov.Approve(proposalID, approver, decision)
}

// ApplyProposal implements apply_proposal, delegating the manifest-specific
// half of the swap to the configured ApplyFunc.
func (k *Kernel) ApplyProposal(proposalID string) (string, error) {
	if k.apply == nil {
		return "", aoserr.New(aoserr.KindManifest, "kernel: no ApplyFunc configured")
	}
	hash, err := k.Gov.Apply(proposalID, applierAdapter{k: k}, k.Effects.Ledger())
	if err != nil {
		return "", err
	}
	k.manifestHash = hash
	return hash, nil
}

// applierAdapter bridges governance.Applier to Kernel's ApplyFunc.
type applierAdapter struct{ k *Kernel }

func (a applierAdapter) Apply(patch governance.ManifestPatch) (string, []string, error) {
	return a.k.apply(patch, a.k)
}

// CreateSnapshot implements create_snapshot.
func (k *Kernel) CreateSnapshot(governanceState interface{}, pinnedRoots []string) (string, error) {
	return snap.Create(k.Store, k.Journal, k.World, k.Effects, k.manifestHash, governanceState, pinnedRoots)
}

// RestoreSnapshot rehydrates this kernel's World from a snapshot ref.
// Replaying the journal tail that follows the snapshot is the caller's
// responsibility, mirroring RunShadow's split between
// mechanism (here) and orchestration (caller).
func (k *Kernel) RestoreSnapshot(ref string) error {
	node, err := snap.Load(k.Store, ref)
	if err != nil {
		return err
	}
	if err := snap.Restore(k.Effects, k.World, node, k.PlanReg.Defs()); err != nil {
		return err
	}
	k.manifestHash = node.ManifestHash
	return nil
}
