// Package snapshot implements AgentOS's snapshot/restore machinery:
// capturing the kernel's full state as a single content-addressed node,
// and rehydrating a World from a snapshot plus the journal tail that
// followed it. A snapshot-plus-replay rehydration is indistinguishable
// from a full replay from genesis.
package snapshot

import (
	"sort"

	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/plan"
	"github.com/smartcomputer-ai/agentos/scheduler"
)

// ReducerStateEntry is one reducer's decoded-state roster entry:
// `(name, state_hash)`. Because this implementation keeps one shared
// cell index across all reducers rather than a per-reducer index root,
// a reducer_index_roots list collapses to the single CellsRoot field
// below; a reducer's per-key cell metadata is always reachable by
// walking that one root.
type ReducerStateEntry struct {
	Name      string `cbor:"name"`
	StateHash string `cbor:"state_hash"`
}

// PlanInstanceEntry is one plan instance as captured in a snapshot.
type PlanInstanceEntry struct {
	ID      string                          `cbor:"id"`
	DefName string                          `cbor:"def_name"`
	Vars    map[string]interface{}          `cbor:"vars"`
	Input   interface{}                     `cbor:"input"`
	Steps   map[string]*plan.StepState      `cbor:"steps"`
	Ended   bool                            `cbor:"ended"`
	Failed  bool                            `cbor:"failed"`
	Outcome interface{}                     `cbor:"outcome"`
	ErrorText string                        `cbor:"error_text"`
}

// TimerEntry is one in-flight internal timer.
type TimerEntry struct {
	IntentHash string `cbor:"intent_hash"`
	DeadlineNS int64  `cbor:"deadline_ns"`
}

// Node is the CAS-stored representation of a kernel snapshot.
type Node struct {
	ManifestHash        string                          `cbor:"manifest_hash"`
	JournalHeight        uint64                          `cbor:"journal_height"`
	ReducerStates        []ReducerStateEntry             `cbor:"reducer_states"`
	CellsRoot            string                          `cbor:"cells_root"`
	PlanInstances         []PlanInstanceEntry             `cbor:"plan_instances"`
	PlanOrder             []string                        `cbor:"plan_order"`
	NextPlanSeq           int                             `cbor:"next_plan_seq"`
	Timers                []TimerEntry                    `cbor:"timers"`
	EffectQueue           []string                        `cbor:"effect_queue"`
	BudgetLedger          map[string]effects.LedgerEntrySnapshot `cbor:"budget_ledger"`
	GovernanceState       interface{}                     `cbor:"governance_state"`
	PinnedRoots           []string                        `cbor:"pinned_roots"`
}

// Create gathers the world's current state, canonicalises it, writes it to
// the CAS, and journals a Snapshot record pointing at it.
func Create(store cas.Store, j journal.Journal, w *scheduler.World, eff *effects.Manager, manifestHash string, governanceState interface{}, pinnedRoots []string) (string, error) {
	ws := w.CaptureState()

	reducerStates := make([]ReducerStateEntry, 0, len(ws.ReducerStates))
	for name, byKey := range ws.ReducerStates {
		state := byKey[""]
		hash, _, err := ccbor.HashValue(state)
		if err != nil {
			return "", aoserr.Wrap(aoserr.KindStore, "hash reducer state for snapshot", err)
		}
		reducerStates = append(reducerStates, ReducerStateEntry{Name: name, StateHash: hash})
	}
	sort.Slice(reducerStates, func(i, j int) bool { return reducerStates[i].Name < reducerStates[j].Name })

	planInstances := make([]PlanInstanceEntry, len(ws.PlanInstances))
	for i, pi := range ws.PlanInstances {
		planInstances[i] = PlanInstanceEntry{
			ID: pi.ID, DefName: pi.DefName, Vars: pi.Vars, Input: pi.Input,
			Steps: pi.Steps, Ended: pi.Ended, Failed: pi.Failed,
			Outcome: pi.Outcome, ErrorText: pi.ErrorText,
		}
	}

	timers := make([]TimerEntry, len(ws.Timers))
	for i, t := range ws.Timers {
		timers[i] = TimerEntry{IntentHash: t.IntentHash, DeadlineNS: t.DeadlineNS}
	}

	node := Node{
		ManifestHash:    manifestHash,
		JournalHeight:   j.NextSeq(),
		ReducerStates:   reducerStates,
		CellsRoot:       ws.CellsRoot,
		PlanInstances:   planInstances,
		PlanOrder:       ws.PlanOrder,
		NextPlanSeq:     ws.NextPlanSeq,
		Timers:          timers,
		EffectQueue:     eff.PendingIntentHashes(),
		BudgetLedger:    eff.Ledger().Dump(),
		GovernanceState: governanceState,
		PinnedRoots:     pinnedRoots,
	}

	ref, err := store.PutNode(node)
	if err != nil {
		return "", aoserr.Wrap(aoserr.KindStore, "put snapshot node", err)
	}
	if _, err := j.Append(journal.KindSnapshot, map[string]interface{}{
		"snapshot_ref":   ref,
		"journal_height": node.JournalHeight,
	}); err != nil {
		return "", aoserr.Wrap(aoserr.KindJournal, "journal snapshot record", err)
	}
	return ref, nil
}

// Load fetches a snapshot node by its CAS ref.
func Load(store cas.Store, ref string) (*Node, error) {
	var n Node
	if err := store.GetNode(ref, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Restore rehydrates w's in-memory state from a previously captured
// snapshot node (the reducer-state roster is restored as singleton
// (key="") state only; keyed-reducer state is recovered lazily from the
// cell index as each key is next touched, since full eager rehydration of
// every key's decoded state is unnecessary for correctness — only the
// shared CellsRoot needs to be exact). defs supplies the plan registry
// used to reattach each restored PlanInstance's Def pointer.
func Restore(eff *effects.Manager, w *scheduler.World, n *Node, defs map[string]*plan.Def) error {
	reducerStates := make(map[string]map[string]interface{}, len(n.ReducerStates))
	for _, entry := range n.ReducerStates {
		// The snapshot only carries a content hash; full state bodies live
		// in the cell index and are rehydrated lazily on first touch.
		reducerStates[entry.Name] = map[string]interface{}{}
	}

	instances := make([]*plan.PlanInstance, len(n.PlanInstances))
	for i, e := range n.PlanInstances {
		instances[i] = &plan.PlanInstance{
			ID: e.ID, DefName: e.DefName, Vars: e.Vars, Input: e.Input,
			Steps: e.Steps, Ended: e.Ended, Failed: e.Failed,
			Outcome: e.Outcome, ErrorText: e.ErrorText,
		}
	}

	timers := make([]scheduler.TimerState, len(n.Timers))
	for i, t := range n.Timers {
		timers[i] = scheduler.TimerState{IntentHash: t.IntentHash, DeadlineNS: t.DeadlineNS}
	}

	w.RestoreState(scheduler.State{
		CellsRoot:     n.CellsRoot,
		ReducerStates: reducerStates,
		PlanInstances: instances,
		PlanOrder:     n.PlanOrder,
		NextPlanSeq:   n.NextPlanSeq,
		Timers:        timers,
	}, defs)

	eff.Ledger().LoadDump(n.BudgetLedger)
	return nil
}
