// Package scheduler drives the single-threaded tick loop: one
// cooperative executor that fans external events out to reducers and
// plan triggers, runs ready plan steps, dispatches queued effects,
// delivers receipts, advances timers, and reports Quiescent once a
// cycle produces nothing new. The event loop follows the familiar
// single-goroutine coordinator shape, generalised here from a network
// control loop to a deterministic state machine loop.
package scheduler

import (
	"fmt"

	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
)

// Event is a domain event: a schema name plus its decoded payload.
type Event struct {
	Schema  string
	Payload interface{}
}

// ReducerBinding is the manifest-derived wiring for one reducer module:
// which module to run, which event schemas route to it, and (for keyed
// reducers) the expression that extracts a cell key from the event.
type ReducerBinding struct {
	Name           string
	ModuleHash     string
	Def            modulehost.ReducerModuleDef
	EventSchemas   map[string]bool
	KeyExpr        plan.Expr // nil => singleton reducer under key ""
	CtxVars        map[string]interface{}
}

// AdapterDispatcher is the externally owned adapter layer: it executes
// queued intents and returns a receipt per intent, in order.
// Implementations live in `adapters/*`; scheduler never constructs one.
type AdapterDispatcher interface {
	DispatchBatch(intents []effects.Intent) []effects.Receipt
}

type timerEntry struct {
	IntentHash string
	DeadlineNS int64
	Intent     effects.Intent
}

// World holds everything one kernel instance needs to tick: the journal,
// cell index, effect manager, module host, plan engine/registry, and the
// reducer/plan bindings assembled from the active manifest.
type World struct {
	Journal  journal.Journal
	Cells    *cellindex.Index
	Effects  *effects.Manager
	Host     *modulehost.Host
	PlanEng  *plan.Engine
	PlanReg  *plan.Registry
	Dispatch AdapterDispatcher

	Reducers map[string]*ReducerBinding

	cellsRoot       string
	reducerState    map[string]map[string]interface{} // reducer -> key -> decoded state
	planInstances   map[string]*plan.PlanInstance
	planOrder       []string // creation order
	planResults     map[string]interface{}

	pendingExternal []Event
	pendingSynth    []Event
	pendingReceipts []effects.Receipt
	timers          []timerEntry

	nextPlanSeq int
	nowNS       int64 // current tick's logical time, for cell last_active_ns

	internalTimers bool // true: Tick fires timer.set itself (default); false: forwarded to Dispatch
}

// NewWorld constructs an empty World over the given collaborators.
func NewWorld(j journal.Journal, cells *cellindex.Index, eff *effects.Manager, host *modulehost.Host, reg *plan.Registry, dispatch AdapterDispatcher) (*World, error) {
	root, err := cells.EmptyRoot()
	if err != nil {
		return nil, err
	}
	w := &World{
		Journal:       j,
		Cells:         cells,
		Effects:       eff,
		Host:          host,
		PlanReg:       reg,
		Dispatch:      dispatch,
		Reducers:      map[string]*ReducerBinding{},
		reducerState:  map[string]map[string]interface{}{},
		planInstances: map[string]*plan.PlanInstance{},
		planResults:   map[string]interface{}{},
		cellsRoot:     root,
		internalTimers: true,
	}
	w.PlanEng = plan.NewEngine(reg.Defs(), w, w, w, func() int64 { return w.nowNS })
	return w, nil
}

// RegisterReducer wires a reducer binding into the world.
func (w *World) RegisterReducer(b *ReducerBinding) { w.Reducers[b.Name] = b }

// SubmitEvent enqueues an externally observed domain event for the next
// tick's step 1.
func (w *World) SubmitEvent(schema string, payload interface{}) {
	w.pendingExternal = append(w.pendingExternal, Event{Schema: schema, Payload: payload})
}

// SubmitReceipt enqueues an effect receipt arriving asynchronously from an
// out-of-core adapter (e.g. a timer firing, or an MQ delivery, after the
// tick that dispatched its intent has already returned) for delivery at
// the next tick's step 5, after that tick's synchronous dispatch receipts.
func (w *World) SubmitReceipt(r effects.Receipt) {
	w.pendingReceipts = append(w.pendingReceipts, r)
}

// RaiseEvent implements plan.EventRaiser: a raise_event step journals
// the event and queues it for routing in the next tick's step 2 synth
// pass (raise_event steps run in step 3, after this tick's pass).
func (w *World) RaiseEvent(schema string, payload interface{}) error {
	if _, err := w.Journal.Append(journal.KindDomainEvent, map[string]interface{}{"schema": schema, "payload": payload}); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, "journal raised event", err)
	}
	w.pendingSynth = append(w.pendingSynth, Event{Schema: schema, Payload: payload})
	return nil
}

// EmitPlanEffect implements plan.EffectEmitter.
func (w *World) EmitPlanEffect(originPlan, planInstanceID, kind, capName string, params interface{}) (string, error) {
	intent, err := w.Effects.EnqueuePlanEffect(originPlan, planInstanceID, kind, capName, params)
	if err != nil {
		return "", err
	}
	return intent.IntentHash, nil
}

// GetReducerState returns the decoded state currently held for a
// reducer's key ("" for a singleton reducer), and whether anything has
// been recorded for it yet.
func (w *World) GetReducerState(name, key string) (interface{}, bool) {
	byKey, ok := w.reducerState[name]
	if !ok {
		return nil, false
	}
	v, ok := byKey[key]
	return v, ok
}

// GetPlanInstance returns a plan instance by ID, or nil if unknown.
func (w *World) GetPlanInstance(id string) *plan.PlanInstance { return w.planInstances[id] }

// CellsRoot returns the current root hash of the shared cell index.
func (w *World) CellsRoot() string { return w.cellsRoot }

// SetInternalTimers toggles whether Tick fires due timer.set intents
// itself (the default, fully deterministic under TickUntilIdle) or
// forwards them to Dispatch like any other effect, for a deployment that
// wants timer durability across process restarts from a real
// out-of-core clock (adapters/timer's redis-backed adapter).
func (w *World) SetInternalTimers(enabled bool) { w.internalTimers = enabled }

// SpawnPlan implements plan.PlanSpawner: it creates a new child
// PlanInstance immediately (no suspension), returning its instance ID
// as the handle used by await_plan/await_plans_all.
func (w *World) SpawnPlan(defName string, input interface{}) (string, error) {
	def := w.PlanReg.Lookup(defName)
	if def == nil {
		return "", fmt.Errorf("scheduler: unknown plan definition %q", defName)
	}
	w.nextPlanSeq++
	id := fmt.Sprintf("plan-%06d", w.nextPlanSeq)
	pi := plan.NewInstance(id, def, input)
	w.planInstances[id] = pi
	w.planOrder = append(w.planOrder, id)
	return id, nil
}
