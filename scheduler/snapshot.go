package scheduler

import "github.com/smartcomputer-ai/agentos/plan"

// State is the scheduler-owned subset of a kernel snapshot: everything
// the snapshot package cannot see directly because it lives behind
// World's unexported fields.
type State struct {
	CellsRoot     string
	ReducerStates map[string]map[string]interface{} // reducer -> key -> decoded state
	PlanInstances []*plan.PlanInstance
	PlanOrder     []string
	NextPlanSeq   int
	Timers        []TimerState
}

// TimerState is one in-flight internal timer, for snapshot capture.
type TimerState struct {
	IntentHash string
	DeadlineNS int64
}

// CaptureState gathers everything snapshot.Create needs from this World.
// Must only be called between ticks (pendingExternal/pendingSynth are
// assumed drained, a safe-point requirement).
func (w *World) CaptureState() State {
	timers := make([]TimerState, len(w.timers))
	for i, t := range w.timers {
		timers[i] = TimerState{IntentHash: t.IntentHash, DeadlineNS: t.DeadlineNS}
	}
	instances := make([]*plan.PlanInstance, 0, len(w.planInstances))
	for _, id := range w.planOrder {
		instances = append(instances, w.planInstances[id])
	}
	return State{
		CellsRoot:     w.cellsRoot,
		ReducerStates: w.reducerState,
		PlanInstances: instances,
		PlanOrder:     append([]string(nil), w.planOrder...),
		NextPlanSeq:   w.nextPlanSeq,
		Timers:        timers,
	}
}

// RestoreState rehydrates a World from a previously captured State plus
// the def registry needed to reattach each PlanInstance's Def pointer
// (plan.PlanInstance.Def is not itself serialised — see snapshot.Restore).
func (w *World) RestoreState(s State, defs map[string]*plan.Def) {
	w.cellsRoot = s.CellsRoot
	w.reducerState = s.ReducerStates
	w.nextPlanSeq = s.NextPlanSeq
	w.planOrder = append([]string(nil), s.PlanOrder...)
	w.planInstances = make(map[string]*plan.PlanInstance, len(s.PlanInstances))
	for _, pi := range s.PlanInstances {
		if def, ok := defs[pi.DefName]; ok {
			pi.Def = def
		}
		w.planInstances[pi.ID] = pi
	}
	w.timers = make([]timerEntry, len(s.Timers))
	for i, t := range s.Timers {
		w.timers[i] = timerEntry{IntentHash: t.IntentHash, DeadlineNS: t.DeadlineNS}
	}
}
