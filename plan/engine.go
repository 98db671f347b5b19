package plan

import (
	"fmt"
	"sort"

	"github.com/smartcomputer-ai/agentos/ccbor"
)

// EffectEmitter is the narrow seam the Plan Engine uses to enqueue
// plan-origin effects via the Effect Manager, without importing the
// `effects` package directly.
type EffectEmitter interface {
	EmitPlanEffect(originPlan, planInstanceID, kind, capName string, params interface{}) (intentHash string, err error)
}

// EventRaiser appends a domain event to the journal and routes it to
// reducers/plan triggers.
type EventRaiser interface {
	RaiseEvent(schema string, payload interface{}) error
}

// PlanSpawner creates a new child plan instance and returns its handle
// (the plan-instance ID).
type PlanSpawner interface {
	SpawnPlan(defName string, input interface{}) (handle string, err error)
}

// StepState is one step's runtime disposition plus any bound result.
type StepState struct {
	Status     StepStatus
	Result     interface{}
	WaitHandle string   // await_receipt: intent hash; await_event: schema
	WaitOn     []string // await_plan/await_plans_all: outstanding handles
}

// PlanInstance is one running (or completed) instance of a Def.
type PlanInstance struct {
	ID      string
	DefName string
	Def     *Def `cbor:"-"` // reattached from the registry on snapshot restore

	Vars  map[string]interface{}
	Input interface{}

	Steps map[string]*StepState

	Ended     bool
	Failed    bool
	Outcome   interface{}
	Error     error  `cbor:"-"`
	ErrorText string // Error's message, for snapshot capture; Error itself is not serialisable
}

// NewInstance creates a fresh, all-Pending instance of def.
func NewInstance(id string, def *Def, input interface{}) *PlanInstance {
	steps := make(map[string]*StepState, len(def.Steps))
	for id := range def.Steps {
		steps[id] = &StepState{Status: StepPending}
	}
	return &PlanInstance{
		ID:      id,
		DefName: def.Name,
		Def:     def,
		Vars:    map[string]interface{}{},
		Input:   input,
		Steps:   steps,
	}
}

// Engine drives PlanInstances to their next quiescent point: it runs a
// deterministic fixed-point readiness algorithm, executing every step
// that becomes Ready until none remain ready.
type Engine struct {
	Defs     map[string]*Def
	Effects  EffectEmitter
	Events   EventRaiser
	Spawner  PlanSpawner
	NowNS    func() int64
}

// NewEngine constructs an Engine over a fixed set of plan definitions.
func NewEngine(defs map[string]*Def, effects EffectEmitter, events EventRaiser, spawner PlanSpawner, nowNS func() int64) *Engine {
	return &Engine{Defs: defs, Effects: effects, Events: events, Spawner: spawner, NowNS: nowNS}
}

// Advance runs the fixed-point readiness loop once: it executes every
// step that is Ready, possibly unblocking further steps, until no more
// steps become Ready in this pass. It returns true if any step changed
// state (progress was made).
func (e *Engine) Advance(pi *PlanInstance) (bool, error) {
	progressed := false
	for {
		ready, err := e.readySteps(pi)
		if err != nil {
			return progressed, err
		}
		if len(ready) == 0 {
			break
		}
		for _, id := range ready {
			if err := e.execStep(pi, id); err != nil {
				pi.Steps[id].Status = StepFailed
				pi.Ended = true
				pi.Failed = true
				pi.Error = err
				pi.ErrorText = err.Error()
				return true, err
			}
			progressed = true
		}
	}
	if e.isComplete(pi) && !pi.Ended {
		pi.Ended = true
	}
	return progressed, nil
}

// isComplete reports whether every step is Completed or Skipped.
func (e *Engine) isComplete(pi *PlanInstance) bool {
	for _, s := range pi.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			return false
		}
	}
	return true
}

// readySteps computes the set of step IDs that are Ready or
// self-resolving to Skipped this pass, in a fixed topological order
// derived from (step_id, predecessor_fingerprint), ties broken by
// step_id lexical order.
func (e *Engine) readySteps(pi *PlanInstance) ([]string, error) {
	type candidate struct {
		id          string
		fingerprint string
	}
	var candidates []candidate

	for id, step := range pi.Def.Steps {
		if pi.Steps[id].Status != StepPending {
			continue
		}
		disp, err := e.classify(pi, step)
		if err != nil {
			return nil, err
		}
		if disp != dispBlocked {
			candidates = append(candidates, candidate{id: id, fingerprint: e.fingerprint(pi, step)})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].fingerprint != candidates[j].fingerprint {
			return candidates[i].fingerprint < candidates[j].fingerprint
		}
		return candidates[i].id < candidates[j].id
	})

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

type disposition int

const (
	dispBlocked disposition = iota
	dispReady
	dispSkipped
)

// classify implements the engine's readiness rule: a step is
// Ready when every predecessor edge is satisfied — either the
// predecessor is Completed and its guard (if any) evaluates true, or
// the predecessor is Skipped. If the step has at least one live
// (Completed) predecessor and every live predecessor's guard evaluates
// false, the step itself is Skipped. Otherwise it is Blocked.
func (e *Engine) classify(pi *PlanInstance, step *Step) (disposition, error) {
	allTrueOrSkipped := true
	liveCount := 0
	liveFalseCount := 0

	for _, edge := range step.Predecessors {
		pred := pi.Steps[edge.From]
		if pred.Status == StepSkipped {
			continue
		}
		if pred.Status != StepCompleted {
			return dispBlocked, nil
		}
		liveCount++
		if edge.Guard == nil {
			continue
		}
		env := e.envFor(pi, step)
		v, err := Eval(edge.Guard, env)
		if err != nil {
			return dispBlocked, &EvalError{Expr: edge.Guard.String(), Reason: err.Error()}
		}
		b, ok := v.(bool)
		if !ok {
			return dispBlocked, &EvalError{Expr: edge.Guard.String(), Reason: "guard must evaluate to bool"}
		}
		if !b {
			allTrueOrSkipped = false
			liveFalseCount++
		}
	}

	if allTrueOrSkipped {
		return dispReady, nil
	}
	if liveCount > 0 && liveFalseCount == liveCount {
		return dispSkipped, nil
	}
	return dispBlocked, nil
}

// fingerprint derives the tie-break key for deterministic step
// ordering: the canonical hash of this step's predecessor IDs and
// their current statuses.
func (e *Engine) fingerprint(pi *PlanInstance, step *Step) string {
	type predSnapshot struct {
		From   string
		Status string
	}
	snaps := make([]predSnapshot, 0, len(step.Predecessors))
	for _, edge := range step.Predecessors {
		snaps = append(snaps, predSnapshot{From: edge.From, Status: string(pi.Steps[edge.From].Status)})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].From < snaps[j].From })

	h, _, err := ccbor.HashValue(snaps)
	if err != nil {
		// Fall back to the step id alone; fingerprint collisions only
		// affect tie-break ordering, never correctness.
		return step.ID
	}
	return h
}

// envFor builds the evaluation environment for step (nil when none is in
// scope, e.g. a fresh trigger match). @receipt is bound to the Result of
// step's nearest completed data-producing predecessor — await_receipt,
// await_plan, or await_plans_all — if any. Each of these would naturally
// want its own distinct bind target, but this engine has no named-local
// binding mechanism, so it reuses the one distinguished @receipt slot for
// whichever wait produced a value, since a step has at most one
// data-bearing predecessor in every plan this engine runs. A plan that
// needs the value again further downstream carries it forward with an
// `assign` step into a named `@var`.
func (e *Engine) envFor(pi *PlanInstance, step *Step) *Env {
	env := NewEnv()
	for k, v := range pi.Vars {
		env.Vars[k] = v
	}
	env.Input = pi.Input
	if e.NowNS != nil {
		env.NowNS = e.NowNS()
	}
	if step != nil {
		for _, edge := range step.Predecessors {
			predStep := pi.Def.Steps[edge.From]
			predState := pi.Steps[edge.From]
			if predState.Status != StepCompleted {
				continue
			}
			switch predStep.Kind {
			case StepAwaitReceipt, StepAwaitPlan, StepAwaitPlansAll:
				env.Receipt = predState.Result
			}
		}
	}
	return env
}

// execStep runs one Ready step to its next state. Steps whose kind
// cannot complete synchronously (await_receipt, await_event,
// await_plan, await_plans_all) transition to their Waiting* status and
// register a wait handle; all other kinds complete within this call.
func (e *Engine) execStep(pi *PlanInstance, id string) error {
	step := pi.Def.Steps[id]
	state := pi.Steps[id]
	env := e.envFor(pi, step)

	disp, err := e.classify(pi, step)
	if err != nil {
		return err
	}
	if disp == dispSkipped {
		state.Status = StepSkipped
		return nil
	}

	switch step.Kind {
	case StepRaiseEvent:
		payload, err := Eval(step.Payload, env)
		if err != nil {
			return err
		}
		if e.Events == nil {
			return fmt.Errorf("plan: no EventRaiser configured for raise_event step %q", id)
		}
		if err := e.Events.RaiseEvent(step.EventSchema, payload); err != nil {
			return err
		}
		state.Status = StepCompleted

	case StepEmitEffect:
		params, err := Eval(step.Params, env)
		if err != nil {
			return err
		}
		if e.Effects == nil {
			return fmt.Errorf("plan: no EffectEmitter configured for emit_effect step %q", id)
		}
		handle, err := e.Effects.EmitPlanEffect(pi.DefName, pi.ID, step.EffectKind, step.CapSlot, params)
		if err != nil {
			return err
		}
		state.Result = handle
		state.Status = StepCompleted

	case StepAwaitReceipt:
		var text string
		if step.ReceiptOf != "" {
			// The common case: wait on the intent handle its own
			// emit_effect predecessor produced, rather than re-deriving it
			// through an expression.
			refState := pi.Steps[step.ReceiptOf]
			s, ok := refState.Result.(string)
			if !ok {
				return fmt.Errorf("plan: await_receipt step %q: referenced step %q has no intent handle result", id, step.ReceiptOf)
			}
			text = s
		} else {
			handle, err := Eval(step.Payload, env)
			if err != nil {
				return err
			}
			s, ok := handle.(string)
			if !ok {
				return fmt.Errorf("plan: await_receipt step %q: handle expression did not evaluate to text", id)
			}
			text = s
		}
		state.WaitHandle = text
		state.Status = StepWaitingReceipt

	case StepAwaitEvent:
		state.WaitHandle = step.AwaitSchema
		state.Status = StepWaitingEvent

	case StepSpawnPlan:
		input, err := Eval(step.Input, env)
		if err != nil {
			return err
		}
		if e.Spawner == nil {
			return fmt.Errorf("plan: no PlanSpawner configured for spawn_plan step %q", id)
		}
		handle, err := e.Spawner.SpawnPlan(step.SubPlan, input)
		if err != nil {
			return err
		}
		state.Result = handle
		state.Status = StepCompleted

	case StepSpawnForEach:
		items, err := Eval(step.Over, env)
		if err != nil {
			return err
		}
		list, ok := items.([]interface{})
		if !ok {
			return fmt.Errorf("plan: spawn_for_each step %q: iterable expression did not evaluate to a list", id)
		}
		if e.Spawner == nil {
			return fmt.Errorf("plan: no PlanSpawner configured for spawn_for_each step %q", id)
		}
		handles := make([]interface{}, 0, len(list))
		for _, item := range list {
			itemEnv := e.envFor(pi, step)
			itemEnv.Vars["__item__"] = item
			input := interface{}(item)
			if step.Input != nil {
				input, err = Eval(step.Input, itemEnv)
				if err != nil {
					return err
				}
			}
			handle, err := e.Spawner.SpawnPlan(step.SubPlan, input)
			if err != nil {
				return err
			}
			handles = append(handles, handle)
		}
		state.Result = handles
		state.Status = StepCompleted

	case StepAwaitPlan, StepAwaitPlansAll:
		var handles []string
		if len(step.AwaitOf) > 0 {
			// The common case: wait on the handle(s) produced by named
			// spawn_plan/spawn_for_each steps directly, rather than
			// re-deriving them through an expression over @var.
			for _, refID := range step.AwaitOf {
				refState := pi.Steps[refID]
				switch v := refState.Result.(type) {
				case string:
					handles = append(handles, v)
				case []interface{}:
					for _, h := range v {
						s, ok := h.(string)
						if !ok {
							return fmt.Errorf("plan: %s step %q: referenced step %q produced a non-text handle", step.Kind, id, refID)
						}
						handles = append(handles, s)
					}
				default:
					return fmt.Errorf("plan: %s step %q: referenced step %q has no handle result", step.Kind, id, refID)
				}
			}
		} else {
			handle, err := Eval(step.Payload, env)
			if err != nil {
				return err
			}
			switch v := handle.(type) {
			case string:
				handles = []string{v}
			case []interface{}:
				for _, h := range v {
					s, ok := h.(string)
					if !ok {
						return fmt.Errorf("plan: %s step %q: handle list contains a non-text element", step.Kind, id)
					}
					handles = append(handles, s)
				}
			default:
				return fmt.Errorf("plan: %s step %q: handle expression did not evaluate to text or a list of text", step.Kind, id)
			}
		}
		state.WaitOn = handles
		state.Status = StepWaitingPlan

	case StepAssign:
		v, err := Eval(step.Payload, env)
		if err != nil {
			return err
		}
		pi.Vars[step.AssignVar] = v
		state.Status = StepCompleted

	case StepEnd:
		var result interface{}
		if step.Payload != nil {
			v, err := Eval(step.Payload, env)
			if err != nil {
				return err
			}
			result = v
		}
		pi.Outcome = result
		pi.Ended = true
		state.Status = StepCompleted

	default:
		return fmt.Errorf("plan: unknown step kind %q for step %q", step.Kind, id)
	}

	return nil
}

// DeliverReceipt wakes steps waiting on the given intent handle, binds
// the receipt into @receipt for this instance, and transitions the
// step to Completed. Callers should follow with Advance to propagate.
func (e *Engine) DeliverReceipt(pi *PlanInstance, handle string, receipt interface{}) bool {
	delivered := false
	for _, state := range pi.Steps {
		if state.Status == StepWaitingReceipt && state.WaitHandle == handle {
			state.Result = receipt
			state.Status = StepCompleted
			delivered = true
		}
	}
	return delivered
}

// DeliverEvent wakes steps waiting on schema, subject to an optional
// match predicate evaluated with @event bound to payload.
func (e *Engine) DeliverEvent(pi *PlanInstance, schema string, payload interface{}) (bool, error) {
	delivered := false
	for id, state := range pi.Steps {
		if state.Status != StepWaitingEvent || state.WaitHandle != schema {
			continue
		}
		step := pi.Def.Steps[id]
		if step.AwaitMatch != nil {
			env := e.envFor(pi, step)
			env.Event = payload
			v, err := Eval(step.AwaitMatch, env)
			if err != nil {
				return delivered, err
			}
			ok, _ := v.(bool)
			if !ok {
				continue
			}
		}
		state.Result = payload
		state.Status = StepCompleted
		delivered = true
	}
	return delivered, nil
}

// DeliverPlanResult wakes await_plan/await_plans_all steps once every
// handle they wait on has completed; results are ordered by input index
// (the order handles were registered in WaitOn).
func (e *Engine) DeliverPlanResult(pi *PlanInstance, handle string, result interface{}, results map[string]interface{}) bool {
	delivered := false
	for _, state := range pi.Steps {
		if state.Status != StepWaitingPlan {
			continue
		}
		if indexOf(state.WaitOn, handle) < 0 {
			continue
		}
		allDone := true
		ordered := make([]interface{}, len(state.WaitOn))
		for i, h := range state.WaitOn {
			if h == handle {
				ordered[i] = result
				continue
			}
			v, ok := results[h]
			if !ok {
				allDone = false
				break
			}
			ordered[i] = v
		}
		if !allDone {
			continue
		}
		if len(state.WaitOn) == 1 {
			state.Result = ordered[0]
		} else {
			state.Result = ordered
		}
		state.Status = StepCompleted
		delivered = true
	}
	return delivered
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
