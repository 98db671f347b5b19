package plan

import "fmt"

// StepKind enumerates the DAG step kinds a plan definition can contain.
type StepKind string

const (
	StepRaiseEvent    StepKind = "raise_event"
	StepEmitEffect    StepKind = "emit_effect"
	StepAwaitReceipt  StepKind = "await_receipt"
	StepAwaitEvent    StepKind = "await_event"
	StepSpawnPlan     StepKind = "spawn_plan"
	StepAwaitPlan     StepKind = "await_plan"
	StepSpawnForEach  StepKind = "spawn_for_each"
	StepAwaitPlansAll StepKind = "await_plans_all"
	StepAssign        StepKind = "assign"
	StepEnd           StepKind = "end"
)

// StepStatus is a step's runtime disposition within a PlanInstance: an
// explicit state machine of Pending, WaitingReceipt, WaitingEvent,
// WaitingPlan, Skipped, Completed, plus Failed for a step whose execution
// returned an error. Readiness is recomputed on every pass and not stored,
// so StepReady is never assigned.
type StepStatus string

const (
	StepPending        StepStatus = "pending"
	StepReady          StepStatus = "ready"
	StepWaitingReceipt StepStatus = "waiting_receipt"
	StepWaitingEvent   StepStatus = "waiting_event"
	StepWaitingPlan    StepStatus = "waiting_plan"
	StepCompleted      StepStatus = "completed"
	StepSkipped        StepStatus = "skipped"
	StepFailed         StepStatus = "failed"
)

// Edge is a predecessor edge with an optional boolean guard expression;
// a nil Guard is an unconditional edge.
type Edge struct {
	From  string
	Guard Expr
}

// Step is one node of a plan's DAG.
type Step struct {
	ID           string
	Kind         StepKind
	Predecessors []Edge

	// Kind-specific fields; only the ones relevant to Kind are populated.
	EventSchema string
	Payload     Expr // raise_event payload, assign value

	EffectKind   string
	CapSlot      string
	Params       Expr

	ReceiptOf string // step id of the emit_effect this await_receipt waits on

	AwaitSchema string // await_event: schema name to match
	AwaitMatch  Expr   // await_event: optional match predicate over @event

	SubPlan   string // spawn_plan/spawn_for_each: plan definition name
	Input     Expr   // spawn_plan input expr, or per-item input expr for spawn_for_each
	Over      Expr   // spawn_for_each: list expression to iterate
	AwaitOf   []string // await_plan/await_plans_all: spawn step ids to wait on

	AssignVar string // assign: variable name
}

// Def is a parsed, immutable plan definition: a DAG of steps plus
// trigger matching rules for when it is spawned ambiently.
type Def struct {
	Name  string
	Steps map[string]*Step
	Order []string // insertion order, for deterministic iteration of the map

	// TriggerSchema/TriggerMatch: when non-empty, an event matching
	// TriggerSchema (and satisfying TriggerMatch, if set) spawns an
	// instance of this plan ambiently.
	TriggerSchema string
	TriggerMatch  Expr
}

// Validate checks the DAG shape: every predecessor/await reference
// resolves to a known step, and the graph is acyclic. Grounded on the
// teacher's DFS-recursion-stack cycle check.
func (d *Def) Validate() error {
	for id, s := range d.Steps {
		for _, e := range s.Predecessors {
			if _, ok := d.Steps[e.From]; !ok {
				return fmt.Errorf("plan %q: step %q references unknown predecessor %q", d.Name, id, e.From)
			}
		}
		for _, a := range s.AwaitOf {
			if _, ok := d.Steps[a]; !ok {
				return fmt.Errorf("plan %q: step %q awaits unknown step %q", d.Name, id, a)
			}
		}
		if s.ReceiptOf != "" {
			if _, ok := d.Steps[s.ReceiptOf]; !ok {
				return fmt.Errorf("plan %q: step %q awaits receipt of unknown step %q", d.Name, id, s.ReceiptOf)
			}
		}
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		inStack[id] = true
		for _, e := range d.Steps[id].Predecessors {
			if !visited[e.From] {
				if err := visit(e.From); err != nil {
					return err
				}
			} else if inStack[e.From] {
				return fmt.Errorf("plan %q: cycle detected involving step %q", d.Name, id)
			}
		}
		inStack[id] = false
		return nil
	}
	for id := range d.Steps {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
