package plan_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/plan"
)

func mustExpr(t *testing.T, src string) plan.Expr {
	t.Helper()
	e, err := plan.ParseExpr(src)
	require.NoError(t, err)
	return e
}

func TestDef_Validate_DetectsCycle(t *testing.T) {
	d := &plan.Def{
		Name: "cyclic",
		Steps: map[string]*plan.Step{
			"a": {ID: "a", Kind: plan.StepEnd, Predecessors: []plan.Edge{{From: "b"}}},
			"b": {ID: "b", Kind: plan.StepEnd, Predecessors: []plan.Edge{{From: "a"}}},
		},
	}
	err := d.Validate()
	require.Error(t, err)
}

func TestDef_Validate_UnknownPredecessor(t *testing.T) {
	d := &plan.Def{
		Name: "dangling",
		Steps: map[string]*plan.Step{
			"a": {ID: "a", Kind: plan.StepEnd, Predecessors: []plan.Edge{{From: "ghost"}}},
		},
	}
	err := d.Validate()
	require.Error(t, err)
}

// linearDef builds start -> mid -> end, exercising the simplest possible
// readiness fixed point.
func linearDef(t *testing.T) *plan.Def {
	t.Helper()
	d := &plan.Def{
		Name: "linear",
		Steps: map[string]*plan.Step{
			"start": {ID: "start", Kind: plan.StepAssign, AssignVar: "x", Payload: mustExpr(t, "1")},
			"mid":   {ID: "mid", Kind: plan.StepAssign, AssignVar: "x", Payload: mustExpr(t, "@var:x + 1"), Predecessors: []plan.Edge{{From: "start"}}},
			"end":   {ID: "end", Kind: plan.StepEnd, Payload: mustExpr(t, "@var:x"), Predecessors: []plan.Edge{{From: "mid"}}},
		},
	}
	require.NoError(t, d.Validate())
	return d
}

func TestEngine_Advance_RunsToCompletion(t *testing.T) {
	d := linearDef(t)
	e := plan.NewEngine(map[string]*plan.Def{d.Name: d}, nil, nil, nil, nil)
	pi := plan.NewInstance("pi-1", d, nil)

	progressed, err := e.Advance(pi)
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.True(t, pi.Ended)
	assert.Equal(t, 2.0, pi.Outcome)
}

func TestEngine_GuardedEdge_SkipsWhenFalse(t *testing.T) {
	d := &plan.Def{
		Name: "guarded",
		Steps: map[string]*plan.Step{
			"start": {ID: "start", Kind: plan.StepAssign, AssignVar: "flag", Payload: mustExpr(t, "false")},
			"onTrue": {ID: "onTrue", Kind: plan.StepAssign, AssignVar: "branch", Payload: mustExpr(t, `"true-branch"`),
				Predecessors: []plan.Edge{{From: "start", Guard: mustExpr(t, "@var:flag == true")}}},
			"onFalse": {ID: "onFalse", Kind: plan.StepAssign, AssignVar: "branch", Payload: mustExpr(t, `"false-branch"`),
				Predecessors: []plan.Edge{{From: "start", Guard: mustExpr(t, "@var:flag == false")}}},
			"end": {ID: "end", Kind: plan.StepEnd, Payload: mustExpr(t, "@var:branch"),
				Predecessors: []plan.Edge{{From: "onTrue"}, {From: "onFalse"}}},
		},
	}
	require.NoError(t, d.Validate())

	e := plan.NewEngine(map[string]*plan.Def{d.Name: d}, nil, nil, nil, nil)
	pi := plan.NewInstance("pi-1", d, nil)
	_, err := e.Advance(pi)
	require.NoError(t, err)

	assert.Equal(t, plan.StepSkipped, pi.Steps["onTrue"].Status)
	assert.Equal(t, plan.StepCompleted, pi.Steps["onFalse"].Status)
	assert.True(t, pi.Ended)
	assert.Equal(t, "false-branch", pi.Outcome)
}

type fakeEmitter struct {
	calls []string
	next  int
}

func (f *fakeEmitter) EmitPlanEffect(originPlan, instanceID, kind, capName string, params interface{}) (string, error) {
	f.next++
	handle := fmt.Sprintf("sha256:intent-%d", f.next)
	f.calls = append(f.calls, handle)
	return handle, nil
}

// TestEngine_AwaitPlan_DeliversByExactHandle exercises the single-handle
// case of await_plan: a step only wakes on the handle it is actually
// waiting for, never on an unrelated one.
func TestEngine_AwaitPlan_DeliversByExactHandle(t *testing.T) {
	d := &plan.Def{
		Name: "single-await",
		Steps: map[string]*plan.Step{
			"a": {ID: "a", Kind: plan.StepAwaitPlan, Payload: mustExpr(t, `"h-a"`)},
		},
	}
	require.NoError(t, d.Validate())

	e := plan.NewEngine(nil, nil, nil, nil, nil)
	pi := plan.NewInstance("pi", d, nil)
	_, err := e.Advance(pi)
	require.NoError(t, err)
	assert.Equal(t, plan.StepWaitingPlan, pi.Steps["a"].Status)

	results := map[string]interface{}{}
	delivered := e.DeliverPlanResult(pi, "h-other", "irrelevant", results)
	assert.False(t, delivered, "must not wake a step waiting on a different handle")

	delivered = e.DeliverPlanResult(pi, "h-a", "the-result", results)
	assert.True(t, delivered)
	assert.Equal(t, "the-result", pi.Steps["a"].Result)
}

// TestEngine_EmitEffect_UsesEffectEmitter confirms emit_effect steps
// dispatch through the injected EffectEmitter seam and bind the
// returned handle.
func TestEngine_EmitEffect_UsesEffectEmitter(t *testing.T) {
	d := &plan.Def{
		Name: "emits",
		Steps: map[string]*plan.Step{
			"call": {ID: "call", Kind: plan.StepEmitEffect, EffectKind: "http.request", CapSlot: "http", Params: mustExpr(t, `"payload"`)},
		},
	}
	require.NoError(t, d.Validate())

	emitter := &fakeEmitter{}
	e := plan.NewEngine(map[string]*plan.Def{d.Name: d}, emitter, nil, nil, nil)
	pi := plan.NewInstance("pi", d, nil)
	_, err := e.Advance(pi)
	require.NoError(t, err)

	assert.Len(t, emitter.calls, 1)
	assert.Equal(t, emitter.calls[0], pi.Steps["call"].Result)
}

func TestEngine_AwaitPlansAll_OrdersByRegistrationIndex(t *testing.T) {
	d := &plan.Def{
		Name: "awaitall",
		Steps: map[string]*plan.Step{
			"join": {ID: "join", Kind: plan.StepAwaitPlansAll, Payload: mustExpr(t, `@var:handles`)},
		},
	}
	require.NoError(t, d.Validate())

	e := plan.NewEngine(nil, nil, nil, nil, nil)
	pi := plan.NewInstance("pi", d, nil)
	pi.Vars["handles"] = []interface{}{"h-alpha", "h-beta", "h-gamma"}

	_, err := e.Advance(pi)
	require.NoError(t, err)
	require.Equal(t, plan.StepWaitingPlan, pi.Steps["join"].Status)

	results := map[string]interface{}{}
	// Arrive out of order: beta, gamma, alpha.
	assert.False(t, e.DeliverPlanResult(pi, "h-beta", "beta-result", results))
	results["h-beta"] = "beta-result"

	assert.False(t, e.DeliverPlanResult(pi, "h-gamma", "gamma-result", results))
	results["h-gamma"] = "gamma-result"

	assert.True(t, e.DeliverPlanResult(pi, "h-alpha", "alpha-result", results))
	ordered, ok := pi.Steps["join"].Result.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"alpha-result", "beta-result", "gamma-result"}, ordered)
}

func TestEngine_AwaitEvent_MatchPredicateFilters(t *testing.T) {
	d := &plan.Def{
		Name: "waitevt",
		Steps: map[string]*plan.Step{
			"w": {ID: "w", Kind: plan.StepAwaitEvent, AwaitSchema: "demo/Ping@1", AwaitMatch: mustExpr(t, `@event.id == "right"`)},
		},
	}
	require.NoError(t, d.Validate())
	e := plan.NewEngine(nil, nil, nil, nil, nil)
	pi := plan.NewInstance("pi", d, nil)
	_, err := e.Advance(pi)
	require.NoError(t, err)
	require.Equal(t, plan.StepWaitingEvent, pi.Steps["w"].Status)

	delivered, err := e.DeliverEvent(pi, "demo/Ping@1", map[string]interface{}{"id": "wrong"})
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = e.DeliverEvent(pi, "demo/Ping@1", map[string]interface{}{"id": "right"})
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, plan.StepCompleted, pi.Steps["w"].Status)
}

func TestRegistry_MatchTrigger(t *testing.T) {
	d := &plan.Def{
		Name:          "ontrigger",
		Steps:         map[string]*plan.Step{"end": {ID: "end", Kind: plan.StepEnd}},
		TriggerSchema: "demo/Start@1",
	}
	reg, err := plan.NewRegistry([]*plan.Def{d})
	require.NoError(t, err)

	names, err := reg.MatchTrigger("demo/Start@1", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ontrigger"}, names)

	names, err = reg.MatchTrigger("demo/Other@1", map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, names)
}
